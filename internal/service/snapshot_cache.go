package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"virtual-attendance/internal/model"
	"virtual-attendance/pkg/redis"
)

const snapshotKeyPrefix = "session:snap:" // hash{v, data}

// snapshotCache 会话快照的 Redis 写穿缓存
// 写入按快照 version 条件执行，迟到的旧快照不会覆盖新快照
// rdb 为 nil 时所有操作为空操作，读路径直接回源数据库
type snapshotCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func newSnapshotCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *snapshotCache {
	return &snapshotCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *snapshotCache) get(ctx context.Context, sessionID string) (*model.SessionSnapshot, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	var snap model.SessionSnapshot
	if err := c.rdb.GetVersionedJSON(ctx, snapshotKeyPrefix+sessionID, &snap); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("读取会话快照缓存失败", zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil, false
	}
	return &snap, true
}

// put 写入失败时删除旧值，避免读到过期快照
func (c *snapshotCache) put(ctx context.Context, snap *model.SessionSnapshot) {
	if c == nil || c.rdb == nil {
		return
	}
	written, err := c.rdb.SetVersionedJSON(ctx, snapshotKeyPrefix+snap.SessionID, snap, snap.Version, c.ttl)
	if err != nil {
		c.logger.Warn("写入会话快照缓存失败", zap.String("session_id", snap.SessionID), zap.Error(err))
		c.invalidate(ctx, snap.SessionID)
		return
	}
	if !written {
		c.logger.Debug("缓存中已有更新的会话快照", zap.String("session_id", snap.SessionID), zap.Int("version", snap.Version))
	}
}

// invalidate 清除快照内容，保留版本号
func (c *snapshotCache) invalidate(ctx context.Context, sessionID string) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.DropVersionedJSON(ctx, snapshotKeyPrefix+sessionID); err != nil {
		c.logger.Error("删除会话快照缓存失败", zap.String("session_id", sessionID), zap.Error(err))
	}
}
