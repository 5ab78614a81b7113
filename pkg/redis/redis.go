package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"virtual-attendance/config"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("缓存未命中")

// Client Redis 客户端封装
// 当前用于会话快照缓存与扫码限流
type Client struct {
	rdb    *goredis.Client
	logger *zap.Logger
}

// NewClient 创建 Redis 连接并执行 Ping 健康检查
func NewClient(cfg *config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Addr))

	return &Client{rdb: rdb, logger: logger}, nil
}

// Wrap 包装已有的 go-redis 客户端（测试中配合 miniredis 使用）
func Wrap(rdb *goredis.Client, logger *zap.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

// ── 带版本的 JSON 缓存 ──
// 存储为 hash{v, data}：v 只增不减，data 为 JSON

// setIfNewerScript 仅当新版本大于已存版本，或版本相同但 data 已被清除时写入
var setIfNewerScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'v')
if cur then
  local n = tonumber(ARGV[1])
  local c = tonumber(cur)
  if c > n or (c == n and redis.call('HEXISTS', KEYS[1], 'data') == 1) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'data', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// SetVersionedJSON 按版本条件写入，返回是否实际写入
func (c *Client) SetVersionedJSON(ctx context.Context, key string, v any, version int, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, err
	}
	n, err := setIfNewerScript.Run(ctx, c.rdb, []string{key}, version, string(raw), ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetVersionedJSON 读取 SetVersionedJSON 写入的值，不存在或已失效时返回 ErrCacheMiss
func (c *Client) GetVersionedJSON(ctx context.Context, key string, dst any) error {
	raw, err := c.rdb.HGet(ctx, key, "data").Bytes()
	if errors.Is(err, goredis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// DropVersionedJSON 清除 data 但保留版本号，阻止更旧的版本在失效后回写
func (c *Client) DropVersionedJSON(ctx context.Context, key string) error {
	return c.rdb.HDel(ctx, key, "data").Err()
}

// ── 速率限制 ──

// CheckRateLimit 有序集合滑动窗口：窗口内请求数未超过 limit 时返回 true
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window).UnixMicro()

	pipe := c.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, key, goredis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return count.Val() <= int64(limit), nil
}

// Close 关闭 Redis 连接
func (c *Client) Close() error {
	return c.rdb.Close()
}
