package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"virtual-attendance/pkg/database"
	pkgerrors "virtual-attendance/pkg/errors"
)

// Clock 可注入的时间源
type Clock func() time.Time

// withStorageTimeout 为单次存储调用设置超时；timeout<=0 时不设置
func withStorageTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// validID 主键均为 UUID；非法格式直接按不存在处理，不下发到数据库
func validID(id string) bool {
	return uuid.Validate(id) == nil
}

// isNotFound 判断 gorm 未找到记录
func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// storageError 归类存储错误；冲突在调用方重试耗尽后统一转为超时
func storageError(err error) error {
	return database.ClassifyError(err)
}

// exhausted 重试耗尽后的冲突对外表现为 ErrStorageTimeout
func exhausted(err error) error {
	if errors.Is(err, pkgerrors.ErrStorageConflict) {
		return errors.Join(pkgerrors.ErrStorageTimeout, err)
	}
	return err
}
