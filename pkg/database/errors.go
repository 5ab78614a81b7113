package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	pkgerrors "virtual-attendance/pkg/errors"
)

// PostgreSQL 错误码
const (
	PgErrUniqueViolation      = "23505" // unique_violation
	PgErrSerializationFailure = "40001" // serialization_failure
	PgErrDeadlockDetected     = "40P01" // deadlock_detected
	PgErrLockNotAvailable     = "55P03" // lock_not_available
	PgErrQueryCanceled        = "57014" // query_canceled（statement_timeout）
	PgErrInvalidText          = "22P02" // invalid_text_representation（如非法 UUID）
)

// ClassifyError 将驱动层错误归类为 ErrStorageConflict / ErrStorageTimeout / ErrValidation
// 无法归类的错误原样返回；context.Canceled 表示调用方放弃，不做转换
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pkgerrors.ErrStorageConflict) || errors.Is(err, pkgerrors.ErrStorageTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", pkgerrors.ErrStorageTimeout, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case PgErrUniqueViolation, PgErrSerializationFailure, PgErrDeadlockDetected, PgErrLockNotAvailable:
			return fmt.Errorf("%w: %w", pkgerrors.ErrStorageConflict, err)
		case PgErrQueryCanceled:
			return fmt.Errorf("%w: %w", pkgerrors.ErrStorageTimeout, err)
		case PgErrInvalidText:
			return fmt.Errorf("%w: %w", pkgerrors.ErrValidation, err)
		}
		return err
	}

	// SQLite（测试环境）写锁竞争
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return fmt.Errorf("%w: %w", pkgerrors.ErrStorageConflict, err)
	}
	return err
}
