package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// minSchemaVersion 签到唯一键（000002）与上一轮密钥列（000003）是服务运行的前提
const minSchemaVersion = 3

// RunMigrations 执行数据库迁移
// 自动检测当前版本并应用所有未执行的迁移；dirty 或版本不足时拒绝启动
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("加载迁移文件失败: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("创建迁移驱动失败: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("初始化迁移实例失败: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("执行迁移失败: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("读取迁移版本失败: %w", err)
	}
	if err := checkSchemaVersion(version, dirty); err != nil {
		return err
	}

	logger.Info("数据库迁移完成", zap.Uint("version", version))
	return nil
}

func checkSchemaVersion(version uint, dirty bool) error {
	if dirty {
		return fmt.Errorf("数据库迁移处于 dirty 状态 (version=%d)，需人工修复后重启", version)
	}
	if version < minSchemaVersion {
		return fmt.Errorf("数据库结构版本 %d 低于要求的 %d", version, minSchemaVersion)
	}
	return nil
}
