// yoklamactl 签到数据运维工具
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"go.uber.org/zap"

	"virtual-attendance/config"
	"virtual-attendance/internal/repository"
	"virtual-attendance/internal/service"
	"virtual-attendance/pkg/database"
	applogger "virtual-attendance/pkg/logger"
	"virtual-attendance/pkg/metrics"
)

func main() {
	cfg, err := config.Load(os.Getenv("ATTEND_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 运维工具不连接 Redis：修复提升轮次后快照缓存按 TTL 过期
	repo := repository.NewRepository(db)
	cli := &commandLine{
		auditSvc: service.NewAuditService(cfg, repo, nil, metrics.New(), logger),
		out:      os.Stdout,
	}
	if err := cli.run(ctx, os.Args); err != nil {
		if !errors.Is(err, errHelp) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}
}
