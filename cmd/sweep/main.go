package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"invest-recommender/internal/api"
	"invest-recommender/internal/config"
	"invest-recommender/internal/log"
	"invest-recommender/internal/sweep"
)

func main() {
	var (
		configPath string
		skipPrep   bool
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.BoolVar(&skipPrep, "skip-prepare", false, "跳过回填与信号重算")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	opts, err := sweep.OptionsFromConfig(cfg.Sweep)
	if err != nil {
		logger.Error("扫描参数无效", zap.Error(err))
		os.Exit(1)
	}
	if skipPrep {
		opts.Prepare = false
	}

	client, err := api.NewHTTPClient(cfg.API, log.Component(logger, "api"))
	if err != nil {
		logger.Error("初始化推荐服务客户端失败", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, runErr := sweep.NewRunner(client, log.Component(logger, "sweep")).Run(ctx, opts)
	if report != nil {
		if err := report.Write(os.Stdout); err != nil {
			logger.Error("输出报告失败", zap.Error(err))
		}
	}
	if runErr != nil {
		logger.Error("扫描未全部成功", zap.Error(runErr))
		os.Exit(1)
	}
}
