package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"invest-recommender/internal/api"
	"invest-recommender/internal/config"
	"invest-recommender/internal/log"
	"invest-recommender/internal/monitor"
	"invest-recommender/internal/session"
	"invest-recommender/internal/store"
)

const (
	healthCheckTimeout = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// App 聚合核心依赖并驱动会话生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 启动会话、控制接口与定时刷新，阻塞直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("推荐客户端已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("endpoint", a.cfg.API.Endpoint()),
	)

	client, err := api.NewHTTPClient(a.cfg.API, log.Component(a.logger, "api"))
	if err != nil {
		return err
	}
	a.checkHealth(ctx, client)

	journal, err := monitor.NewService(a.store, log.Component(a.logger, "monitor"))
	if err != nil {
		return err
	}

	sess, err := session.NewStore(client, sessionOptions(a.cfg.Session, journal), log.Component(a.logger, "session"))
	if err != nil {
		return err
	}
	defer sess.Close()

	sess.Start()

	refresher, err := newRefreshScheduler(a.cfg.Session.UniverseRefresh, sess, journal, log.Component(a.logger, "scheduler"))
	if err != nil {
		return err
	}
	if refresher != nil {
		refresher.Start(ctx)
		defer refresher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		srv := NewServer(ServerOptions{
			Port:           a.cfg.Server.Port,
			AllowedOrigins: a.cfg.Server.AllowedOrigins,
			Session:        sess,
			Journal:        journal,
			Logger:         log.Component(a.logger, "server"),
		})

		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("控制接口异常: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Warn("关闭控制接口失败", zap.Error(err))
			}
			return nil
		})
	} else {
		g.Go(func() error {
			<-gctx.Done()
			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", ctxErr)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

func (a *App) checkHealth(ctx context.Context, client *api.HTTPClient) {
	hctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := client.Health(hctx); err != nil {
		a.logger.Warn("推荐服务暂不可达", zap.Error(err))
		return
	}
	a.logger.Info("推荐服务连接正常")
}

func sessionOptions(cfg config.SessionConfig, recorder session.Recorder) session.Options {
	opts := session.DefaultOptions()
	opts.Amount = cfg.Amount
	if risk := strings.ToLower(strings.TrimSpace(cfg.Risk)); risk != "" {
		opts.Risk = api.RiskProfile(risk)
	}
	opts.SymbolsText = cfg.Symbols
	if cfg.UniverseCount > 0 {
		opts.UniverseCount = cfg.UniverseCount
	}
	if cfg.LookbackDays > 0 {
		opts.LookbackDays = cfg.LookbackDays
	}
	opts.Recorder = recorder
	return opts
}
