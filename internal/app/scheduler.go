package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"invest-recommender/internal/monitor"
	"invest-recommender/internal/session"
)

// refreshScheduler 按 cron 表达式定时刷新 universe。
type refreshScheduler struct {
	cron     *cron.Cron
	schedule string
	session  *session.Store
	journal  *monitor.Service
	logger   *zap.Logger
	ctx      context.Context
}

// newRefreshScheduler 在 schedule 为空时返回 nil。
func newRefreshScheduler(schedule string, sess *session.Store, journal *monitor.Service, logger *zap.Logger) (*refreshScheduler, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &refreshScheduler{
		cron:     cron.New(),
		schedule: schedule,
		session:  sess,
		journal:  journal,
		logger:   logger,
		ctx:      context.Background(),
	}
	if _, err := s.cron.AddFunc(schedule, s.refresh); err != nil {
		return nil, fmt.Errorf("scheduler: 注册定时刷新失败: %w", err)
	}
	return s, nil
}

// Start 启动调度，ctx 用于等待刷新结果。
func (s *refreshScheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("定时刷新已启动", zap.String("schedule", s.schedule))
}

// Stop 停止调度并等待正在执行的任务结束。
func (s *refreshScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("定时刷新已停止")
}

func (s *refreshScheduler) refresh() {
	op := s.session.ListUniverse()
	if err := op.Wait(s.ctx); err != nil {
		s.logger.Warn("定时刷新 universe 失败", zap.String("op_id", op.ID), zap.Error(err))
		if s.journal != nil {
			s.journal.RecordError(s.ctx, "定时刷新 universe 失败", err, map[string]interface{}{
				"op_id": op.ID,
				"kind":  string(op.Kind),
			})
		}
		return
	}
	s.logger.Debug("定时刷新 universe 完成", zap.String("op_id", op.ID))
}
