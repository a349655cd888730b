// Package sweep 对一组金额与风险偏好批量请求推荐，并汇总权重、金额与主要配置。
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"invest-recommender/internal/api"
	"invest-recommender/internal/config"
	"invest-recommender/internal/view"
)

// Options 控制一次扫描。
type Options struct {
	Amounts     []float64
	Risks       []api.RiskProfile
	Symbols     []string
	Concurrency int
	Top         int
	Prepare     bool
}

// OptionsFromConfig 将配置转换为扫描参数。
func OptionsFromConfig(cfg config.SweepConfig) (Options, error) {
	opts := Options{
		Amounts:     append([]float64(nil), cfg.Amounts...),
		Symbols:     append([]string(nil), cfg.Symbols...),
		Concurrency: cfg.Concurrency,
		Top:         cfg.Top,
		Prepare:     cfg.Prepare,
	}
	for _, raw := range cfg.Risks {
		risk, err := api.ParseRiskProfile(raw)
		if err != nil {
			return Options{}, fmt.Errorf("sweep: %w", err)
		}
		opts.Risks = append(opts.Risks, risk)
	}
	return opts, nil
}

// Entry 为单个金额与风险组合的结果。
type Entry struct {
	Amount    float64
	Risk      api.RiskProfile
	WeightSum float64
	DollarSum float64
	Top       []view.Allocation
	Weights   map[string]float64
	Err       error
}

// Report 按金额优先、风险次之的顺序保存全部结果。
type Report struct {
	Prepared bool
	Entries  []Entry
}

// Failed 返回失败的组合数量。
func (r *Report) Failed() int {
	n := 0
	for _, e := range r.Entries {
		if e.Err != nil {
			n++
		}
	}
	return n
}

// Runner 执行扫描。
type Runner struct {
	client api.Service
	logger *zap.Logger
}

// NewRunner 创建扫描器。
func NewRunner(client api.Service, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: client, logger: logger}
}

// Run 先按需准备数据，再并发请求全部组合。单个组合失败不影响其他组合，
// 所有失败合并后随报告一起返回。
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	if len(opts.Amounts) == 0 || len(opts.Risks) == 0 {
		return nil, errors.New("sweep: 金额与风险偏好不能为空")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	report := &Report{}
	if opts.Prepare {
		report.Prepared = r.prepare(ctx, opts.Symbols)
	}

	report.Entries = make([]Entry, 0, len(opts.Amounts)*len(opts.Risks))
	for _, amount := range opts.Amounts {
		for _, risk := range opts.Risks {
			report.Entries = append(report.Entries, Entry{Amount: amount, Risk: risk})
		}
	}

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i := range report.Entries {
		entry := &report.Entries[i]
		g.Go(func() error {
			r.runEntry(ctx, entry, opts)
			return nil
		})
	}
	_ = g.Wait()

	var err error
	for _, e := range report.Entries {
		if e.Err != nil {
			err = multierr.Append(err, fmt.Errorf("risk=%s amount=%v: %w", e.Risk, e.Amount, e.Err))
		}
	}
	if err != nil {
		r.logger.Warn("部分组合推荐失败", zap.Int("failed", report.Failed()), zap.Int("total", len(report.Entries)))
		return report, fmt.Errorf("sweep: %w", err)
	}
	r.logger.Info("扫描完成", zap.Int("total", len(report.Entries)))
	return report, nil
}

// prepare 依次回填历史数据并重算信号，失败只记录日志。
func (r *Runner) prepare(ctx context.Context, symbols []string) bool {
	ok := true
	if err := r.client.BackfillSignals(ctx, symbols); err != nil {
		r.logger.Warn("回填历史数据失败", zap.Error(err))
		ok = false
	}
	if err := r.client.ComputeSignals(ctx, symbols); err != nil {
		r.logger.Warn("重算信号失败", zap.Error(err))
		ok = false
	}
	return ok
}

func (r *Runner) runEntry(ctx context.Context, entry *Entry, opts Options) {
	res, err := r.client.Recommend(ctx, entry.Amount, entry.Risk, opts.Symbols)
	if err == nil && res == nil {
		err = errors.New("服务端返回空结果")
	}
	if err != nil {
		entry.Err = err
		r.logger.Debug("组合推荐失败", zap.String("risk", string(entry.Risk)), zap.Float64("amount", entry.Amount), zap.Error(err))
		return
	}

	entry.WeightSum = round(view.WeightSum(res), 6)
	entry.DollarSum = round(view.DollarSum(res), 2)
	entry.Top = view.TopAllocations(res, opts.Top)
	entry.Weights = res.AllocationWeights
}

func round(v float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
