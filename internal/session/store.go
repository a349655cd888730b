package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"invest-recommender/internal/api"
	"invest-recommender/internal/request"
	"invest-recommender/internal/view"
)

var (
	// ErrClosed 表示会话已结束。
	ErrClosed = errors.New("session: 会话已关闭")

	errEmptyResponse = errors.New("session: 服务端返回空结果")
)

// Store 持有会话状态。所有状态迁移都在同一个事件循环 goroutine 中按到达顺序执行：
// 操作发起时的迁移同步完成，远程调用在独立 goroutine 中进行，完成后把结果投递回事件循环，
// 因此后发起但先完成的操作会先提交。loading 与 error 在所有操作之间共享，最后提交者生效。
type Store struct {
	client       api.Service
	recorder     Recorder
	logger       *zap.Logger
	lookbackDays int

	ctx     context.Context
	cancel  context.CancelFunc
	inbox   chan message
	quit    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	startOnce sync.Once
	initial   *Operation

	current atomic.Pointer[State]

	subsMu  sync.Mutex
	subs    []subscriber
	nextSub uint64

	// 仅由事件循环访问
	state State
}

type subscriber struct {
	id uint64
	fn func(State)
}

type message interface{}

type startMsg struct {
	op  *Operation
	ack chan struct{}
}

type resultMsg struct {
	op      *Operation
	payload any
	err     error
}

type editMsg struct {
	apply func(*State) error
	reply chan error
}

// NewStore 创建会话并启动事件循环。
func NewStore(client api.Service, opts Options, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("session: client 不能为空")
	}
	if !opts.Risk.Valid() {
		return nil, fmt.Errorf("session: 无效的风险偏好 %q", opts.Risk)
	}
	if opts.UniverseCount <= 0 {
		opts.UniverseCount = api.DefaultUniverseCount
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = api.DefaultLookbackDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		client:       client,
		recorder:     opts.Recorder,
		logger:       logger,
		lookbackDays: opts.LookbackDays,
		ctx:          ctx,
		cancel:       cancel,
		inbox:        make(chan message),
		quit:         make(chan struct{}),
		stopped:      make(chan struct{}),
		state:        opts.initialState(),
	}
	snapshot := s.state
	s.current.Store(&snapshot)

	go s.loop()
	return s, nil
}

// Start 标记会话开始：首次调用时自动发起一次 universe 刷新，重复调用返回同一操作。
func (s *Store) Start() *Operation {
	s.startOnce.Do(func() {
		s.initial = s.dispatch(KindListUniverse)
	})
	return s.initial
}

// Close 结束会话，未完成的操作以 ErrClosed 结束。可重复调用。
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.cancel()
		<-s.stopped
		s.logger.Info("会话已关闭")
	})
}

// Snapshot 返回最近一次提交的状态。
func (s *Store) Snapshot() State {
	return *s.current.Load()
}

// Subscribe 注册状态监听，每次提交后在事件循环中按提交顺序回调。
// 回调不得同步调用 Store 的操作或编辑方法，否则会阻塞事件循环。
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// Recommend 以当前输入发起推荐。
func (s *Store) Recommend() *Operation { return s.dispatch(KindRecommend) }

// Backfill 对当前标的发起历史数据回填。
func (s *Store) Backfill() *Operation { return s.dispatch(KindBackfill) }

// Compute 对当前标的发起信号重算。
func (s *Store) Compute() *Operation { return s.dispatch(KindCompute) }

// BuildUniverse 按当前 universe 数量发起构建，成功后自动刷新一次 universe。
func (s *Store) BuildUniverse() *Operation { return s.dispatch(KindBuildUniverse) }

// ListUniverse 刷新 universe，失败时静默。
func (s *Store) ListUniverse() *Operation { return s.dispatch(KindListUniverse) }

// Trigger 按类型发起操作。
func (s *Store) Trigger(kind Kind) (*Operation, error) {
	switch kind {
	case KindRecommend, KindBackfill, KindCompute, KindBuildUniverse, KindListUniverse:
		return s.dispatch(kind), nil
	default:
		return nil, fmt.Errorf("session: 未知的操作类型 %q", kind)
	}
}

// SetAmount 修改投资金额，不做正数校验。
func (s *Store) SetAmount(amount float64) error {
	return s.edit(func(st *State) error {
		st.Amount = amount
		return nil
	})
}

// SetRisk 修改风险偏好。
func (s *Store) SetRisk(risk api.RiskProfile) error {
	if !risk.Valid() {
		return fmt.Errorf("%w: %q", request.ErrInvalidRisk, string(risk))
	}
	return s.edit(func(st *State) error {
		st.Risk = risk
		return nil
	})
}

// SetSymbolsText 修改原始标的输入。
func (s *Store) SetSymbolsText(text string) error {
	return s.edit(func(st *State) error {
		st.SymbolsText = text
		return nil
	})
}

// SetUniverseCount 修改构建 universe 时的标的数量。
func (s *Store) SetUniverseCount(count int) error {
	if count <= 0 {
		return fmt.Errorf("session: universe 数量必须大于0: %d", count)
	}
	return s.edit(func(st *State) error {
		st.UniverseCount = count
		return nil
	})
}

// WeightEntries 基于最新状态计算权重列表。
func (s *Store) WeightEntries() []view.WeightEntry {
	return view.WeightEntries(s.Snapshot().Result)
}

// DollarFor 基于最新状态查询标的金额。
func (s *Store) DollarFor(symbol string) float64 {
	return view.DollarFor(s.Snapshot().Result, symbol)
}

func (s *Store) dispatch(kind Kind) *Operation {
	op := newOperation(kind)
	ack := make(chan struct{})
	if !s.send(startMsg{op: op, ack: ack}) {
		op.finish(ErrClosed)
		return op
	}
	select {
	case <-ack:
	case <-s.stopped:
		op.finish(ErrClosed)
	}
	return op
}

func (s *Store) edit(apply func(*State) error) error {
	reply := make(chan error, 1)
	if !s.send(editMsg{apply: apply, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.stopped:
		return ErrClosed
	}
}

func (s *Store) send(m message) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Store) loop() {
	defer close(s.stopped)
	for {
		select {
		case m := <-s.inbox:
			s.update(m)
		case <-s.quit:
			return
		}
	}
}

func (s *Store) update(m message) {
	switch m := m.(type) {
	case startMsg:
		s.begin(m.op)
		close(m.ack)
	case resultMsg:
		s.settle(m)
	case editMsg:
		next := s.state
		if err := m.apply(&next); err != nil {
			m.reply <- err
			return
		}
		s.commit(next)
		m.reply <- nil
	}
}

// begin 执行发起迁移并启动远程调用。
func (s *Store) begin(op *Operation) {
	next := s.state
	next.Loading = true

	var call func(ctx context.Context) (any, error)
	switch op.Kind {
	case KindRecommend:
		next.Error = nil
		next.Result = nil
		req, err := request.Build(request.Fields{
			Amount:      s.state.Amount,
			Risk:        s.state.Risk,
			SymbolsText: s.state.SymbolsText,
		})
		if err != nil {
			call = func(context.Context) (any, error) { return nil, err }
			break
		}
		call = func(ctx context.Context) (any, error) {
			return s.client.Recommend(ctx, req.Amount, req.Risk, req.Symbols)
		}
	case KindBackfill:
		symbols := s.state.Symbols()
		call = func(ctx context.Context) (any, error) {
			return nil, s.client.BackfillSignals(ctx, symbols)
		}
	case KindCompute:
		symbols := s.state.Symbols()
		call = func(ctx context.Context) (any, error) {
			return nil, s.client.ComputeSignals(ctx, symbols)
		}
	case KindBuildUniverse:
		count, lookback := s.state.UniverseCount, s.lookbackDays
		call = func(ctx context.Context) (any, error) {
			return nil, s.client.BuildUniverse(ctx, count, lookback)
		}
	case KindListUniverse:
		call = func(ctx context.Context) (any, error) {
			return s.client.ListUniverse(ctx)
		}
	}

	s.commit(next)
	s.record(op, PhaseStarted, "")
	s.logger.Info("操作已发起", zap.String("op_id", op.ID), zap.String("kind", string(op.Kind)))

	go s.run(op, call)
}

func (s *Store) run(op *Operation, call func(ctx context.Context) (any, error)) {
	payload, err := call(s.ctx)
	if s.ctx.Err() != nil {
		op.finish(ErrClosed)
		return
	}
	if !s.send(resultMsg{op: op, payload: payload, err: err}) {
		op.finish(ErrClosed)
	}
}

// settle 提交操作结果，每个操作只提交一次。
func (s *Store) settle(m resultMsg) {
	op := m.op
	next := s.state
	next.Loading = false

	err := m.err
	if err == nil {
		err = s.applyPayload(&next, op.Kind, m.payload)
	}

	if err != nil {
		msg := failureMessage(op.Kind, err)
		if op.Kind != KindListUniverse {
			next.Error = &msg
		}
		s.commit(next)
		s.record(op, PhaseFailed, msg)
		s.logger.Warn("操作失败",
			zap.String("op_id", op.ID),
			zap.String("kind", string(op.Kind)),
			zap.Duration("elapsed", time.Since(op.StartedAt)),
			zap.Error(err),
		)
		op.finish(err)
		return
	}

	s.commit(next)
	s.record(op, PhaseSucceeded, "")
	s.logger.Info("操作完成",
		zap.String("op_id", op.ID),
		zap.String("kind", string(op.Kind)),
		zap.Duration("elapsed", time.Since(op.StartedAt)),
	)

	if op.Kind == KindBuildUniverse {
		follow := newOperation(KindListUniverse)
		s.begin(follow)
		op.followUp = follow
	}
	op.finish(nil)
}

func (s *Store) applyPayload(next *State, kind Kind, payload any) error {
	switch kind {
	case KindRecommend:
		res, _ := payload.(*api.RecommendationResult)
		if res == nil {
			return errEmptyResponse
		}
		next.Result = res
	case KindListUniverse:
		u, _ := payload.(*api.UniverseState)
		if u == nil {
			return errEmptyResponse
		}
		symbols := make([]string, len(u.Symbols))
		copy(symbols, u.Symbols)
		next.Universe = api.UniverseState{Count: u.Count, Symbols: symbols}
	}
	return nil
}

func (s *Store) commit(next State) {
	next.Version = s.state.Version + 1
	s.state = next
	snapshot := next
	s.current.Store(&snapshot)

	s.subsMu.Lock()
	subs := s.subs
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub.fn(snapshot)
	}
}

func (s *Store) record(op *Operation, phase Phase, msg string) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordOperation(s.ctx, OperationEvent{
		ID:        op.ID,
		Kind:      op.Kind,
		Phase:     phase,
		Message:   msg,
		Version:   s.state.Version,
		Timestamp: time.Now().UTC(),
	})
}

// failureMessage 从失败中提取可读信息，没有信息时使用该操作的兜底文案。
func failureMessage(kind Kind, err error) string {
	var reqErr *api.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Message != "" {
			return reqErr.Message
		}
		return kind.fallbackMessage()
	}
	if err != nil && err.Error() != "" {
		return err.Error()
	}
	return kind.fallbackMessage()
}
