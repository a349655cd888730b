package session

import (
	"context"
	"testing"
	"time"

	"invest-recommender/internal/api"
)

const waitTimeout = 2 * time.Second

// pendingCall 为一次被挂起的远程调用，测试通过 resolve/fail 决定其完成时机。
type pendingCall struct {
	kind         Kind
	amount       float64
	risk         api.RiskProfile
	symbols      []string
	count        int
	lookbackDays int
	reply        chan callReply
}

type callReply struct {
	payload any
	err     error
}

func (c *pendingCall) resolve(payload any) { c.reply <- callReply{payload: payload} }

func (c *pendingCall) fail(err error) { c.reply <- callReply{err: err} }

// scriptedService 把每次调用挂起，直到测试给出结果，从而精确控制完成顺序。
type scriptedService struct {
	calls chan *pendingCall
}

func newScriptedService() *scriptedService {
	return &scriptedService{calls: make(chan *pendingCall, 16)}
}

func (f *scriptedService) wait(ctx context.Context, c *pendingCall) callReply {
	f.calls <- c
	select {
	case r := <-c.reply:
		return r
	case <-ctx.Done():
		return callReply{err: ctx.Err()}
	}
}

func (f *scriptedService) Recommend(ctx context.Context, amount float64, risk api.RiskProfile, symbols []string) (*api.RecommendationResult, error) {
	r := f.wait(ctx, &pendingCall{kind: KindRecommend, amount: amount, risk: risk, symbols: symbols, reply: make(chan callReply, 1)})
	res, _ := r.payload.(*api.RecommendationResult)
	return res, r.err
}

func (f *scriptedService) BackfillSignals(ctx context.Context, symbols []string) error {
	return f.wait(ctx, &pendingCall{kind: KindBackfill, symbols: symbols, reply: make(chan callReply, 1)}).err
}

func (f *scriptedService) ComputeSignals(ctx context.Context, symbols []string) error {
	return f.wait(ctx, &pendingCall{kind: KindCompute, symbols: symbols, reply: make(chan callReply, 1)}).err
}

func (f *scriptedService) BuildUniverse(ctx context.Context, count, lookbackDays int) error {
	return f.wait(ctx, &pendingCall{kind: KindBuildUniverse, count: count, lookbackDays: lookbackDays, reply: make(chan callReply, 1)}).err
}

func (f *scriptedService) ListUniverse(ctx context.Context) (*api.UniverseState, error) {
	r := f.wait(ctx, &pendingCall{kind: KindListUniverse, reply: make(chan callReply, 1)})
	u, _ := r.payload.(*api.UniverseState)
	return u, r.err
}

// next 取出下一次调用并校验类型。
func (f *scriptedService) next(t *testing.T, kind Kind) *pendingCall {
	t.Helper()
	select {
	case c := <-f.calls:
		if c.kind != kind {
			t.Fatalf("unexpected call: got %s want %s", c.kind, kind)
		}
		return c
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s call", kind)
		return nil
	}
}

// expectNoCall 确认短时间内没有新的调用。
func (f *scriptedService) expectNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected extra call: %s", c.kind)
	case <-time.After(50 * time.Millisecond):
	}
}

type recordingRecorder struct {
	events chan OperationEvent
}

func (r *recordingRecorder) RecordOperation(_ context.Context, event OperationEvent) {
	r.events <- event
}

func waitOp(t *testing.T, op *Operation) {
	t.Helper()
	select {
	case <-op.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s operation", op.Kind)
	}
}

func sampleResult() *api.RecommendationResult {
	return &api.RecommendationResult{
		Inputs:            api.RecommendationInputs{Risk: api.RiskBalanced, Amount: 10000, Symbols: []string{"VOO", "AGG"}},
		AllocationWeights: map[string]float64{"VOO": 0.7, "AGG": 0.3},
		AllocationDollars: map[string]float64{"VOO": 7000, "AGG": 3000},
		Signals:           []api.Signal{{Symbol: "VOO", Momentum: 0.1, Sentiment: 0.2, Score: 0.15}},
		CovEstimationDays: 250,
	}
}
