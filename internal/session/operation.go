package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase 表示操作所处的生命周期阶段。
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// OperationEvent 描述一次生命周期迁移，供 Recorder 记录。
type OperationEvent struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Phase     Phase     `json:"phase"`
	Message   string    `json:"message,omitempty"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder 接收操作生命周期事件。调用发生在事件循环内，实现不应长时间阻塞。
type Recorder interface {
	RecordOperation(ctx context.Context, event OperationEvent)
}

// Operation 为一次已发起操作的句柄。
type Operation struct {
	ID        string
	Kind      Kind
	StartedAt time.Time

	done     chan struct{}
	once     sync.Once
	err      error
	followUp *Operation
}

func newOperation(kind Kind) *Operation {
	return &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

// Done 在结果提交到会话状态之后关闭。
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Err 返回操作失败原因，未完成或成功时为 nil。
func (o *Operation) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// Wait 阻塞直到操作完成或 ctx 结束。
func (o *Operation) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FollowUp 返回成功构建 universe 后自动发起的刷新操作，仅在 Done 之后有效。
func (o *Operation) FollowUp() *Operation {
	select {
	case <-o.done:
		return o.followUp
	default:
		return nil
	}
}

func (o *Operation) finish(err error) {
	o.once.Do(func() {
		o.err = err
		close(o.done)
	})
}
