package monitor

import (
	"time"

	"invest-recommender/internal/session"
)

// EventType 表示日志事件类型。
type EventType string

const (
	EventOperationStarted   EventType = "operation_started"
	EventOperationSucceeded EventType = "operation_succeeded"
	EventOperationFailed    EventType = "operation_failed"
	EventError              EventType = "error"
)

// eventTypeFor 将操作阶段映射为事件类型。
func eventTypeFor(phase session.Phase) EventType {
	switch phase {
	case session.PhaseSucceeded:
		return EventOperationSucceeded
	case session.PhaseFailed:
		return EventOperationFailed
	default:
		return EventOperationStarted
	}
}

// Event 封装通用日志事件。
type Event struct {
	ID        int64       `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// OperationPayload 记录一次操作生命周期迁移。
type OperationPayload struct {
	OperationID string        `json:"operation_id"`
	Kind        session.Kind  `json:"kind"`
	Phase       session.Phase `json:"phase"`
	Message     string        `json:"message,omitempty"`
	Version     uint64        `json:"version"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
