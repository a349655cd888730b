// Package monitor 将会话操作的生命周期写入进程内日志库，供控制接口查询。
package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"invest-recommender/internal/session"
	"invest-recommender/internal/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Service 负责持久化操作事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ session.Recorder = (*Service)(nil)

// NewService 初始化日志服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS operation_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	operation_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operation_events_type ON operation_events(event_type);
CREATE INDEX IF NOT EXISTS idx_operation_events_op ON operation_events(operation_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	return s.insert(ctx, "", event)
}

func (s *Service) insert(ctx context.Context, operationID string, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO operation_events (event_type, operation_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(event.Type), operationID, string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordOperation 记录操作生命周期迁移，写入失败只记日志。
func (s *Service) RecordOperation(ctx context.Context, event session.OperationEvent) {
	// 会话关闭时 ctx 已取消，最后的失败事件仍需落库
	ctx = context.WithoutCancel(ctx)
	if err := s.insert(ctx, event.ID, Event{
		Type:      eventTypeFor(event.Phase),
		Timestamp: event.Timestamp,
		Payload: OperationPayload{
			OperationID: event.ID,
			Kind:        event.Kind,
			Phase:       event.Phase,
			Message:     event.Message,
			Version:     event.Version,
		},
	}); err != nil {
		s.logger.Warn("记录操作事件失败", zap.String("op_id", event.ID), zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		Type:      EventError,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件，最新的在前。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	return s.list(ctx, "event_type", string(eventType), limit)
}

// OperationHistory 返回某个操作的全部事件，按发生顺序排列。
func (s *Service) OperationHistory(ctx context.Context, operationID string) ([]Event, error) {
	events, err := s.list(ctx, "operation_id", operationID, maxListLimit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (s *Service) list(ctx context.Context, column, value string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	query := `SELECT id, event_type, payload, created_at FROM operation_events`
	args := make([]interface{}, 0, 2)
	if value != "" {
		query += ` WHERE ` + column + ` = ?`
		args = append(args, value)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			id      int64
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&id, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			ID:        id,
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
