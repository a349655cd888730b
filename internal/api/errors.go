package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind 区分请求失败的来源。
type ErrorKind string

const (
	// KindTransport 网络或连接失败。
	KindTransport ErrorKind = "transport"
	// KindService 服务端返回非成功状态码。
	KindService ErrorKind = "service"
	// KindDecode 成功响应无法解析。
	KindDecode ErrorKind = "decode"
)

const maxBodyMessage = 200

// RequestError 描述一次远程调用失败，Message 为可读信息，可能为空。
type RequestError struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	switch e.Kind {
	case KindService:
		fmt.Fprintf(&b, "服务端返回 %d", e.StatusCode)
	case KindDecode:
		b.WriteString("解析响应失败")
	default:
		b.WriteString("请求失败")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// IsTransport 判断错误是否为网络层失败。
func IsTransport(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Kind == KindTransport
}

// IsService 判断错误是否为服务端拒绝。
func IsService(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.Kind == KindService
}

// serviceMessage 从 FastAPI 风格的错误体中提取可读信息。
func serviceMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var text string
		if err := json.Unmarshal(payload.Detail, &text); err == nil {
			return text
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 {
			return items[0].Msg
		}
	}

	if len(trimmed) > maxBodyMessage {
		trimmed = trimmed[:maxBodyMessage] + "..."
	}
	return trimmed
}
