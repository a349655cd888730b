package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"invest-recommender/internal/config"
)

const (
	// DefaultUniverseCount 为构建 universe 时的默认标的数量。
	DefaultUniverseCount = 100
	// DefaultLookbackDays 为构建 universe 时的默认回溯天数（3 年）。
	DefaultLookbackDays = 365 * 3
)

const (
	pathRecommend     = "/recommend/"
	pathBackfill      = "/signals/backfill"
	pathCompute       = "/signals/compute"
	pathUniverseBuild = "/universe/build"
	pathUniverseList  = "/universe/list"
	pathHealth        = "/health/"
)

// Service 抽象推荐服务提供的全部远程操作，每次调用相互独立且无状态。
type Service interface {
	Recommend(ctx context.Context, amount float64, risk RiskProfile, symbols []string) (*RecommendationResult, error)
	BackfillSignals(ctx context.Context, symbols []string) error
	ComputeSignals(ctx context.Context, symbols []string) error
	BuildUniverse(ctx context.Context, count, lookbackDays int) error
	ListUniverse(ctx context.Context) (*UniverseState, error)
}

// HTTPClient 通过 HTTP/JSON 调用推荐服务，仅负责请求编码与响应解析。
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Service = (*HTTPClient)(nil)

// NewHTTPClient 根据配置创建客户端。
func NewHTTPClient(cfg config.APIConfig, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("api: base_url 不能为空")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("api: base_url 无效: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPClient{
		endpoint:   cfg.Endpoint(),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Recommend 请求一次资产配置推荐。
func (c *HTTPClient) Recommend(ctx context.Context, amount float64, risk RiskProfile, symbols []string) (*RecommendationResult, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	params.Set("risk", string(risk))
	appendSymbols(params, symbols)

	var result RecommendationResult
	if err := c.do(ctx, "recommend", http.MethodGet, pathRecommend, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BackfillSignals 触发历史行情回填。
func (c *HTTPClient) BackfillSignals(ctx context.Context, symbols []string) error {
	params := url.Values{}
	appendSymbols(params, symbols)
	return c.do(ctx, "backfill", http.MethodPost, pathBackfill, params, nil)
}

// ComputeSignals 触发信号重算。
func (c *HTTPClient) ComputeSignals(ctx context.Context, symbols []string) error {
	params := url.Values{}
	appendSymbols(params, symbols)
	return c.do(ctx, "compute", http.MethodPost, pathCompute, params, nil)
}

// BuildUniverse 触发 universe 构建，非正参数使用默认值。
func (c *HTTPClient) BuildUniverse(ctx context.Context, count, lookbackDays int) error {
	if count <= 0 {
		count = DefaultUniverseCount
	}
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}

	params := url.Values{}
	params.Set("count", strconv.Itoa(count))
	params.Set("lookback_days", strconv.Itoa(lookbackDays))
	return c.do(ctx, "build_universe", http.MethodPost, pathUniverseBuild, params, nil)
}

// ListUniverse 获取当前 universe。
func (c *HTTPClient) ListUniverse(ctx context.Context) (*UniverseState, error) {
	var state UniverseState
	if err := c.do(ctx, "list_universe", http.MethodGet, pathUniverseList, nil, &state); err != nil {
		return nil, err
	}
	if state.Symbols == nil {
		state.Symbols = []string{}
	}
	return &state, nil
}

// Health 检查推荐服务是否可达。
func (c *HTTPClient) Health(ctx context.Context) error {
	var payload struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, "health", http.MethodGet, pathHealth, nil, &payload); err != nil {
		return err
	}
	if !strings.EqualFold(payload.Status, "ok") {
		return &RequestError{Op: "health", Kind: KindService, StatusCode: http.StatusOK, Message: fmt.Sprintf("服务状态异常: %q", payload.Status)}
	}
	return nil
}

func appendSymbols(params url.Values, symbols []string) {
	for _, sym := range symbols {
		if sym == "" {
			continue
		}
		params.Add("symbols", sym)
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, params url.Values, target any) error {
	u := c.endpoint + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return &RequestError{Op: op, Kind: KindTransport, Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("请求推荐服务失败",
			zap.String("op", op),
			zap.String("url", u),
			zap.Error(err),
		)
		return &RequestError{Op: op, Kind: KindTransport, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Op: op, Kind: KindTransport, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}

	c.logger.Debug("推荐服务已响应",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{
			Op:         op,
			Kind:       KindService,
			StatusCode: resp.StatusCode,
			Message:    serviceMessage(body),
		}
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &RequestError{Op: op, Kind: KindDecode, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}
	return nil
}
