package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"invest-recommender/internal/api"
	"invest-recommender/internal/monitor"
	"invest-recommender/internal/session"
	"invest-recommender/internal/view"
)

const (
	defaultEventLimit = 200
	maxEventLimit     = 1000
	defaultTopN       = 5
	requestTimeout    = 60 * time.Second
	wsWriteTimeout    = 5 * time.Second
	wsBacklog         = 16
)

// ServerOptions 描述控制接口依赖。
type ServerOptions struct {
	Port           int
	AllowedOrigins []string
	Session        *session.Store
	Journal        *monitor.Service
	Logger         *zap.Logger
}

// Server 通过 HTTP 暴露会话：修改输入、发起操作、读取状态与视图、订阅状态变化。
type Server struct {
	router  *chi.Mux
	server  *http.Server
	session *session.Store
	journal *monitor.Service
	logger  *zap.Logger
}

// NewServer 创建控制接口。
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:  chi.NewRouter(),
		session: opts.Session,
		journal: opts.Journal,
		logger:  logger,
	}

	s.setupMiddleware(opts.AllowedOrigins)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler 返回路由，便于测试。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 阻塞监听，关闭后返回 http.ErrServerClosed。
func (s *Server) Start() error {
	s.logger.Info("控制接口已启动", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Shutdown 优雅关闭。
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭控制接口")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupMiddleware(origins []string) {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/ws", s.handleSubscribe)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/healthz", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Patch("/inputs", s.handleInputs)

		r.Route("/operations", func(r chi.Router) {
			r.Post("/{kind}", s.handleTrigger)
			r.Get("/{id}/events", s.handleOperationEvents)
		})

		r.Route("/views", func(r chi.Router) {
			r.Get("/weights", s.handleWeights)
			r.Get("/dollars/{symbol}", s.handleDollars)
			r.Get("/top", s.handleTop)
		})

		r.Get("/events", s.handleEvents)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("HTTP 请求",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

type inputsPatch struct {
	Amount        *float64 `json:"amount"`
	Risk          *string  `json:"risk"`
	SymbolsText   *string  `json:"symbols_text"`
	UniverseCount *int     `json:"universe_count"`
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	var patch inputsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("请求体格式错误: %w", err))
		return
	}

	// 先整体校验，避免部分字段生效
	var risk api.RiskProfile
	if patch.Risk != nil {
		parsed, err := api.ParseRiskProfile(*patch.Risk)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		risk = parsed
	}
	if patch.UniverseCount != nil && *patch.UniverseCount <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("universe_count 必须大于0"))
		return
	}

	var err error
	if patch.Amount != nil {
		err = s.session.SetAmount(*patch.Amount)
	}
	if err == nil && patch.Risk != nil {
		err = s.session.SetRisk(risk)
	}
	if err == nil && patch.SymbolsText != nil {
		err = s.session.SetSymbolsText(*patch.SymbolsText)
	}
	if err == nil && patch.UniverseCount != nil {
		err = s.session.SetUniverseCount(*patch.UniverseCount)
	}
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

type operationResponse struct {
	ID       string         `json:"id"`
	Kind     session.Kind   `json:"kind"`
	Error    string         `json:"error,omitempty"`
	FollowUp string         `json:"follow_up,omitempty"`
	State    *session.State `json:"state,omitempty"`
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	kind, err := session.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	op, err := s.session.Trigger(kind)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	resp := operationResponse{ID: op.ID, Kind: op.Kind}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		s.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if err := op.Wait(r.Context()); err != nil {
		if errors.Is(err, r.Context().Err()) {
			s.writeError(w, http.StatusGatewayTimeout, err)
			return
		}
		resp.Error = err.Error()
	}
	if follow := op.FollowUp(); follow != nil {
		resp.FollowUp = follow.ID
	}
	snapshot := s.session.Snapshot()
	resp.State = &snapshot
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOperationEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.journal.OperationHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleWeights(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.WeightEntries())
}

func (s *Server) handleDollars(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"symbol":  symbol,
		"dollars": s.session.DollarFor(symbol),
	})
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	n := defaultTopN
	if qs := r.URL.Query().Get("n"); qs != "" {
		v, err := strconv.Atoi(qs)
		if err != nil || v < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("n 必须为非负整数: %q", qs))
			return
		}
		n = v
	}
	s.writeJSON(w, http.StatusOK, view.TopAllocations(s.session.Snapshot().Result, n))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if qs := q.Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > maxEventLimit {
				v = maxEventLimit
			}
			limit = v
		}
	}

	eventType := monitor.EventType("")
	if typ := strings.TrimSpace(q.Get("type")); typ != "" {
		eventType = monitor.EventType(strings.ToLower(typ))
	}

	events, err := s.journal.ListEvents(r.Context(), eventType, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

// handleSubscribe 推送当前快照以及之后每次提交的状态。
// 客户端消费过慢时丢弃积压中最旧的快照。
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.logger.Warn("建立 websocket 连接失败", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	updates := make(chan session.State, wsBacklog)
	cancel := s.session.Subscribe(func(st session.State) {
		for {
			select {
			case updates <- st:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	defer cancel()

	ctx := conn.CloseRead(r.Context())
	if err := s.writeState(ctx, conn, s.session.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case st := <-updates:
			if err := s.writeState(ctx, conn, st); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					s.logger.Warn("推送状态失败", zap.Error(err))
				}
				return
			}
		}
	}
}

func (s *Server) writeState(ctx context.Context, conn *websocket.Conn, st session.State) error {
	wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, st)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("写入响应失败", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	if errors.Is(err, session.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}
