package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"invest-recommender/internal/api"
	"invest-recommender/internal/config"
	"invest-recommender/internal/monitor"
	"invest-recommender/internal/session"
	"invest-recommender/internal/store"
	"invest-recommender/internal/view"
)

// stubService 立即返回预设结果。
type stubService struct {
	result      *api.RecommendationResult
	failure     error
	listFailure error
}

func (s *stubService) Recommend(context.Context, float64, api.RiskProfile, []string) (*api.RecommendationResult, error) {
	return s.result, s.failure
}

func (s *stubService) BackfillSignals(context.Context, []string) error { return s.failure }

func (s *stubService) ComputeSignals(context.Context, []string) error { return s.failure }

func (s *stubService) BuildUniverse(context.Context, int, int) error { return s.failure }

func (s *stubService) ListUniverse(context.Context) (*api.UniverseState, error) {
	if s.listFailure != nil {
		return nil, s.listFailure
	}
	return &api.UniverseState{Count: 2, Symbols: []string{"AGG", "VOO"}}, nil
}

type fixture struct {
	session *session.Store
	journal *monitor.Service
	server  *httptest.Server
}

func newFixture(t *testing.T, svc api.Service) *fixture {
	t.Helper()

	db, err := store.NewMemory(config.DatabaseConfig{Name: strings.ReplaceAll(t.Name(), "/", "_"), MaxOpenConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	journal, err := monitor.NewService(db, nil)
	require.NoError(t, err)

	opts := session.DefaultOptions()
	opts.Recorder = journal
	sess, err := session.NewStore(svc, opts, nil)
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	srv := NewServer(ServerOptions{Session: sess, Journal: journal})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{session: sess, journal: journal, server: ts}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func sampleResult() *api.RecommendationResult {
	return &api.RecommendationResult{
		Inputs:            api.RecommendationInputs{Risk: api.RiskBalanced, Amount: 10000, Symbols: []string{"VOO", "AGG", "EMB"}},
		AllocationWeights: map[string]float64{"VOO": 0.6, "AGG": 0.3, "EMB": 0.1},
		AllocationDollars: map[string]float64{"VOO": 6000, "AGG": 3000, "EMB": 1000},
		CovEstimationDays: 250,
	}
}

func TestServer_HealthAndState(t *testing.T) {
	f := newFixture(t, &stubService{result: sampleResult()})

	resp := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st session.State
	decode(t, resp, &st)
	assert.Equal(t, 10000.0, st.Amount)
	assert.Equal(t, api.RiskBalanced, st.Risk)
	assert.False(t, st.Loading)
}

func TestServer_PatchInputs(t *testing.T) {
	f := newFixture(t, &stubService{result: sampleResult()})

	resp := f.do(t, http.MethodPatch, "/inputs", map[string]interface{}{
		"amount":       2500.5,
		"risk":         "Aggressive",
		"symbols_text": "VOO,AGG",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st session.State
	decode(t, resp, &st)
	assert.Equal(t, 2500.5, st.Amount)
	assert.Equal(t, api.RiskAggressive, st.Risk)
	assert.Equal(t, "VOO,AGG", st.SymbolsText)

	resp = f.do(t, http.MethodPatch, "/inputs", map[string]interface{}{"amount": 1, "risk": "yolo"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 2500.5, f.session.Snapshot().Amount, "rejected patch must not apply any field")

	resp = f.do(t, http.MethodPatch, "/inputs", map[string]interface{}{"universe_count": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_TriggerAndViews(t *testing.T) {
	f := newFixture(t, &stubService{result: sampleResult()})

	resp := f.do(t, http.MethodPost, "/operations/recommend?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out operationResponse
	decode(t, resp, &out)
	assert.Equal(t, session.KindRecommend, out.Kind)
	assert.Empty(t, out.Error)
	require.NotNil(t, out.State)
	require.NotNil(t, out.State.Result)
	assert.False(t, out.State.Loading)

	resp = f.do(t, http.MethodGet, "/views/weights", nil)
	var weights []view.WeightEntry
	decode(t, resp, &weights)
	assert.Equal(t, []view.WeightEntry{{Symbol: "AGG", Weight: 0.3}, {Symbol: "EMB", Weight: 0.1}, {Symbol: "VOO", Weight: 0.6}}, weights)

	resp = f.do(t, http.MethodGet, "/views/dollars/ZZZ", nil)
	var dollars struct {
		Symbol  string  `json:"symbol"`
		Dollars float64 `json:"dollars"`
	}
	decode(t, resp, &dollars)
	assert.Equal(t, "ZZZ", dollars.Symbol)
	assert.Zero(t, dollars.Dollars)

	resp = f.do(t, http.MethodGet, "/views/top?n=2", nil)
	var top []view.Allocation
	decode(t, resp, &top)
	require.Len(t, top, 2)
	assert.Equal(t, "VOO", top[0].Symbol)
	assert.Equal(t, "AGG", top[1].Symbol)

	resp = f.do(t, http.MethodGet, "/views/top?n=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/operations/"+out.ID+"/events", nil)
	var history []monitor.Event
	decode(t, resp, &history)
	require.Len(t, history, 2)
	assert.Equal(t, monitor.EventOperationStarted, history[0].Type)
	assert.Equal(t, monitor.EventOperationSucceeded, history[1].Type)
}

func TestServer_TriggerBuildUniverseReportsFollowUp(t *testing.T) {
	f := newFixture(t, &stubService{result: sampleResult()})

	resp := f.do(t, http.MethodPost, "/operations/build-universe?wait=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out operationResponse
	decode(t, resp, &out)
	assert.Equal(t, session.KindBuildUniverse, out.Kind)
	assert.NotEmpty(t, out.FollowUp)
}

func TestServer_TriggerFailureAndAsync(t *testing.T) {
	f := newFixture(t, &stubService{failure: &api.RequestError{Op: "compute", Kind: api.KindService, StatusCode: 500}})

	resp := f.do(t, http.MethodPost, "/operations/compute?wait=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out operationResponse
	decode(t, resp, &out)
	assert.NotEmpty(t, out.Error)
	require.NotNil(t, out.State)
	assert.Equal(t, "Compute failed", out.State.ErrorMessage())

	resp = f.do(t, http.MethodPost, "/operations/backfill", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/operations/launch-rockets", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/events?type=operation_failed&limit=5000", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events []monitor.Event
	decode(t, resp, &events)
	assert.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, monitor.EventOperationFailed, e.Type)
	}
}

func TestServer_WebsocketPushesCommits(t *testing.T) {
	f := newFixture(t, &stubService{result: sampleResult()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var first session.State
	require.NoError(t, wsjson.Read(ctx, conn, &first))

	require.NoError(t, f.session.SetAmount(777))

	for {
		var st session.State
		require.NoError(t, wsjson.Read(ctx, conn, &st))
		if st.Amount == 777 {
			assert.Greater(t, st.Version, first.Version)
			return
		}
	}
}
