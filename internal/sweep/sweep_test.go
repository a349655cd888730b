package sweep

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"invest-recommender/internal/api"
	"invest-recommender/internal/config"
	"invest-recommender/internal/view"
)

type fakeService struct {
	mu       sync.Mutex
	prepared []string
	requests int
	failRisk api.RiskProfile
	prepErr  error
}

func (f *fakeService) Recommend(_ context.Context, amount float64, risk api.RiskProfile, symbols []string) (*api.RecommendationResult, error) {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()

	if risk == f.failRisk {
		return nil, &api.RequestError{Op: "recommend", Kind: api.KindService, StatusCode: 500, Message: "solver failed"}
	}
	return &api.RecommendationResult{
		Inputs:            api.RecommendationInputs{Risk: risk, Amount: amount, Symbols: symbols},
		AllocationWeights: map[string]float64{"VOO": 0.5, "AGG": 0.3, "EMB": 0.2},
		AllocationDollars: map[string]float64{"VOO": amount * 0.5, "AGG": amount * 0.3, "EMB": amount * 0.2},
	}, nil
}

func (f *fakeService) BackfillSignals(context.Context, []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, "backfill")
	return f.prepErr
}

func (f *fakeService) ComputeSignals(context.Context, []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = append(f.prepared, "compute")
	return nil
}

func (f *fakeService) BuildUniverse(context.Context, int, int) error { return nil }

func (f *fakeService) ListUniverse(context.Context) (*api.UniverseState, error) {
	return &api.UniverseState{}, nil
}

func TestRun_AllCombinations(t *testing.T) {
	svc := &fakeService{}
	runner := NewRunner(svc, nil)

	report, err := runner.Run(context.Background(), Options{
		Amounts:     []float64{1000, 5000},
		Risks:       []api.RiskProfile{api.RiskConservative, api.RiskAggressive},
		Symbols:     []string{"VOO", "AGG", "EMB"},
		Concurrency: 3,
		Top:         2,
		Prepare:     true,
	})
	require.NoError(t, err)

	assert.True(t, report.Prepared)
	assert.Equal(t, []string{"backfill", "compute"}, svc.prepared)
	assert.Equal(t, 4, svc.requests)

	require.Len(t, report.Entries, 4)
	assert.Equal(t, 1000.0, report.Entries[0].Amount)
	assert.Equal(t, api.RiskConservative, report.Entries[0].Risk)
	assert.Equal(t, 5000.0, report.Entries[3].Amount)
	assert.Equal(t, api.RiskAggressive, report.Entries[3].Risk)

	e := report.Entries[1]
	assert.Equal(t, 1.0, e.WeightSum)
	assert.Equal(t, 1000.0, e.DollarSum)
	require.Len(t, e.Top, 2)
	assert.Equal(t, "VOO", e.Top[0].Symbol)
	assert.Equal(t, "AGG", e.Top[1].Symbol)
	assert.Zero(t, report.Failed())
}

func TestRun_FailuresAreCollected(t *testing.T) {
	svc := &fakeService{failRisk: api.RiskBalanced, prepErr: errors.New("no data")}
	runner := NewRunner(svc, nil)

	report, err := runner.Run(context.Background(), Options{
		Amounts: []float64{1000, 25000},
		Risks:   []api.RiskProfile{api.RiskBalanced, api.RiskAggressive},
		Prepare: true,
	})
	require.Error(t, err)
	require.NotNil(t, report)

	assert.False(t, report.Prepared)
	assert.Equal(t, 2, report.Failed())
	assert.Len(t, multierr.Errors(errors.Unwrap(err)), 2)
	assert.True(t, api.IsService(report.Entries[0].Err))
	assert.NoError(t, report.Entries[1].Err)
}

func TestRun_RequiresCombinations(t *testing.T) {
	_, err := NewRunner(&fakeService{}, nil).Run(context.Background(), Options{Amounts: []float64{1000}})
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := OptionsFromConfig(config.SweepConfig{
		Amounts:     []float64{1000},
		Risks:       []string{"Balanced", "aggressive"},
		Symbols:     []string{"VOO"},
		Concurrency: 2,
		Top:         5,
	})
	require.NoError(t, err)
	assert.Equal(t, []api.RiskProfile{api.RiskBalanced, api.RiskAggressive}, opts.Risks)

	_, err = OptionsFromConfig(config.SweepConfig{Risks: []string{"yolo"}})
	assert.Error(t, err)
}

func TestReport_Write(t *testing.T) {
	report := &Report{
		Prepared: true,
		Entries: []Entry{
			{
				Amount:    10000,
				Risk:      api.RiskBalanced,
				WeightSum: 1,
				DollarSum: 10000,
				Top:       []view.Allocation{{Symbol: "VOO", Weight: 0.6, Dollar: 6000}, {Symbol: "AGG", Weight: 0.4, Dollar: 4000}},
			},
			{Amount: 5000, Risk: api.RiskAggressive, Err: errors.New("solver failed")},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, report.Write(&buf))

	out := buf.String()
	assert.Contains(t, out, "RECOMMENDATION SWEEP")
	assert.Contains(t, out, "Risk=balanced     Amount=$10000")
	assert.Contains(t, out, "VOO   $6,000.00  (w=0.600)")
	assert.Contains(t, out, "ERROR: solver failed")
}
