package monitor

import (
	"context"

	"invest-recommender/internal/api"
)

// stubService 立即成功返回。
type stubService struct{}

func (stubService) Recommend(context.Context, float64, api.RiskProfile, []string) (*api.RecommendationResult, error) {
	return &api.RecommendationResult{}, nil
}

func (stubService) BackfillSignals(context.Context, []string) error { return nil }

func (stubService) ComputeSignals(context.Context, []string) error { return nil }

func (stubService) BuildUniverse(context.Context, int, int) error { return nil }

func (stubService) ListUniverse(context.Context) (*api.UniverseState, error) {
	return &api.UniverseState{Symbols: []string{}}, nil
}
