package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invest-recommender/internal/api"
)

func sampleResult() *api.RecommendationResult {
	return &api.RecommendationResult{
		AllocationWeights: map[string]float64{"VOO": 0.5, "AGG": 0.3, "IWM": 0.2},
		AllocationDollars: map[string]float64{"VOO": 5000, "AGG": 3000, "IWM": 2000},
	}
}

func TestWeightEntries(t *testing.T) {
	res := sampleResult()

	first := WeightEntries(res)
	second := WeightEntries(res)
	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	assert.Equal(t, WeightEntry{Symbol: "AGG", Weight: 0.3}, first[0])
}

func TestWeightEntries_NoResult(t *testing.T) {
	entries := WeightEntries(nil)
	require.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestDollarFor(t *testing.T) {
	res := sampleResult()
	assert.Equal(t, 5000.0, DollarFor(res, "VOO"))
	assert.Zero(t, DollarFor(res, "ZZZ"))
	assert.Zero(t, DollarFor(nil, "VOO"))
}

func TestTopAllocations(t *testing.T) {
	res := sampleResult()
	res.AllocationDollars["EFA"] = 3000
	res.AllocationWeights["EFA"] = 0.3

	top := TopAllocations(res, 2)
	assert.Equal(t, []Allocation{
		{Symbol: "VOO", Weight: 0.5, Dollar: 5000},
		{Symbol: "AGG", Weight: 0.3, Dollar: 3000},
	}, top)

	assert.Len(t, TopAllocations(res, 0), 4)
	assert.Empty(t, TopAllocations(nil, 5))
}

func TestSums(t *testing.T) {
	res := sampleResult()
	assert.InDelta(t, 1.0, WeightSum(res), 1e-9)
	assert.InDelta(t, 10000.0, DollarSum(res), 1e-9)
	assert.Zero(t, WeightSum(nil))
}
