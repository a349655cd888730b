// Package view 从推荐结果计算展示用的派生数据，所有函数均为纯函数。
package view

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"invest-recommender/internal/api"
)

// WeightEntry 为单个标的的配置权重。
type WeightEntry struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Allocation 为单个标的的权重与金额。
type Allocation struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
	Dollar float64 `json:"dollar"`
}

// WeightEntries 将权重映射展开为按标的排序的序列，无结果时返回空序列。
func WeightEntries(res *api.RecommendationResult) []WeightEntry {
	if res == nil {
		return []WeightEntry{}
	}

	entries := make([]WeightEntry, 0, len(res.AllocationWeights))
	for sym, w := range res.AllocationWeights {
		entries = append(entries, WeightEntry{Symbol: sym, Weight: w})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Symbol < entries[j].Symbol
	})
	return entries
}

// DollarFor 返回标的的配置金额，缺失或无结果时为 0。
func DollarFor(res *api.RecommendationResult, symbol string) float64 {
	if res == nil {
		return 0
	}
	return res.AllocationDollars[symbol]
}

// TopAllocations 按金额降序返回前 n 项，金额相同按标的排序；n<=0 返回全部。
func TopAllocations(res *api.RecommendationResult, n int) []Allocation {
	if res == nil {
		return []Allocation{}
	}

	out := make([]Allocation, 0, len(res.AllocationDollars))
	for sym, d := range res.AllocationDollars {
		out = append(out, Allocation{Symbol: sym, Weight: res.AllocationWeights[sym], Dollar: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dollar != out[j].Dollar {
			return out[i].Dollar > out[j].Dollar
		}
		return out[i].Symbol < out[j].Symbol
	})

	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// WeightSum 返回权重之和，理论上约等于 1，此处不做校验。
func WeightSum(res *api.RecommendationResult) float64 {
	if res == nil {
		return 0
	}
	return floats.Sum(values(res.AllocationWeights))
}

// DollarSum 返回配置金额之和。
func DollarSum(res *api.RecommendationResult) float64 {
	if res == nil {
		return 0
	}
	return floats.Sum(values(res.AllocationDollars))
}

func values(m map[string]float64) []float64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
