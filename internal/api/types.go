package api

import (
	"fmt"
	"strings"
)

// RiskProfile 表示用户选择的风险偏好。
type RiskProfile string

const (
	RiskConservative RiskProfile = "conservative"
	RiskBalanced     RiskProfile = "balanced"
	RiskAggressive   RiskProfile = "aggressive"
)

// RiskProfiles 按保守到激进的顺序列出全部取值。
var RiskProfiles = []RiskProfile{RiskConservative, RiskBalanced, RiskAggressive}

// Valid 判断是否为受支持的风险偏好。
func (r RiskProfile) Valid() bool {
	switch r {
	case RiskConservative, RiskBalanced, RiskAggressive:
		return true
	default:
		return false
	}
}

// ParseRiskProfile 解析风险偏好，大小写与首尾空白不敏感。
func ParseRiskProfile(raw string) (RiskProfile, error) {
	risk := RiskProfile(strings.ToLower(strings.TrimSpace(raw)))
	if !risk.Valid() {
		return "", fmt.Errorf("未知的风险偏好 %q", raw)
	}
	return risk, nil
}

// RecommendationRequest 是一次推荐请求的参数。
type RecommendationRequest struct {
	Amount  float64     `json:"amount"`
	Risk    RiskProfile `json:"risk"`
	Symbols []string    `json:"symbols"`
}

// RecommendationInputs 为服务端回显的实际请求参数。
type RecommendationInputs struct {
	Risk    RiskProfile `json:"risk"`
	Amount  float64     `json:"amount"`
	Symbols []string    `json:"symbols"`
}

// Signal 为单个标的的评分信号。
type Signal struct {
	Symbol    string  `json:"symbol"`
	Momentum  float64 `json:"momentum"`
	Sentiment float64 `json:"sentiment"`
	Score     float64 `json:"score"`
	// Date 缺省时为 nil。
	Date *string `json:"date,omitempty"`
}

// RecommendationResult 为推荐服务的完整响应，收到后不再修改。
type RecommendationResult struct {
	Inputs            RecommendationInputs `json:"inputs"`
	AllocationWeights map[string]float64   `json:"allocation_weights"`
	AllocationDollars map[string]float64   `json:"allocation_dollars"`
	Signals           []Signal             `json:"signals"`
	CovEstimationDays int                  `json:"cov_estimation_days"`
	// Notes 在服务端未返回时为 nil，返回空数组时为非 nil 的空切片。
	Notes []string `json:"notes,omitempty"`
}

// HasNotes 判断服务端是否返回了 notes 字段。
func (r *RecommendationResult) HasNotes() bool {
	return r != nil && r.Notes != nil
}

// UniverseState 为服务端当前配置的可交易标的集合。
type UniverseState struct {
	Count   int      `json:"count"`
	Symbols []string `json:"symbols"`
}
