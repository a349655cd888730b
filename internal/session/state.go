// Package session 维护单个用户会话的可变状态，并按固定的状态迁移规则
// 编排推荐、回填、重算与 universe 相关的异步操作。
package session

import (
	"fmt"
	"strings"

	"invest-recommender/internal/api"
	"invest-recommender/internal/request"
)

// Kind 表示操作类型。
type Kind string

const (
	KindRecommend     Kind = "recommend"
	KindBackfill      Kind = "backfill"
	KindCompute       Kind = "compute"
	KindBuildUniverse Kind = "build_universe"
	KindListUniverse  Kind = "list_universe"
)

// Kinds 列出全部操作类型。
var Kinds = []Kind{KindRecommend, KindBackfill, KindCompute, KindBuildUniverse, KindListUniverse}

// ParseKind 解析操作类型，兼容连字符写法（build-universe）。
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("session: 未知的操作类型 %q", raw)
}

// fallbackMessage 为失败未携带信息时使用的兜底文案。
func (k Kind) fallbackMessage() string {
	switch k {
	case KindRecommend:
		return "Request failed"
	case KindBackfill:
		return "Backfill failed"
	case KindCompute:
		return "Compute failed"
	case KindBuildUniverse:
		return "Universe build failed"
	default:
		return "Universe refresh failed"
	}
}

// State 为会话的完整快照。快照发布后不再修改，Result 与 Universe 只整体替换。
type State struct {
	Amount        float64                   `json:"amount"`
	Risk          api.RiskProfile           `json:"risk"`
	SymbolsText   string                    `json:"symbols_text"`
	UniverseCount int                       `json:"universe_count"`
	Loading       bool                      `json:"loading"`
	Error         *string                   `json:"error"`
	Result        *api.RecommendationResult `json:"result"`
	Universe      api.UniverseState         `json:"universe"`
	Version       uint64                    `json:"version"`
}

// Symbols 返回当前输入解析后的标的列表。
func (s State) Symbols() []string {
	return request.ParseSymbols(s.SymbolsText)
}

// ErrorMessage 返回错误信息，无错误时为空串。
func (s State) ErrorMessage() string {
	if s.Error == nil {
		return ""
	}
	return *s.Error
}

// Options 描述会话初始值。
type Options struct {
	Amount        float64
	Risk          api.RiskProfile
	SymbolsText   string
	UniverseCount int
	LookbackDays  int
	Recorder      Recorder
}

// DefaultOptions 返回默认会话参数。
func DefaultOptions() Options {
	return Options{
		Amount:        10000,
		Risk:          api.RiskBalanced,
		SymbolsText:   "VOO,QQQM,IWM,EFA,EMB,AGG",
		UniverseCount: api.DefaultUniverseCount,
		LookbackDays:  api.DefaultLookbackDays,
	}
}

func (o Options) initialState() State {
	return State{
		Amount:        o.Amount,
		Risk:          o.Risk,
		SymbolsText:   o.SymbolsText,
		UniverseCount: o.UniverseCount,
		Universe:      api.UniverseState{Symbols: []string{}},
	}
}
