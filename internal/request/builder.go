// Package request 将用户原始输入整理为推荐请求参数。
package request

import (
	"errors"
	"fmt"
	"strings"

	"invest-recommender/internal/api"
)

// ErrInvalidRisk 表示风险偏好不在可选范围内。
var ErrInvalidRisk = errors.New("request: 无效的风险偏好")

// Fields 为会话中与推荐请求相关的原始字段。
type Fields struct {
	Amount      float64
	Risk        api.RiskProfile
	SymbolsText string
}

// ParseSymbols 按逗号切分并去除首尾空白，丢弃空项；保留原始顺序，不去重。
func ParseSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	symbols := make([]string, 0, len(parts))
	for _, part := range parts {
		if sym := strings.TrimSpace(part); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	return symbols
}

// Build 由会话字段构造推荐请求。金额原样透传，正数校验交由服务端完成。
func Build(f Fields) (api.RecommendationRequest, error) {
	if !f.Risk.Valid() {
		return api.RecommendationRequest{}, fmt.Errorf("%w: %q", ErrInvalidRisk, string(f.Risk))
	}

	return api.RecommendationRequest{
		Amount:  f.Amount,
		Risk:    f.Risk,
		Symbols: ParseSymbols(f.SymbolsText),
	}, nil
}
