package llm

import (
	"fmt"
	"math"
	"strings"

	json "github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

// verdict is the JSON object the model is asked to return.
type verdict struct {
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
}

// ParseVerdict repairs and decodes a model reply. Unknown recommendations
// become SKIP and confidence is clamped to [0, 1].
func ParseVerdict(content string) (domain.Recommendation, float64, string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", 0, "", fmt.Errorf("llm.ParseVerdict: empty reply")
	}
	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return "", 0, "", fmt.Errorf("llm.ParseVerdict: repair JSON: %w", err)
	}

	var v verdict
	if err := json.UnmarshalString(repaired, &v); err != nil {
		return "", 0, "", fmt.Errorf("llm.ParseVerdict: decode: %w", err)
	}

	rec := domain.Recommendation(strings.ToUpper(strings.TrimSpace(v.Recommendation)))
	switch rec {
	case domain.RecommendBuy, domain.RecommendSell, domain.RecommendHold, domain.RecommendSkip:
	default:
		rec = domain.RecommendSkip
	}

	conf := v.Confidence
	if math.IsNaN(conf) || conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return rec, conf, strings.TrimSpace(v.Reasoning), nil
}
