package llm

import (
	"strings"
	"testing"

	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		rec     domain.Recommendation
		conf    float64
		wantErr bool
	}{
		{"clean", `{"recommendation":"BUY","confidence":0.9,"reasoning":"ok"}`, domain.RecommendBuy, 0.9, false},
		{"lowercase", `{"recommendation":"sell","confidence":0.6}`, domain.RecommendSell, 0.6, false},
		{"trailing comma", `{"recommendation":"HOLD","confidence":0.4,}`, domain.RecommendHold, 0.4, false},
		{"unknown verdict", `{"recommendation":"STRONG BUY","confidence":0.8}`, domain.RecommendSkip, 0.8, false},
		{"confidence clamped", `{"recommendation":"BUY","confidence":85}`, domain.RecommendBuy, 1, false},
		{"negative confidence", `{"recommendation":"BUY","confidence":-0.2}`, domain.RecommendBuy, 0, false},
		{"empty", "  ", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, conf, _, err := ParseVerdict(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.rec, rec)
			assert.InDelta(t, tt.conf, conf, 1e-9)
		})
	}
}

func TestUserPrompt_CapsPosts(t *testing.T) {
	posts := make([]domain.RawMention, 40)
	for i := range posts {
		posts[i] = domain.RawMention{Text: "post   with\nspaces", Sentiment: 1}
	}
	p := userPrompt(domain.ResearchRequest{Ticker: "AAPL"}, posts)
	assert.Equal(t, maxContextPosts, strings.Count(p, "\n- [+1"))
	assert.Contains(t, p, "post with spaces")
}
