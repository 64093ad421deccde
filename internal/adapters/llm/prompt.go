package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/sentibot/internal/application/engine"
	"github.com/alejandrodnm/sentibot/internal/domain"
)

const systemPrompt = `You are a disciplined equity and crypto analyst for a small long-only trading agent.
You receive an aggregated social sentiment signal for one ticker and, when available,
a sample of recent posts. Judge whether the signal is worth acting on.

Answer with a single JSON object and nothing else:
{"recommendation": "BUY" | "SELL" | "HOLD" | "SKIP", "confidence": 0.0-1.0, "reasoning": "<one or two sentences>"}

Rules:
- BUY only when the sentiment is bullish and the posts contain a concrete catalyst.
- SKIP when the signal looks like hype, spam or coordinated pumping.
- Confidence reflects how strongly the evidence supports the recommendation.`

const analystPrompt = `You are the risk analyst of a small long-only trading agent reviewing an open position.
You receive the position, its unrealized gain and the current social signal.
Decide whether the position should be kept or sold now.

Answer with a single JSON object and nothing else:
{"recommendation": "HOLD" | "SELL", "confidence": 0.0-1.0, "reasoning": "<one or two sentences>"}

Rules:
- SELL when the original thesis is gone: sentiment has flipped or the crowd has moved on.
- HOLD when the thesis is intact, even if the gain is small.
- Never recommend BUY.`

const maxContextPosts = 15

// system returns the system prompt for mode.
func system(mode domain.ResearchMode) string {
	if mode == domain.ModeAnalyst {
		return analystPrompt
	}
	return systemPrompt
}

// userPrompt describes the request and the sampled posts.
func userPrompt(req domain.ResearchRequest, posts []domain.RawMention) string {
	var b strings.Builder
	s := req.Signal
	fmt.Fprintf(&b, "Ticker: %s (%s)\n", req.Ticker, domain.ClassifyTicker(req.Ticker))
	fmt.Fprintf(&b, "Signal: sentiment=%.3f confidence=%.3f mentions=%d weight=%.2f computed_at=%s\n",
		s.Sentiment, s.Confidence, s.MentionCount, s.TotalWeight, s.ComputedAt.UTC().Format(time.RFC3339))

	if p := req.Position; p != nil {
		fmt.Fprintf(&b, "\nOpen position: state=%s entry=%.4f size_usd=%.2f held_since=%s gain_pct=%.2f\n",
			p.State, p.EntryPrice, p.SizeUSD, p.EntryTime.UTC().Format(time.RFC3339), p.LastGainPct)
		fmt.Fprintf(&b, "Social volume: entry=%.2f now=%.2f\n", p.EntrySocialVolume, p.LastSocialVolume)
	}

	if len(posts) > 0 {
		b.WriteString("\nRecent posts (newest first):\n")
		for i, m := range posts {
			if i == maxContextPosts {
				break
			}
			fmt.Fprintf(&b, "- [%+.0f, %d likes] %s\n", m.Sentiment, m.Upvotes, oneLine(m.Text, 280))
		}
	}
	return b.String()
}

func oneLine(s string, n int) string {
	return engine.TruncateStr(strings.Join(strings.Fields(s), " "), n)
}
