package llm

import "strings"

// price is USD per million tokens.
type price struct {
	in  float64
	out float64
}

// prices of the models the agent routes to. Unknown models fall back to the
// most expensive entry so estimates never undershoot.
var prices = map[string]price{
	"gpt-4o-mini":  {in: 0.15, out: 0.60},
	"gpt-4o":       {in: 2.50, out: 10.00},
	"gpt-4.1-mini": {in: 0.40, out: 1.60},
	"gpt-4.1":      {in: 2.00, out: 8.00},
	"o4-mini":      {in: 1.10, out: 4.40},
}

var fallbackPrice = price{in: 2.50, out: 10.00}

// APIModel strips the provider prefix: "openai/gpt-4o" → "gpt-4o".
func APIModel(model string) string {
	if _, name, ok := strings.Cut(model, "/"); ok {
		return name
	}
	return model
}

// CostUSD prices a call from its token counts.
func CostUSD(model string, tokensIn, tokensOut int64) float64 {
	p, ok := prices[APIModel(model)]
	if !ok {
		p = fallbackPrice
	}
	return (float64(max(tokensIn, 0))*p.in + float64(max(tokensOut, 0))*p.out) / 1_000_000
}

// approxTokens is the usual 4 characters per token estimate.
func approxTokens(s string) int64 {
	return int64(len(s)/4 + 1)
}
