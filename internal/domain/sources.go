package domain

const (
	DefaultHalfLifeMinutes = 120.0
	pruneHalfLives         = 10.0
)

// Known source ids.
const (
	SourceStocktwits      = "stocktwits"
	SourceWallStreetBets  = "reddit_wallstreetbets"
	SourceRedditStocks    = "reddit_stocks"
	SourceRedditInvesting = "reddit_investing"
	SourceRedditOptions   = "reddit_options"
	SourceFintwit         = "twitter_fintwit"
	SourceTwitterNews     = "twitter_news"
	SourceSEC8K           = "sec_8k"
	SourceSEC4            = "sec_4"
	SourceSEC13F          = "sec_13f"
)

// DefaultSourceWeights is the stock trust table.
func DefaultSourceWeights() map[string]float64 {
	return map[string]float64{
		SourceStocktwits:      0.85,
		SourceWallStreetBets:  0.6,
		SourceRedditStocks:    0.9,
		SourceRedditInvesting: 0.8,
		SourceRedditOptions:   0.85,
		SourceFintwit:         0.95,
		SourceTwitterNews:     0.9,
		SourceSEC8K:           0.95,
		SourceSEC4:            0.9,
		SourceSEC13F:          0.7,
	}
}

// DefaultFlairMultipliers boosts research-style posts and discounts noise.
func DefaultFlairMultipliers() map[string]float64 {
	return map[string]float64{
		"DD":                 1.5,
		"Technical Analysis": 1.3,
		"Fundamentals":       1.3,
		"News":               1.2,
		"Discussion":         1.0,
		"Chart":              1.1,
		"Daily Discussion":   0.7,
		"Weekend Discussion": 0.6,
		"YOLO":               0.6,
		"Gain":               0.5,
		"Loss":               0.5,
		"Meme":               0.4,
		"Shitpost":           0.3,
	}
}

// DefaultUpvoteCurve is the upvote-like engagement curve.
func DefaultUpvoteCurve() map[int]float64 {
	return map[int]float64{1000: 1.5, 500: 1.3, 200: 1.2, 100: 1.1, 50: 1.0, 0: 0.8}
}

// DefaultCommentCurve is the comment-like engagement curve.
func DefaultCommentCurve() map[int]float64 {
	return map[int]float64{200: 1.4, 100: 1.25, 50: 1.15, 20: 1.05, 0: 0.9}
}

// SourcesFromWeights turns an id → trust map into profiles.
func SourcesFromWeights(weights map[string]float64) []SourceProfile {
	out := make([]SourceProfile, 0, len(weights))
	for id, trust := range weights {
		out = append(out, SourceProfile{ID: id, Trust: trust})
	}
	return out
}

// DefaultWeighting builds a Weighting from the stock tables.
func DefaultWeighting() *Weighting {
	return NewWeighting(
		SourcesFromWeights(DefaultSourceWeights()),
		DefaultFlairMultipliers(),
		DefaultUpvoteCurve(),
		DefaultCommentCurve(),
		DefaultHalfLifeMinutes,
	)
}
