// Package yahoo quotes US equities from the public Yahoo Finance chart API.
// It backs the paper broker for symbols without a fixed price.
package yahoo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

const (
	defaultBase       = "https://query1.finance.yahoo.com"
	defaultRatePerSec = 2
)

// Quotes implements paper.PriceFeed for equities.
type Quotes struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewQuotes creates a Quotes client. base vacío usa producción.
func NewQuotes(base string, ratePerSec float64) *Quotes {
	if base == "" {
		base = defaultBase
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	return &Quotes{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    strings.TrimRight(base, "/"),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 2),
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Price returns the regular-market price of ticker, or the last non-null
// intraday close when the meta block has none.
func (q *Quotes) Price(ctx context.Context, ticker string) (float64, error) {
	ticker = domain.NormalizeTicker(ticker)
	if domain.ClassifyTicker(ticker) != domain.AssetEquity {
		return 0, fmt.Errorf("yahoo.Price: %s: not an equity", ticker)
	}
	if err := q.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("yahoo.Price: rate limiter: %w", err)
	}

	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1m&range=1d", q.base, url.PathEscape(ticker))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("yahoo.Price: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := q.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("yahoo.Price: %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("yahoo.Price: %s: read body: %w", ticker, err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("yahoo.Price: %s: status %d", ticker, resp.StatusCode)
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return 0, fmt.Errorf("yahoo.Price: %s: decode: %w", ticker, err)
	}
	if chart.Chart.Error != nil {
		return 0, fmt.Errorf("yahoo.Price: %s: %s", ticker, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return 0, fmt.Errorf("yahoo.Price: %s: no data", ticker)
	}

	r := chart.Chart.Result[0]
	if r.Meta.RegularMarketPrice > 0 {
		return r.Meta.RegularMarketPrice, nil
	}
	if len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] != nil && *closes[i] > 0 {
				return *closes[i], nil
			}
		}
	}
	return 0, fmt.Errorf("yahoo.Price: %s: no price", ticker)
}
