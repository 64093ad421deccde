// Package stocktwits reads the public symbol streams of StockTwits as a
// mention source.
package stocktwits

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/sentibot/internal/domain"
)

const (
	defaultBase = "https://api.stocktwits.com/api/2"

	// Rate limit público: 200 req/hora por IP. Ráfagas cortas toleradas.
	defaultRatePerSec = 3
)

// Client es el HTTP client de StockTwits con rate limiting.
type Client struct {
	http    *http.Client
	base    string
	limiter *rate.Limiter
}

// NewClient crea un Client. base vacío usa la API de producción y
// ratePerSec <= 0 el límite por defecto.
func NewClient(base string, ratePerSec float64) *Client {
	if base == "" {
		base = defaultBase
	}
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	return &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		base:    strings.TrimRight(base, "/"),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 3),
	}
}

// Name implements ports.MentionSource.
func (c *Client) Name() string { return domain.SourceStocktwits }

// FetchMentions devuelve los mensajes recientes del stream de ticker.
func (c *Client) FetchMentions(ctx context.Context, ticker string) ([]domain.RawMention, error) {
	ticker = domain.NormalizeTicker(ticker)
	u := fmt.Sprintf("%s/streams/symbol/%s.json", c.base, url.PathEscape(StreamSymbol(ticker)))

	var resp streamResponse
	if err := c.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("stocktwits.FetchMentions: %s: %w", ticker, err)
	}
	if resp.Response.Status != 0 && resp.Response.Status != http.StatusOK {
		return nil, fmt.Errorf("stocktwits.FetchMentions: %s: api status %d", ticker, resp.Response.Status)
	}

	mentions := make([]domain.RawMention, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		mention, ok := toMention(ticker, m)
		if !ok {
			continue
		}
		mentions = append(mentions, mention)
	}
	return mentions, nil
}

// StreamSymbol convierte un ticker interno al símbolo de StockTwits:
// los pares cripto "BTC/USD" se publican como "BTC.X".
func StreamSymbol(ticker string) string {
	if base, _, ok := strings.Cut(ticker, "/"); ok {
		return base + ".X"
	}
	return ticker
}

// get hace un GET con rate limiting. Sin retries: los reintentos son cosa
// del caller (engine.Retry), que además cuenta cada lectura.
func (c *Client) get(ctx context.Context, u string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("stocktwits: rate limited by API", "url", u)
		return fmt.Errorf("rate limited: status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("client error %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if readErr != nil {
		return fmt.Errorf("read response: %w", readErr)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
