package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/sentibot/internal/domain"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the complete agent configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Sources  SourcesConfig  `yaml:"sources"`
	Research ResearchConfig `yaml:"research"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// AgentConfig holds the trading tunables. It is loaded once per run.
type AgentConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Watchlist []string `yaml:"watchlist"`
	Workers   int      `yaml:"workers"` // ingestion/scoring pool size, 0 = NumCPU×2

	TickIntervalMs                 int `yaml:"tick_interval_ms"`
	DataPollIntervalMs             int `yaml:"data_poll_interval_ms"`
	AnalystIntervalMs              int `yaml:"analyst_interval_ms"`
	PremarketPlanWindowMinutes     int `yaml:"premarket_plan_window_minutes"`
	MarketOpenExecuteWindowMinutes int `yaml:"market_open_execute_window_minutes"`

	MaxPositionValue      float64 `yaml:"max_position_value"`
	MaxPositions          int     `yaml:"max_positions"`
	MinSentimentScore     float64 `yaml:"min_sentiment_score"`
	MinAnalystConfidence  float64 `yaml:"min_analyst_confidence"`
	TakeProfitPct         float64 `yaml:"take_profit_pct"`
	StopLossPct           float64 `yaml:"stop_loss_pct"`
	PositionSizePctOfCash float64 `yaml:"position_size_pct_of_cash"`

	StalePositionEnabled   bool    `yaml:"stale_position_enabled"`
	StaleMinHoldHours      float64 `yaml:"stale_min_hold_hours"`
	StaleMaxHoldDays       float64 `yaml:"stale_max_hold_days"`
	StaleMinGainPct        float64 `yaml:"stale_min_gain_pct"`
	StaleMidHoldDays       float64 `yaml:"stale_mid_hold_days"`
	StaleMidMinGainPct     float64 `yaml:"stale_mid_min_gain_pct"`
	StaleSocialVolumeDecay float64 `yaml:"stale_social_volume_decay"`

	LLMMinHoldMinutes int `yaml:"llm_min_hold_minutes"`

	OptionsEnabled        bool    `yaml:"options_enabled"`
	OptionsMinConfidence  float64 `yaml:"options_min_confidence"`
	OptionsMaxPctPerTrade float64 `yaml:"options_max_pct_per_trade"` // fraction of cash
	OptionsMinDTE         int     `yaml:"options_min_dte"`
	OptionsMaxDTE         int     `yaml:"options_max_dte"`
	OptionsTargetDelta    float64 `yaml:"options_target_delta"`
	OptionsMinDelta       float64 `yaml:"options_min_delta"`
	OptionsMaxDelta       float64 `yaml:"options_max_delta"`
	OptionsStopLossPct    float64 `yaml:"options_stop_loss_pct"`
	OptionsTakeProfitPct  float64 `yaml:"options_take_profit_pct"`

	CryptoEnabled           bool     `yaml:"crypto_enabled"`
	CryptoSymbols           []string `yaml:"crypto_symbols"`
	CryptoMomentumThreshold float64  `yaml:"crypto_momentum_threshold"`
	CryptoMaxPositionValue  float64  `yaml:"crypto_max_position_value"`
	CryptoTakeProfitPct     float64  `yaml:"crypto_take_profit_pct"`
	CryptoStopLossPct       float64  `yaml:"crypto_stop_loss_pct"`

	TickerBlacklist  []string `yaml:"ticker_blacklist"`
	AllowedExchanges []string `yaml:"allowed_exchanges"`
}

// SourcesConfig holds the trust and engagement tables used for scoring.
type SourcesConfig struct {
	Weights              map[string]float64 `yaml:"weights"`
	FlairMultipliers     map[string]float64 `yaml:"flair_multipliers"`
	UpvoteCurve          map[int]float64    `yaml:"upvote_curve"`
	CommentCurve         map[int]float64    `yaml:"comment_curve"`
	DecayHalfLifeMinutes float64            `yaml:"decay_half_life_minutes"`
}

// ResearchConfig controls the LLM research collaborator and its gate.
type ResearchConfig struct {
	Provider           string         `yaml:"llm_provider"` // openai | none
	Model              string         `yaml:"llm_model"`
	AnalystModel       string         `yaml:"llm_analyst_model"`
	APIKey             string         `yaml:"-"` // OPENAI_API_KEY only
	BaseURL            string         `yaml:"base_url"`
	Temperature        float64        `yaml:"temperature"`
	BudgetUSD          float64        `yaml:"llm_budget_usd"`
	MaxCalls           int            `yaml:"llm_max_calls"`
	ReadQuotas         map[string]int `yaml:"read_quotas"`
	ContextSource      string         `yaml:"context_source"` // mention source read alongside each call
	LeaseTimeoutMs     int            `yaml:"research_lease_timeout_ms"`
	QuotaResetCron     string         `yaml:"quota_reset_cron"`
	MaxResearchPerTick int            `yaml:"max_research_per_tick"`
	Workers            int            `yaml:"workers"`
	PositionResearchMs int            `yaml:"position_research_interval_ms"`
}

// APIConfig holds the external endpoints and credentials.
type APIConfig struct {
	StocktwitsBase       string  `yaml:"stocktwits_base"`
	StocktwitsRatePerSec float64 `yaml:"stocktwits_rate_per_sec"`
	Broker               string  `yaml:"broker"` // paper
	PaperCashUSD         float64 `yaml:"paper_cash_usd"`
	EquityQuotes         string  `yaml:"equity_quotes"` // yahoo | none
	YahooBase            string  `yaml:"yahoo_base"`
	YahooRatePerSec      float64 `yaml:"yahoo_rate_per_sec"`
	BinanceAPIKey        string  `yaml:"-"`
	BinanceSecret        string  `yaml:"-"`
}

// StorageConfig controls where state is persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls log format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Enabled:                        false,
			Watchlist:                      []string{"AAPL", "TSLA", "NVDA", "AMD", "MSFT", "BTC/USD", "ETH/USD", "SOL/USD"},
			TickIntervalMs:                 5_000,
			DataPollIntervalMs:             30_000,
			AnalystIntervalMs:              120_000,
			PremarketPlanWindowMinutes:     5,
			MarketOpenExecuteWindowMinutes: 2,
			MaxPositionValue:               2,
			MaxPositions:                   5,
			MinSentimentScore:              0.25,
			MinAnalystConfidence:           0.55,
			TakeProfitPct:                  12,
			StopLossPct:                    4,
			PositionSizePctOfCash:          2,
			StalePositionEnabled:           true,
			StaleMinHoldHours:              18,
			StaleMaxHoldDays:               3,
			StaleMinGainPct:                5,
			StaleMidHoldDays:               2,
			StaleMidMinGainPct:             3,
			StaleSocialVolumeDecay:         0.3,
			LLMMinHoldMinutes:              30,
			OptionsEnabled:                 false,
			OptionsMinConfidence:           0.8,
			OptionsMaxPctPerTrade:          0.02,
			OptionsMinDTE:                  30,
			OptionsMaxDTE:                  60,
			OptionsTargetDelta:             0.45,
			OptionsMinDelta:                0.3,
			OptionsMaxDelta:                0.7,
			OptionsStopLossPct:             50,
			OptionsTakeProfitPct:           100,
			CryptoEnabled:                  true,
			CryptoSymbols:                  []string{"BTC/USD", "ETH/USD", "SOL/USD"},
			CryptoMomentumThreshold:        2.0,
			CryptoMaxPositionValue:         2,
			CryptoTakeProfitPct:            10,
			CryptoStopLossPct:              5,
			TickerBlacklist:                []string{},
			AllowedExchanges:               []string{"NYSE", "NASDAQ", "ARCA", "AMEX", "BATS"},
		},
		Sources: SourcesConfig{
			Weights:              domain.DefaultSourceWeights(),
			FlairMultipliers:     domain.DefaultFlairMultipliers(),
			UpvoteCurve:          domain.DefaultUpvoteCurve(),
			CommentCurve:         domain.DefaultCommentCurve(),
			DecayHalfLifeMinutes: domain.DefaultHalfLifeMinutes,
		},
		Research: ResearchConfig{
			Provider:           "openai",
			Model:              "openai/gpt-4o-mini",
			AnalystModel:       "openai/gpt-4o",
			Temperature:        0.2,
			BudgetUSD:          5,
			MaxCalls:           500,
			ReadQuotas:         map[string]int{domain.SourceStocktwits: 200},
			ContextSource:      domain.SourceStocktwits,
			LeaseTimeoutMs:     120_000,
			QuotaResetCron:     "CRON_TZ=America/New_York 0 0 * * *",
			MaxResearchPerTick: 5,
			Workers:            3,
			PositionResearchMs: 300_000,
		},
		API: APIConfig{
			StocktwitsBase:       "https://api.stocktwits.com/api/2",
			StocktwitsRatePerSec: 3,
			Broker:               "paper",
			PaperCashUSD:         100,
			EquityQuotes:         "yahoo",
			YahooBase:            "https://query1.finance.yahoo.com",
			YahooRatePerSec:      2,
		},
		Storage: StorageConfig{DSN: "sentibot.db"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env and
// environment overrides. An empty path uses the defaults alone.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		// Flair and engagement tables are replaced whole when the file sets
		// them; weights and read quotas merge key by key over the defaults.
		s := &cfg.Sources
		s.FlairMultipliers, s.UpvoteCurve, s.CommentCurve = nil, nil, nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
		d := Default().Sources
		if s.FlairMultipliers == nil {
			s.FlairMultipliers = d.FlairMultipliers
		}
		if s.UpvoteCurve == nil {
			s.UpvoteCurve = d.UpvoteCurve
		}
		if s.CommentCurve == nil {
			s.CommentCurve = d.CommentCurve
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Research.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Research.BaseURL = v
	}
	if v := os.Getenv("AGENT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Agent.Enabled = b
		}
	}
	if v := os.Getenv("SQLITE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.API.BinanceAPIKey = v
	}
	if v := os.Getenv("BINANCE_SECRET"); v != "" {
		cfg.API.BinanceSecret = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	d := Default()
	if cfg.Agent.TickIntervalMs <= 0 {
		cfg.Agent.TickIntervalMs = d.Agent.TickIntervalMs
	}
	if cfg.Agent.DataPollIntervalMs <= 0 {
		cfg.Agent.DataPollIntervalMs = d.Agent.DataPollIntervalMs
	}
	if cfg.Agent.AnalystIntervalMs <= 0 {
		cfg.Agent.AnalystIntervalMs = d.Agent.AnalystIntervalMs
	}
	if cfg.Sources.DecayHalfLifeMinutes <= 0 {
		cfg.Sources.DecayHalfLifeMinutes = d.Sources.DecayHalfLifeMinutes
	}
	if cfg.Research.LeaseTimeoutMs <= 0 {
		cfg.Research.LeaseTimeoutMs = d.Research.LeaseTimeoutMs
	}
	if cfg.Research.QuotaResetCron == "" {
		cfg.Research.QuotaResetCron = d.Research.QuotaResetCron
	}
	if cfg.Research.PositionResearchMs <= 0 {
		cfg.Research.PositionResearchMs = d.Research.PositionResearchMs
	}
	if cfg.Research.Workers <= 0 {
		cfg.Research.Workers = 1
	}
	if cfg.Research.AnalystModel == "" {
		cfg.Research.AnalystModel = cfg.Research.Model
	}
	if cfg.API.StocktwitsBase == "" {
		cfg.API.StocktwitsBase = d.API.StocktwitsBase
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = d.Storage.DSN
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate rejects non-finite or negative tunables and inconsistent bands.
func (c *Config) Validate() error {
	a := c.Agent
	nonNeg := map[string]float64{
		"max_position_value":        a.MaxPositionValue,
		"take_profit_pct":           a.TakeProfitPct,
		"stop_loss_pct":             a.StopLossPct,
		"position_size_pct_of_cash": a.PositionSizePctOfCash,
		"stale_min_hold_hours":      a.StaleMinHoldHours,
		"stale_max_hold_days":       a.StaleMaxHoldDays,
		"stale_min_gain_pct":        a.StaleMinGainPct,
		"stale_mid_hold_days":       a.StaleMidHoldDays,
		"stale_mid_min_gain_pct":    a.StaleMidMinGainPct,
		"options_max_pct_per_trade": a.OptionsMaxPctPerTrade,
		"options_stop_loss_pct":     a.OptionsStopLossPct,
		"options_take_profit_pct":   a.OptionsTakeProfitPct,
		"crypto_momentum_threshold": a.CryptoMomentumThreshold,
		"crypto_max_position_value": a.CryptoMaxPositionValue,
		"crypto_take_profit_pct":    a.CryptoTakeProfitPct,
		"crypto_stop_loss_pct":      a.CryptoStopLossPct,
		"llm_budget_usd":            c.Research.BudgetUSD,
		"decay_half_life_minutes":   c.Sources.DecayHalfLifeMinutes,
	}
	for name, v := range nonNeg {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("config: %s must be finite and non-negative, got %v", name, v)
		}
	}

	unit := map[string]float64{
		"min_sentiment_score":       a.MinSentimentScore,
		"min_analyst_confidence":    a.MinAnalystConfidence,
		"options_min_confidence":    a.OptionsMinConfidence,
		"options_max_pct_per_trade": a.OptionsMaxPctPerTrade,
		"options_target_delta":      a.OptionsTargetDelta,
		"options_min_delta":         a.OptionsMinDelta,
		"options_max_delta":         a.OptionsMaxDelta,
		"stale_social_volume_decay": a.StaleSocialVolumeDecay,
	}
	for name, v := range unit {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("config: %s must be in [0, 1], got %v", name, v)
		}
	}
	if a.PositionSizePctOfCash > 100 {
		return fmt.Errorf("config: position_size_pct_of_cash must be a percent, got %v", a.PositionSizePctOfCash)
	}

	for source, w := range c.Sources.Weights {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return fmt.Errorf("config: source weight %q must be in [0, 1], got %v", source, w)
		}
	}
	for flair, m := range c.Sources.FlairMultipliers {
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			return fmt.Errorf("config: flair multiplier %q must be finite and non-negative", flair)
		}
	}

	if a.MaxPositions <= 0 {
		return fmt.Errorf("config: max_positions must be > 0, got %d", a.MaxPositions)
	}
	if a.TickIntervalMs <= 0 || a.DataPollIntervalMs <= 0 || a.AnalystIntervalMs <= 0 {
		return fmt.Errorf("config: intervals must be > 0")
	}
	if a.PremarketPlanWindowMinutes < 0 || a.MarketOpenExecuteWindowMinutes < 0 {
		return fmt.Errorf("config: plan windows must be >= 0")
	}
	if a.StaleMidHoldDays > a.StaleMaxHoldDays {
		return fmt.Errorf("config: stale_mid_hold_days (%v) > stale_max_hold_days (%v)", a.StaleMidHoldDays, a.StaleMaxHoldDays)
	}
	if a.OptionsMinDTE > a.OptionsMaxDTE {
		return fmt.Errorf("config: options_min_dte (%d) > options_max_dte (%d)", a.OptionsMinDTE, a.OptionsMaxDTE)
	}
	if a.OptionsMinDelta > a.OptionsTargetDelta || a.OptionsTargetDelta > a.OptionsMaxDelta {
		return fmt.Errorf("config: options deltas must satisfy min <= target <= max")
	}
	for _, s := range a.CryptoSymbols {
		if domain.ClassifyTicker(s) != domain.AssetCrypto {
			return fmt.Errorf("config: crypto symbol %q must be a pair like BTC/USD", s)
		}
	}
	if c.Research.MaxCalls < 0 {
		return fmt.Errorf("config: llm_max_calls must be >= 0")
	}
	for source, n := range c.Research.ReadQuotas {
		if n < 0 {
			return fmt.Errorf("config: read quota %q must be >= 0", source)
		}
	}
	if _, err := cron.ParseStandard(c.Research.QuotaResetCron); err != nil {
		return fmt.Errorf("config: quota_reset_cron: %w", err)
	}
	switch strings.ToLower(c.Research.Provider) {
	case "openai", "none", "":
	default:
		return fmt.Errorf("config: unknown llm_provider %q", c.Research.Provider)
	}
	switch strings.ToLower(c.API.EquityQuotes) {
	case "yahoo", "none", "":
	default:
		return fmt.Errorf("config: unknown equity_quotes %q", c.API.EquityQuotes)
	}
	return nil
}

// ResearchEnabled reports whether LLM research can run at all.
func (c *Config) ResearchEnabled() bool {
	p := strings.ToLower(c.Research.Provider)
	return p != "none" && p != "" && c.Research.APIKey != ""
}

// TickInterval devuelve el intervalo del loop como time.Duration.
func (c *Config) TickInterval() time.Duration { return ms(c.Agent.TickIntervalMs) }

// DataPollInterval is the ingestion cadence.
func (c *Config) DataPollInterval() time.Duration { return ms(c.Agent.DataPollIntervalMs) }

// AnalystInterval is the lifecycle/research cadence.
func (c *Config) AnalystInterval() time.Duration { return ms(c.Agent.AnalystIntervalMs) }

// PlanWindow is how long before the open the premarket plan may be built.
func (c *Config) PlanWindow() time.Duration {
	return time.Duration(c.Agent.PremarketPlanWindowMinutes) * time.Minute
}

// ExecuteWindow is how long after the open the plan may be executed.
func (c *Config) ExecuteWindow() time.Duration {
	return time.Duration(c.Agent.MarketOpenExecuteWindowMinutes) * time.Minute
}

// PositionResearchInterval is the cadence of analyst reviews of held positions.
func (c *Config) PositionResearchInterval() time.Duration { return ms(c.Research.PositionResearchMs) }

// LeaseTimeout is the research gate lease duration.
func (c *Config) LeaseTimeout() time.Duration { return ms(c.Research.LeaseTimeoutMs) }

// LLMMinHold guards analyst exits.
func (c *Config) LLMMinHold() time.Duration {
	return time.Duration(c.Agent.LLMMinHoldMinutes) * time.Minute
}

// Weighting builds the scoring tables.
func (c *Config) Weighting() *domain.Weighting {
	s := c.Sources
	return domain.NewWeighting(
		domain.SourcesFromWeights(s.Weights),
		s.FlairMultipliers,
		s.UpvoteCurve,
		s.CommentCurve,
		s.DecayHalfLifeMinutes,
	)
}

// EquityRules, CryptoRules and OptionRules are the per-class rule sets.
func (c *Config) EquityRules() domain.AssetRules {
	return domain.AssetRules{
		Class:         domain.AssetEquity,
		MaxValueUSD:   c.Agent.MaxPositionValue,
		StopLossPct:   c.Agent.StopLossPct,
		TakeProfitPct: c.Agent.TakeProfitPct,
	}
}

func (c *Config) CryptoRules() domain.AssetRules {
	return domain.AssetRules{
		Class:         domain.AssetCrypto,
		MaxValueUSD:   c.Agent.CryptoMaxPositionValue,
		StopLossPct:   c.Agent.CryptoStopLossPct,
		TakeProfitPct: c.Agent.CryptoTakeProfitPct,
	}
}

func (c *Config) OptionRules() domain.AssetRules {
	return domain.AssetRules{
		Class:         domain.AssetOption,
		MaxPctOfCash:  c.Agent.OptionsMaxPctPerTrade,
		StopLossPct:   c.Agent.OptionsStopLossPct,
		TakeProfitPct: c.Agent.OptionsTakeProfitPct,
		MinConfidence: c.Agent.OptionsMinConfidence,
	}
}

// OptionSelection bounds contract selection.
func (c *Config) OptionSelection() domain.OptionSelection {
	return domain.OptionSelection{
		MinDTE:      c.Agent.OptionsMinDTE,
		MaxDTE:      c.Agent.OptionsMaxDTE,
		TargetDelta: c.Agent.OptionsTargetDelta,
		MinDelta:    c.Agent.OptionsMinDelta,
		MaxDelta:    c.Agent.OptionsMaxDelta,
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
