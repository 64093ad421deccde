package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/sentibot/config"
	"github.com/alejandrodnm/sentibot/internal/adapters/binance"
	"github.com/alejandrodnm/sentibot/internal/adapters/clock"
	"github.com/alejandrodnm/sentibot/internal/adapters/llm"
	"github.com/alejandrodnm/sentibot/internal/adapters/notify"
	"github.com/alejandrodnm/sentibot/internal/adapters/paper"
	"github.com/alejandrodnm/sentibot/internal/adapters/stocktwits"
	"github.com/alejandrodnm/sentibot/internal/adapters/storage"
	"github.com/alejandrodnm/sentibot/internal/adapters/yahoo"
	"github.com/alejandrodnm/sentibot/internal/application/agent"
	"github.com/alejandrodnm/sentibot/internal/application/engine"
	"github.com/alejandrodnm/sentibot/internal/application/lifecycle"
	"github.com/alejandrodnm/sentibot/internal/application/planner"
	"github.com/alejandrodnm/sentibot/internal/application/research"
	"github.com/alejandrodnm/sentibot/internal/application/signals"
	"github.com/alejandrodnm/sentibot/internal/ports"
)

type app struct {
	agent *agent.Agent
	store *storage.SQLiteStorage
	once  sync.Once
}

func (a *app) close() {
	a.once.Do(func() {
		if err := a.store.Close(); err != nil {
			slog.Warn("failed to close storage", "err", err)
		}
	})
}

// build wires the adapters into the agent.
func build(cfg *config.Config, table bool) (*app, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}

	session, err := clock.NewSession(clock.NYSEHolidays2026, nil)
	if err != nil {
		store.Close()
		return nil, err
	}

	st := stocktwits.NewClient(cfg.API.StocktwitsBase, cfg.API.StocktwitsRatePerSec)
	sources := []ports.MentionSource{st}

	market := binance.NewMarket(cfg.API.BinanceAPIKey, cfg.API.BinanceSecret, "")
	if cfg.API.Broker != "paper" {
		slog.Warn("only the paper broker is available, ignoring config", "broker", cfg.API.Broker)
	}
	brokerOpts := []paper.Option{
		paper.WithCryptoFeed(market),
		paper.WithDefaultExchange("NASDAQ"),
	}
	if strings.EqualFold(cfg.API.EquityQuotes, "yahoo") {
		brokerOpts = append(brokerOpts, paper.WithEquityFeed(yahoo.NewQuotes(cfg.API.YahooBase, cfg.API.YahooRatePerSec)))
	} else {
		slog.Warn("no equity quote source, equities will not be traded", "equity_quotes", cfg.API.EquityQuotes)
	}
	broker := paper.New(cfg.API.PaperCashUSD, brokerOpts...)

	now := time.Now()
	gate, err := research.NewGate(research.GateConfig{
		Enabled:       cfg.ResearchEnabled(),
		BudgetUSD:     cfg.Research.BudgetUSD,
		MaxCalls:      cfg.Research.MaxCalls,
		ReadQuotas:    cfg.Research.ReadQuotas,
		LeaseTimeout:  cfg.LeaseTimeout(),
		ResetSchedule: cfg.Research.QuotaResetCron,
	}, now)
	if err != nil {
		store.Close()
		return nil, err
	}

	var researcher ports.Researcher
	if cfg.ResearchEnabled() {
		var opts []llm.Option
		if cfg.Research.ContextSource == st.Name() {
			opts = append(opts, llm.WithContextSource(st))
		}
		researcher = llm.New(llm.Config{
			APIKey:       cfg.Research.APIKey,
			BaseURL:      cfg.Research.BaseURL,
			Model:        cfg.Research.Model,
			AnalystModel: cfg.Research.AnalystModel,
			Temperature:  cfg.Research.Temperature,
		}, opts...)
	}
	analyst := research.NewAnalyst(gate, researcher, engine.DefaultRetry)

	cache := signals.NewCache(signals.DefaultMaxHistory, signals.DefaultRetention)
	gatherer := signals.NewGatherer(sources, cfg.Weighting(), cfg.Agent.Workers, engine.DefaultRetry)

	a := cfg.Agent
	lc := lifecycle.NewManager(lifecycle.Config{
		MaxPositions:            a.MaxPositions,
		PositionSizePctOfCash:   a.PositionSizePctOfCash,
		Equity:                  cfg.EquityRules(),
		Crypto:                  cfg.CryptoRules(),
		Option:                  cfg.OptionRules(),
		CryptoEnabled:           a.CryptoEnabled,
		CryptoSymbols:           a.CryptoSymbols,
		CryptoMomentumThreshold: a.CryptoMomentumThreshold,
		OptionsEnabled:          a.OptionsEnabled,
		OptionSelection:         cfg.OptionSelection(),
		Blacklist:               a.TickerBlacklist,
		AllowedExchanges:        a.AllowedExchanges,
		Stale: lifecycle.StalePolicy{
			Enabled:           a.StalePositionEnabled,
			MinHold:           hours(a.StaleMinHoldHours),
			MidHold:           hours(a.StaleMidHoldDays * 24),
			MaxHold:           hours(a.StaleMaxHoldDays * 24),
			MinGainPct:        a.StaleMinGainPct,
			MidMinGainPct:     a.StaleMidMinGainPct,
			SocialVolumeDecay: a.StaleSocialVolumeDecay,
		},
		AnalystMinHold:       cfg.LLMMinHold(),
		AnalystMinConfidence: a.MinAnalystConfidence,
	}, broker, cache.Volume,
		lifecycle.WithMomentum(market),
		lifecycle.WithOptionChains(broker),
		lifecycle.WithRecorder(store),
		lifecycle.WithRetry(engine.DefaultRetry),
	)

	plan := planner.New(planner.Config{
		PlanWindow:    cfg.PlanWindow(),
		ExecuteWindow: cfg.ExecuteWindow(),
		MinSentiment:  a.MinSentimentScore,
		Location:      session.Location(),
	})

	ag := agent.New(agent.Config{
		Enabled:                  a.Enabled,
		Watchlist:                a.Watchlist,
		TickInterval:             cfg.TickInterval(),
		DataPollInterval:         cfg.DataPollInterval(),
		AnalystInterval:          cfg.AnalystInterval(),
		PositionResearchInterval: cfg.PositionResearchInterval(),
		MinSentiment:             a.MinSentimentScore,
		MinAnalystConfidence:     a.MinAnalystConfidence,
		MaxResearchPerTick:       cfg.Research.MaxResearchPerTick,
		ResearchWorkers:          cfg.Research.Workers,
		ContextSource:            cfg.Research.ContextSource,
		CryptoEnabled:            a.CryptoEnabled,
		CryptoSymbols:            a.CryptoSymbols,
		OptionsEnabled:           a.OptionsEnabled,
	}, agent.Deps{
		Clock:     session,
		Gatherer:  gatherer,
		Cache:     cache,
		Analyst:   analyst,
		Lifecycle: lc,
		Planner:   plan,
		Store:     store,
		Notifier:  notify.NewConsole(table),
	})

	return &app{agent: ag, store: store}, nil
}

func hours(h float64) time.Duration { return time.Duration(h * float64(time.Hour)) }
