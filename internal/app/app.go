package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"price-feed-oracle/internal/aggregator"
	"price-feed-oracle/internal/alerting"
	"price-feed-oracle/internal/alerts"
	"price-feed-oracle/internal/config"
	"price-feed-oracle/internal/feed"
	"price-feed-oracle/internal/ledger"
	"price-feed-oracle/internal/provider"
	"price-feed-oracle/internal/publisher"
	"price-feed-oracle/internal/registrar"
	"price-feed-oracle/internal/scheduler"
	"price-feed-oracle/internal/server"
	"price-feed-oracle/internal/sourceclient"
	"price-feed-oracle/internal/storage"
	"price-feed-oracle/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// core bundles the constructed service objects. Everything is built once at
// startup and injected; there are no package-level singletons.
type core struct {
	led       ledger.Ledger
	reg       *registrar.Registrar
	agg       *aggregator.Aggregator
	alerts    *alerts.Store
	pub       *publisher.Publisher
	sched     *scheduler.Scheduler
	store     *storage.Store
	sentiment provider.SentimentSource
	fearGreed provider.FearGreedSource
}

func (a *App) newCache(ctx context.Context) (sourceclient.Cache, func(), error) {
	if a.Config.Cache.Backend == "redis" {
		cache, err := sourceclient.NewRedisCache(ctx, a.Config.Cache.Redis, a.Config.Cache.Prefix, a.Config.Cache.Expiry)
		if err != nil {
			return nil, nil, err
		}
		return cache, func() { _ = cache.Close() }, nil
	}
	return sourceclient.NewMemoryCache(), func() {}, nil
}

func (a *App) newProviders(cache sourceclient.Cache) (offchain []provider.PriceSource, onchain provider.PriceSource) {
	cfg := a.Config
	decimals := cfg.Publisher.Decimals

	coingecko := provider.NewCoinGecko(provider.CoinGeckoOptions{
		BaseURL:          cfg.Providers.CoinGecko.BaseURL,
		APIKeys:          cfg.Providers.CoinGecko.APIKeys,
		CoinIDs:          cfg.Providers.CoinGecko.CoinIDs,
		Decimals:         decimals,
		CacheTTL:         cfg.Providers.CoinGecko.CacheTTL,
		RotationInterval: cfg.Providers.CoinGecko.RotationInterval,
		RetryBackoff:     cfg.Providers.CoinGecko.RetryBackoff,
		Timeout:          cfg.Providers.CoinGecko.RequestTimeout,
	}, cache, a.Logger)

	cryptocompare := provider.NewCryptoCompare(provider.CryptoCompareOptions{
		BaseURL:          cfg.Providers.CryptoCompare.BaseURL,
		APIKeys:          cfg.Providers.CryptoCompare.APIKeys,
		Decimals:         decimals,
		CacheTTL:         cfg.Providers.CryptoCompare.CacheTTL,
		RotationInterval: cfg.Providers.CryptoCompare.RotationInterval,
		RetryBackoff:     cfg.Providers.CryptoCompare.RetryBackoff,
		Timeout:          cfg.Providers.CryptoCompare.RequestTimeout,
	}, cache, a.Logger)

	chainlink := provider.NewChainlink(provider.ChainlinkOptions{
		RPCURL:   cfg.Providers.Chainlink.RPCURL,
		Feeds:    cfg.Providers.Chainlink.Feeds,
		CacheTTL: cfg.Providers.Chainlink.CacheTTL,
		Timeout:  cfg.Providers.Chainlink.RequestTimeout,
	}, cache, a.Logger)

	return []provider.PriceSource{coingecko, cryptocompare}, chainlink
}

func (a *App) newSentiment(cache sourceclient.Cache) provider.SentimentSource {
	cfg := a.Config
	return provider.NewSentiment(provider.SentimentOptions{
		BaseURL:          cfg.Sentiment.BaseURL,
		APIKeys:          cfg.Sentiment.APIKeys,
		CoinIDs:          cfg.Providers.CoinGecko.CoinIDs,
		CacheTTL:         cfg.Sentiment.CacheTTL,
		RotationInterval: cfg.Sentiment.RotationInterval,
		Timeout:          cfg.Sentiment.RequestTimeout,
	}, cache, a.Logger)
}

func (a *App) newFearGreed(cache sourceclient.Cache) provider.FearGreedSource {
	cfg := a.Config
	return provider.NewFearGreed(provider.FearGreedOptions{
		BaseURL:  cfg.FearGreed.BaseURL,
		CacheTTL: cfg.FearGreed.CacheTTL,
		Timeout:  cfg.FearGreed.RequestTimeout,
	}, cache, a.Logger)
}

func (a *App) newLedger() (ledger.Ledger, error) {
	return ledger.NewEVM(ledger.EVMOptions{
		RPCURL:          a.Config.Ledger.RPCURL,
		ContractAddress: a.Config.Ledger.ContractAddress,
		PrivateKey:      a.Config.Ledger.PrivateKey,
		ChainID:         a.Config.Ledger.ChainID,
		GasLimit:        a.Config.Ledger.GasLimit,
		Timeout:         a.Config.Ledger.RequestTimeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	return store, store.Close, nil
}

// buildCore assembles the service graph over the given ledger.
func (a *App) buildCore(ctx context.Context, led ledger.Ledger) (*core, func(), error) {
	cache, closeCache, err := a.newCache(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; publish mirror disabled")
	}

	offchain, onchain := a.newProviders(cache)
	priority, _ := aggregator.ParsePriority(a.Config.Publisher.Priority)
	agg := aggregator.New(aggregator.Options{
		Priority: priority,
		Enabled:  a.Config.Publisher.EnabledSources(),
	}, offchain, onchain, a.Logger)

	alertStore := alerts.NewStore(led, a.newNotifier(), a.Logger)

	var mirror storage.PublishStore
	if store != nil {
		mirror = store
	}
	pub := publisher.New(agg, led, mirror, a.triggerHook(alertStore, store), publisher.Options{
		SymbolDelay: a.Config.Publisher.SymbolDelay,
	}, a.Logger)

	sched := scheduler.New(a.cycleFunc(pub, store), a.Logger)

	c := &core{
		led:       led,
		reg:       registrar.New(led, a.Logger),
		agg:       agg,
		alerts:    alertStore,
		pub:       pub,
		sched:     sched,
		store:     store,
		sentiment: a.newSentiment(cache),
		fearGreed: a.newFearGreed(cache),
	}
	closer := func() {
		if closeStore != nil {
			closeStore()
		}
		closeCache()
	}
	return c, closer, nil
}

// triggerHook evaluates alerts against each newly published reading and
// audits emissions into the mirror.
func (a *App) triggerHook(alertStore *alerts.Store, store *storage.Store) publisher.TriggerHook {
	return func(ctx context.Context, reading feed.PriceReading) {
		triggered, err := alertStore.CheckAlerts(ctx, reading.Symbol, reading.Price, reading.Decimals)
		if err != nil {
			a.Logger.Error().Err(err).Str("symbol", reading.Symbol).Msg("alert evaluation failed")
			return
		}
		if store == nil {
			return
		}
		for _, id := range triggered {
			alert, ok := alertStore.Get(id)
			if !ok {
				continue
			}
			event := storage.AlertEvent{
				AlertID:     alert.AlertID,
				Asset:       alert.Asset,
				Condition:   string(alert.Condition),
				Threshold:   thresholdDecimal(alert),
				Price:       reading.Decimal(),
				TriggeredAt: time.Now().UTC(),
			}
			if err := store.InsertAlertEvent(ctx, event); err != nil {
				a.Logger.Error().Err(err).Str("alert_id", id).Msg("failed to audit trigger")
			}
		}
	}
}

// cycleFunc runs one publish pass, guarded by the advisory lock so two
// publisher instances never double-submit the same cycle.
func (a *App) cycleFunc(pub *publisher.Publisher, store *storage.Store) scheduler.CycleFunc {
	lockKey := a.Config.Publisher.AdvisoryLockKey
	return func(ctx context.Context, symbols []string) {
		if store != nil && lockKey != 0 {
			unlock, acquired, err := store.TryAdvisoryLock(ctx, lockKey)
			if err != nil {
				a.Logger.Error().Err(err).Msg("advisory lock failed; running unguarded")
			} else if !acquired {
				a.Logger.Debug().Msg("skip cycle: advisory lock held elsewhere")
				return
			} else {
				defer unlock()
			}
		}

		report := pub.PublishAll(ctx, symbols)
		a.Logger.Info().
			Int("succeeded", len(report.Succeeded)).
			Int("failed", len(report.Failed)).
			Msg("publish cycle finished")
	}
}

// Run executes the long-running continuous publishing service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	led, err := a.newLedger()
	if err != nil {
		return err
	}

	c, closer, err := a.buildCore(ctx, led)
	if err != nil {
		return err
	}
	defer closer()

	if err := c.reg.EnsureRegistered(ctx); err != nil {
		return err
	}

	if err := c.sched.Start(ctx, a.Config.Publisher.Symbols, a.Config.Publisher.PublishInterval); err != nil {
		return err
	}

	a.Logger.Info().Str("build", version.Short()).Msg("continuous publishing started")
	<-ctx.Done()
	c.sched.Stop()
	a.Logger.Info().Msg("continuous publishing stopped")
	return nil
}

// Serve runs the HTTP surface; the scheduler is controlled via the API.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	led, err := a.newLedger()
	if err != nil {
		return err
	}

	c, closer, err := a.buildCore(ctx, led)
	if err != nil {
		return err
	}
	defer closer()

	if err := c.reg.EnsureRegistered(ctx); err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr:            a.Config.Server.Addr,
		DefaultSymbols:  a.Config.Publisher.Symbols,
		DefaultInterval: a.Config.Publisher.PublishInterval,
		Decimals:        a.Config.Publisher.Decimals,
		HealthTimeout:   a.Config.Server.HealthTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, c.pub, c.sched, c.alerts, c.led, server.Deps{
		Sentiment: c.sentiment,
		FearGreed: c.fearGreed,
	}, a.Logger)

	err = srv.Run(ctx)
	c.sched.Stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
