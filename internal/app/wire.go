package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/calebhsu/signalmesh/internal/blob/s3"
	busredis "github.com/calebhsu/signalmesh/internal/bus/redis"
	"github.com/calebhsu/signalmesh/internal/config"
	"github.com/calebhsu/signalmesh/internal/dispatch"
	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/evaluator"
	"github.com/calebhsu/signalmesh/internal/execution"
	"github.com/calebhsu/signalmesh/internal/feed"
	"github.com/calebhsu/signalmesh/internal/market"
	"github.com/calebhsu/signalmesh/internal/notify"
	"github.com/calebhsu/signalmesh/internal/position"
	"github.com/calebhsu/signalmesh/internal/scanner"
	"github.com/calebhsu/signalmesh/internal/signal"
	"github.com/calebhsu/signalmesh/internal/store/postgres"
)

// Dependencies bundles every component the application modes operate on.
// Optional infrastructure (stores, bus, archiver, notifier) is nil when the
// corresponding config section is disabled.
type Dependencies struct {
	Cache     *market.TickerCache
	Ingestors []feed.Ingestor

	Aggregator *signal.Aggregator
	Scanner    *scanner.Scanner
	Evaluator  *evaluator.Evaluator
	Dispatcher *dispatch.Dispatcher
	Positions  *position.Manager

	MissionStore  domain.MissionStore
	PositionStore domain.PositionStore
	Publisher     *busredis.Publisher
	Archiver      *s3blob.Archiver
	Notifier      *notify.Notifier
}

// Wire constructs the dependency graph from configuration and returns it with
// a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	deps.Cache = market.NewTickerCache(
		market.WithTTL(cfg.Cache.TTL.Duration),
		market.WithHistorySize(cfg.Cache.HistorySize),
	)

	ingestors, err := buildIngestors(cfg, deps.Cache, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Ingestors = ingestors

	providers := []signal.Provider{
		signal.NewMomentumProvider(),
		signal.NewVolumeTrendProvider(),
		signal.NewSpreadProvider(),
	}
	agg, err := signal.NewAggregator(providers, deps.Cache, signal.AggregatorConfig{
		ProviderWeights: cfg.Aggregator.ProviderWeights,
		Bands: signal.Bands{
			StrongBuy: cfg.Aggregator.StrongBuyBand,
			Buy:       cfg.Aggregator.BuyBand,
			Neutral:   cfg.Aggregator.NeutralBand,
			Sell:      cfg.Aggregator.SellBand,
		},
		ProviderTimeout: cfg.Aggregator.ProviderTimeout.Duration,
		Steps: signal.ReinforceSteps{
			GainRate: cfg.Aggregator.GainRate,
			GainCap:  cfg.Aggregator.GainCap,
			LossRate: cfg.Aggregator.LossRate,
			LossCap:  cfg.Aggregator.LossCap,
		},
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: aggregator: %w", err)
	}
	deps.Aggregator = agg

	deps.Scanner = scanner.New(scanner.Config{
		Interval:      cfg.Scanner.Interval.Duration,
		QuoteAssets:   cfg.Scanner.QuoteAssets,
		StableQuotes:  cfg.Scanner.StableQuotes,
		PeerAllowList: cfg.Scanner.PeerAllowList,
		DeRiskDropPct: cfg.Scanner.DeRiskDropPct,
		RefVolume:     cfg.Scanner.RefVolume,
		Steps: signal.ReinforceSteps{
			GainRate: cfg.Scanner.GainRate,
			GainCap:  cfg.Scanner.GainCap,
			LossRate: cfg.Scanner.LossRate,
			LossCap:  cfg.Scanner.LossCap,
		},
	}, logger)

	deps.Evaluator = evaluator.New(evaluator.Config{
		FeeRate:         cfg.Evaluator.FeeRate,
		SlippageRate:    cfg.Evaluator.SlippageRate,
		CaptureFraction: cfg.Evaluator.CaptureFraction,
		MinProfit:       cfg.Evaluator.MinProfit,
	}, logger)

	// --- PostgreSQL persistence ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
			MinConns: cfg.Postgres.MinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.MissionStore = postgres.NewMissionStore(pgClient.Pool())
		deps.PositionStore = postgres.NewPositionStore(pgClient.Pool())
	}

	// --- Redis event bus ---
	if cfg.Redis.Enabled {
		redisClient, err := busredis.New(ctx, busredis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Publisher = busredis.NewPublisher(busredis.NewEventBus(redisClient))
	}

	// --- S3 archival ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client), deps.MissionStore, deps.PositionStore, logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	// --- Dispatch pipeline ---
	var gate dispatch.RiskGate = dispatch.AllowAllGate{}
	if cfg.RiskGate.URL != "" {
		gate = dispatch.NewHTTPGate(cfg.RiskGate.URL, cfg.RiskGate.Timeout.Duration)
	}

	// Paper is the only built-in execution backend; a live venue backend
	// plugs in through the same interface.
	backend := execution.NewPaperBackend(deps.Cache, cfg.Evaluator.SlippageRate, logger)

	slots := make(map[domain.Doctrine]int, len(cfg.Dispatch.Slots))
	for name, n := range cfg.Dispatch.Slots {
		slots[domain.Doctrine(name)] = n
	}
	deps.Dispatcher = dispatch.New(dispatch.Config{
		Slots:      slots,
		GatePolicy: dispatch.GatePolicy(cfg.Dispatch.GatePolicy),
	}, gate, backend, deps.Aggregator, deps.Scanner, deps.MissionStore, logger)

	deps.Positions = position.New(position.Config{
		MaxHold:            cfg.Position.MaxHold.Duration,
		TargetProfitPct:    cfg.Position.TargetProfitPct,
		StopLossPct:        cfg.Position.StopLossPct,
		TrailingStopPct:    cfg.Position.TrailingStopPct,
		ProfitLockPct:      cfg.Position.ProfitLockPct,
		PartialProfitPct:   cfg.Position.PartialProfitPct,
		PartialExitPct:     cfg.Position.PartialExitPct,
		ReversalPct:        cfg.Position.ReversalPct,
		CoherenceThreshold: cfg.Position.CoherenceThreshold,
	}, deps.Cache, deps.Cache, deps.PositionStore, logger)

	return deps, cleanup, nil
}

// buildIngestors constructs one ingestor per configured exchange.
func buildIngestors(cfg *config.Config, cache *market.TickerCache, logger *slog.Logger) ([]feed.Ingestor, error) {
	ingestors := make([]feed.Ingestor, 0, len(cfg.Exchanges))
	for name, ex := range cfg.Exchanges {
		switch ex.Feed {
		case "binance":
			ingestors = append(ingestors, feed.NewBinanceIngestor(ex.Symbols, cache, logger))
		case "push":
			ingestors = append(ingestors, feed.NewStreamIngestor(name, ex.WsURL, ex.Symbols, cache, logger))
		case "poll":
			interval := ex.PollInterval.Duration
			if interval <= 0 {
				interval = 5 * time.Second
			}
			ingestors = append(ingestors, feed.NewPollIngestor(name, ex.RestURL, ex.Symbols, interval, cache, logger))
		default:
			return nil, fmt.Errorf("wire: exchange %s: unknown feed %q", name, ex.Feed)
		}
	}
	return ingestors, nil
}
