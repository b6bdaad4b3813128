package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/admarket/mediator/internal/analytics"
	"github.com/admarket/mediator/internal/api"
	"github.com/admarket/mediator/internal/clicks"
	"github.com/admarket/mediator/internal/config"
	"github.com/admarket/mediator/internal/db"
	"github.com/admarket/mediator/internal/fingerprint"
	"github.com/admarket/mediator/internal/geoip"
	"github.com/admarket/mediator/internal/market"
	"github.com/admarket/mediator/internal/observability"
	"github.com/admarket/mediator/internal/pricing"
	"github.com/admarket/mediator/internal/quality"
	"github.com/admarket/mediator/internal/ratelimit"
	"github.com/admarket/mediator/internal/scoring"
	"github.com/admarket/mediator/internal/selection"
	"github.com/admarket/mediator/internal/targeting"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLogger(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	pg, err := db.InitPostgres(cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	store := db.NewStore(pg, logger)

	feePercent := pricing.ClampFeePercent(cfg.PlatformFeePercent)
	if n, err := store.ReconcilePayouts(ctx, feePercent); err != nil {
		return fmt.Errorf("reconcile payouts: %w", err)
	} else if n > 0 {
		logger.Info("campaign payouts reconciled", zap.Int64("updated", n))
	}

	rdb, err := db.InitRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer rdb.Close()

	var analyticsSvc analytics.Service = analytics.Noop{}
	if cfg.ClickHouseDSN != "" {
		ch, err := analytics.InitClickHouse(cfg.ClickHouseDSN, logger)
		if err != nil {
			return fmt.Errorf("failed to connect clickhouse: %w", err)
		}
		defer ch.Close()
		analyticsSvc = ch
	}

	var geoSvc *geoip.GeoIP
	if cfg.GeoIPDB != "" {
		geoSvc, err = geoip.Init(cfg.GeoIPDB)
		if err != nil {
			return fmt.Errorf("failed to load geoip db: %w", err)
		}
		defer func() { _ = geoSvc.Close() }()
	}

	metricsRegistry := observability.NewPrometheusRegistry()

	limiter := ratelimit.NewSlidingWindow(cfg.ClickRateLimitPerMinute, time.Minute)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				limiter.Sweep(now)
			case <-ctx.Done():
				return
			}
		}
	}()

	classifier := quality.NewClassifier(store, quality.Config{
		RecentDays:          cfg.PartnerQualityRecentDays,
		LongDays:            cfg.PartnerQualityLongDays,
		NewClicksThreshold:  cfg.PartnerQualityNewClicks,
		RiskyRejectRate:     cfg.PartnerQualityRiskyRejectRate,
		RecoverRejectRate:   cfg.PartnerQualityRecoverRejectRate,
		DeltaNew:            cfg.PartnerQualityDeltaNew,
		DeltaStable:         cfg.PartnerQualityDeltaStable,
		DeltaRisky:          cfg.PartnerQualityDeltaRisky,
		DeltaRecovering:     cfg.PartnerQualityDeltaRecovering,
		RejectLookbackDays:  cfg.MatchRejectLookbackDays,
		RejectPenaltyWeight: cfg.MatchRejectPenaltyWeight,
	})

	marketCfg := market.Config{
		WindowMinutes:           cfg.MarketHealthWindowMinutes,
		StreakSample:            cfg.MarketHealthStreakSample,
		FillLow:                 cfg.MarketHealthFillLow,
		FillHigh:                cfg.MarketHealthFillHigh,
		RejectHealthy:           cfg.MarketHealthRejectHealthy,
		EligibleSupplyLow:       cfg.MarketHealthEligibleSupplyLow,
		VolatilityThreshold:     cfg.MarketHealthRejectVolatilityThreshold,
		UnfilledStreakThreshold: cfg.MarketHealthUnfilledStreakThreshold,
		AlphaBoostLowFill:       cfg.AlphaProfitBoostLowFill,
		AlphaBoostLowSupply:     cfg.AlphaProfitBoostLowSupply,
		BetaBoostHealthy:        cfg.BetaCTRBoostHealthy,
		GammaBoostLowFill:       cfg.GammaTargetingBoostLowFill,
		GammaBoostUnfilled:      cfg.GammaTargetingBoostUnfilled,
		DeltaBoostLowFill:       cfg.DeltaQualityBoostLowFill,
		DeltaBoostVolatility:    cfg.DeltaQualityBoostVolatility,
		CacheTTL:                cfg.MarketHealthCacheTTL,
	}
	sampler := market.NewSampler(store, rdb, marketCfg, logger)

	engine := scoring.NewEngine(store,
		scoring.Config{
			CTRLookbackDays:     cfg.MatchCTRLookbackDays,
			CTRWeight:           cfg.MatchCTRWeight,
			TargetingBonusValue: cfg.MatchTargetingBonus,
			RejectLookbackDays:  cfg.MatchRejectLookbackDays,
			RejectPenaltyWeight: cfg.MatchRejectPenaltyWeight,
		},
		scoring.ExplorationConfig{
			Rate:               cfg.ExplorationRate,
			Bonus:              cfg.ExplorationBonus,
			NewPartnerRequests: int64(cfg.ExplorationNewPartnerRequests),
			NewAdServes:        int64(cfg.ExplorationNewAdServes),
			MaxAdServes:        int64(cfg.ExplorationMaxAdServes),
			LookbackDays:       cfg.ExplorationLookbackDays,
		},
		scoring.DeliveryConfig{
			LookbackDays:            cfg.DeliveryLookbackDays,
			MinRequests:             int64(cfg.DeliveryMinRequests),
			LowClickRate:            cfg.DeliveryLowClickRate,
			MinBudgetRemainingRatio: cfg.DeliveryMinBudgetRemainingRatio,
			BoostValue:              cfg.DeliveryBoostValue,
		})

	orchestrator := selection.NewOrchestrator(store, store, engine, classifier, sampler, marketCfg,
		selection.Config{
			FreqCapSeconds: cfg.FreqCapSeconds,
			Timeout:        cfg.SelectionTimeout,
			DebugLimit:     cfg.MatchingLimit,
		}, logger)

	hasher := fingerprint.NewHasher(cfg.ClickHashSalt)
	validator := clicks.NewValidator(store, hasher, limiter, cfg.ClickDuplicateWindow)
	pipeline := clicks.NewPipeline(store, validator, logger)

	srvDeps := api.NewServer(logger, orchestrator, pipeline, store, hasher,
		targeting.NewResolver(geoSvc), analyticsSvc, metricsRegistry, cfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(srvDeps.Router(), "mediator"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Mediator running", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
