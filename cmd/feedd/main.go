package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	httpadapter "github.com/quakewatch/quake-feed-service/internal/adapter/http"
	kafkaadapter "github.com/quakewatch/quake-feed-service/internal/adapter/kafka"
	"github.com/quakewatch/quake-feed-service/internal/config"
	"github.com/quakewatch/quake-feed-service/internal/domain"
	"github.com/quakewatch/quake-feed-service/internal/feedcache"
	"github.com/quakewatch/quake-feed-service/internal/observability"
	"github.com/quakewatch/quake-feed-service/internal/pipeline"
	"github.com/quakewatch/quake-feed-service/internal/provider"
	"github.com/quakewatch/quake-feed-service/internal/quota"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	governor := quota.New(map[string]int{
		"gnews":   cfg.GNewsDailyLimit,
		"outlook": cfg.OutlookDailyLimit,
	}, clock, logger, metrics)

	store := feedcache.NewStore(clock, logger, metrics)
	registerFeeds(cfg, store, governor, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		store.OnSnapshot = func(key string, events []domain.Event) {
			pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := publisher.PublishSnapshot(pubCtx, key, events); err != nil {
				logger.Error("snapshot publish failed", "feed", key, "error", err)
			}
		}
		logger.Info("kafka snapshot publishing enabled", "topic", cfg.KafkaTopic)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, store, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	startWarmers(ctx, cfg, store, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// registerFeeds wires the provider tiers, ranking policy, and TTL for each
// feed key. Providers stay per-feed instances so a slow historical pull
// never shares an HTTP client timeout with the live feed.
func registerFeeds(cfg *config.Config, store *feedcache.Store, governor *quota.Governor, logger *slog.Logger, metrics *observability.Metrics) {
	seismicPolicy := pipeline.RankPolicy{
		PriorityRatio: cfg.PriorityRatio,
		OtherRatio:    cfg.OtherRatio,
		DefaultLimit:  cfg.DefaultLimit,
		MaxLimit:      cfg.MaxLimit,
	}
	newsPolicy := seismicPolicy
	newsPolicy.MixedKinds = true

	recent := pipeline.NewOrchestrator([]pipeline.Tier{
		{Timeout: tierTimeout(cfg, 0), Providers: []provider.Provider{
			provider.NewUSGS(cfg.USGSBaseURL, "all_day", cfg.ProviderTimeout, logger),
		}},
		{Timeout: tierTimeout(cfg, 1), Providers: []provider.Provider{
			provider.NewNCS(cfg.NCSBaseURL, 7, cfg.ProviderTimeout, logger),
		}},
	}, logger, metrics)

	historical := pipeline.NewOrchestrator([]pipeline.Tier{
		{Timeout: tierTimeout(cfg, 1), Providers: []provider.Provider{
			provider.NewUSGS(cfg.USGSBaseURL, "2.5_month", cfg.ProviderTimeout, logger),
		}},
		{Timeout: tierTimeout(cfg, 2), Providers: []provider.Provider{
			provider.NewNCS(cfg.NCSBaseURL, 90, cfg.ProviderTimeout, logger),
		}},
	}, logger, metrics)

	news := pipeline.NewOrchestrator([]pipeline.Tier{
		{Timeout: tierTimeout(cfg, 2), Providers: []provider.Provider{
			provider.NewGNews(cfg.GNewsBaseURL, cfg.GNewsToken, "earthquake", cfg.ProviderTimeout, governor, logger),
		}},
		{Timeout: tierTimeout(cfg, 3), Providers: []provider.Provider{
			provider.NewOutlook(cfg.OutlookBaseURL, cfg.OutlookToken, cfg.OutlookModel, cfg.ProviderTimeout, governor, logger),
		}},
	}, logger, metrics)

	mustRegister(store, feedcache.FeedSpec{
		Key: "earthquakes:recent", TTL: cfg.RecentTTL,
		RefreshTimeout: cfg.RefreshTimeout,
		DefaultLimit:   cfg.DefaultLimit, MaxLimit: cfg.MaxLimit,
		Refresh: recent.RefreshFunc(seismicPolicy),
	}, logger)
	mustRegister(store, feedcache.FeedSpec{
		Key: "earthquakes:priority:historical", TTL: cfg.HistoricalTTL,
		RefreshTimeout: cfg.RefreshTimeout,
		DefaultLimit:   cfg.DefaultLimit, MaxLimit: cfg.MaxLimit,
		Refresh: historical.RefreshFunc(seismicPolicy),
	}, logger)
	mustRegister(store, feedcache.FeedSpec{
		Key: "news:all", TTL: cfg.NewsTTL,
		RefreshTimeout: cfg.RefreshTimeout,
		DefaultLimit:   cfg.DefaultLimit, MaxLimit: cfg.MaxLimit,
		Refresh: news.RefreshFunc(newsPolicy),
	}, logger)
}

func mustRegister(store *feedcache.Store, spec feedcache.FeedSpec, logger *slog.Logger) {
	if err := store.Register(spec); err != nil {
		logger.Error("feed registration failed", "feed", spec.Key, "error", err)
		os.Exit(1)
	}
}

// startWarmers keeps every feed warm so the first consumer request after
// startup is served from cache instead of waiting on a cold fan-out.
func startWarmers(ctx context.Context, cfg *config.Config, store *feedcache.Store, logger *slog.Logger) {
	intervals := map[string]time.Duration{
		"earthquakes:recent":              cfg.RecentTTL,
		"earthquakes:priority:historical": cfg.HistoricalTTL,
		"news:all":                        cfg.NewsTTL,
	}
	for key, interval := range intervals {
		go func(key string, interval time.Duration) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				warmCtx, cancel := context.WithTimeout(ctx, cfg.RefreshTimeout)
				if _, err := store.GetFeed(warmCtx, key, 0); err != nil {
					logger.Warn("feed warm-up failed", "feed", key, "error", err)
				}
				cancel()

				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}(key, interval)
	}
}

func tierTimeout(cfg *config.Config, tier int) time.Duration {
	if tier >= len(cfg.TierTimeouts) {
		return cfg.TierTimeouts[len(cfg.TierTimeouts)-1]
	}
	return cfg.TierTimeouts[tier]
}
