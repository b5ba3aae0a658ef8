package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bot-arena/arena"
	"bot-arena/broadcast"
	"bot-arena/config"
	"bot-arena/events"
	epubsub "bot-arena/events/pubsub"
	"bot-arena/games"
	"bot-arena/health"
	"bot-arena/metrics"
	"bot-arena/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.RedisAddr == "" {
		return store.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return store.NewRedis(&store.RedisConfig{RedisClient: client})
}

func main() {
	cfg := config.Load()
	setLogger(cfg.LogLevel)
	log.Info().Msgf("Starting bot-arena version: %s", version)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	if cfg.PubsubEnabled() && cfg.GoogleProjectID == "" {
		log.Fatal().Msg("missing Google project id; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or ARENA_PUBSUB_PROJECT_ID")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to open store")
	}
	registry, err := games.Default()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid game registry")
	}
	hub := broadcast.New(broadcast.Config{Buffer: cfg.BroadcastBuffer, Source: st})
	svc, err := arena.NewService(arena.Config{
		Registry:        registry,
		Store:           st,
		Hub:             hub,
		CohortTick:      cfg.CohortTick,
		RoundTimeout:    cfg.RoundTimeout,
		PersistAttempts: cfg.PersistAttempts,
		PersistBackoff:  cfg.PersistBackoff,
		MaxMissedRounds: cfg.MaxMissedRounds,
		InitialRating:   cfg.InitialRating,
		RatingK:         cfg.RatingK,
		Seed:            cfg.Seed,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build arena service")
	}

	// Context and shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// Metrics and health HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, st)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting metrics/health server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return svc.Run(gctx)
	})

	var publisher *epubsub.Publisher
	if cfg.EventTopic != "" {
		publisher = epubsub.NewPublisher(cfg.GoogleProjectID, cfg.EventTopic, cfg.CredentialsFile)
		feed, err := hub.Subscribe(gctx, broadcast.Global)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to subscribe to the match feed")
		}
		g.Go(func() error {
			log.Info().Str("topic", cfg.EventTopic).Msg("relaying match events")
			// ends when hub.Close closes the feed, after the shutdown aborts
			return publisher.Relay(context.WithoutCancel(gctx), feed.C())
		})
	}

	if cfg.CommandSubscription != "" {
		if publisher == nil {
			log.Fatal().Msg("ARENA_COMMAND_SUBSCRIPTION needs ARENA_EVENT_TOPIC for command results")
		}
		handler := arena.NewCommandHandler(svc, publisher)
		subscriber := epubsub.NewSubscriber(cfg.GoogleProjectID, cfg.CommandSubscription, cfg.CredentialsFile)
		g.Go(func() error {
			log.Info().Str("subscription", cfg.CommandSubscription).Msg("starting subscriber loop")
			return subscriber.Start(gctx, func(ctx context.Context, cmd *events.Command) error {
				return handler.Handle(ctx, cmd)
			})
		})
	}

	// Block until shutdown or a component fails
	<-gctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("matches did not close before the deadline")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	hub.Close()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("component exited with error")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close publisher")
		}
	}
	log.Info().Msg("shutdown complete")
}
