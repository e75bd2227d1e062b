package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/parleychat/relay/internal/adapters/http"
	"github.com/parleychat/relay/internal/adapters/presence"
	wssignal "github.com/parleychat/relay/internal/adapters/signal"
	"github.com/parleychat/relay/internal/app"
	"github.com/parleychat/relay/internal/auth"
	"github.com/parleychat/relay/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("bad redis url")
	}
	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis unreachable")
	}
	defer redisClient.Close()

	store := presence.NewRedisStore(redisClient, cfg.PresencePrefix)
	registry := app.NewRegistry()
	limiter := app.NewOfferRateLimiter(cfg.OfferRateLimit, cfg.OfferRateInterval)
	appRouter := app.NewRouter(registry, limiter)
	tracker := app.NewTracker(store, registry, appRouter)
	appRouter.Presence = tracker

	// Stale entries from a previous incarnation must not produce phantom
	// online users.
	if err := tracker.ResetAll(ctx); err != nil {
		log.Fatal().Err(err).Msg("presence reset")
	}

	authenticator := auth.NewAuthenticator(cfg.AccessSecret)
	ctl := wssignal.NewChatWSController(authenticator, registry, tracker, appRouter, cfg)

	r := router.SetupRouter(ctx, cfg, ctl, appRouter)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
