package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	router "github.com/dkeye/walkie/internal/adapters/http"
	sig "github.com/dkeye/walkie/internal/adapters/signal"
	"github.com/dkeye/walkie/internal/adapters/turnsrv"
	"github.com/dkeye/walkie/internal/app"
	"github.com/dkeye/walkie/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	relay := app.NewRelay()
	if relay.Policy, err = app.PolicyFor(cfg.Relay.Backpressure); err != nil {
		log.Fatal().Err(err).Msg("invalid relay config")
	}

	var issue sig.Issuer
	turnCfg := cfg.Relay.TURN
	if turnCfg.Enabled {
		turnSrv, err := turnsrv.Start(turnCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start TURN server")
		}
		defer func() {
			if err := turnSrv.Close(); err != nil {
				log.Error().Err(err).Msg("TURN close")
			}
		}()
		issue = turnsrv.Issuer{Secret: turnCfg.Secret, TTL: turnCfg.TTL}.Issue
	}

	r := router.SetupRouter(ctx, cfg, relay, issue)
	addr := fmt.Sprintf(":%d", cfg.Relay.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		log.Info().Str("addr", addr).Bool("turn", turnCfg.Enabled).Msg("walkie relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	})

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	wg.Wait()
	log.Info().Int("sockets", relay.Registry.Count()).Msg("Server exited gracefully")
}
