package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/chatcall/internal/adapters/http"
	"github.com/dkeye/chatcall/internal/adapters/livekit"
	"github.com/dkeye/chatcall/internal/adapters/matrix"
	"github.com/dkeye/chatcall/internal/adapters/persist"
	"github.com/dkeye/chatcall/internal/adapters/rtc"
	"github.com/dkeye/chatcall/internal/app/call"
	"github.com/dkeye/chatcall/internal/app/coord"
	"github.com/dkeye/chatcall/internal/app/orch"
	"github.com/dkeye/chatcall/internal/config"
	"github.com/dkeye/chatcall/internal/core"
	"github.com/dkeye/chatcall/internal/domain"
)

// noCredentials fails every call join; used when media keys are not configured.
type noCredentials struct{ err error }

func (n noCredentials) Credentials(context.Context, domain.RoomID, domain.UserID) (domain.MediaCredentials, error) {
	return domain.MediaCredentials{}, n.err
}

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
	cfg.Watch(func(next *config.Config) {
		zerolog.SetGlobalLevel(next.Level())
	})

	var creds core.CredentialSource
	minter, err := livekit.NewMinter(cfg.Media.SignalURL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.TokenTTL)
	if err != nil {
		log.Warn().Err(err).Msg("media credentials unavailable, calls are disabled")
		creds = noCredentials{err: err}
	} else {
		creds = minter
	}

	store := persist.NewFileStore(cfg.Session.Path)
	o := orch.New(orch.Deps{
		Client: matrix.NewClient(matrix.Config{HomeserverURL: cfg.Matrix.HomeserverURL}),
		Store:  store,
		Media: rtc.NewTransport(rtc.Config{
			SignalURL:  cfg.Media.SignalURL,
			ICEServers: cfg.Media.ICEServers,
			ReadLimit:  cfg.Media.ReadLimit,
			PingPeriod: cfg.Media.PingPeriod,
		}),
		Creds: creds,
		Call: call.Config{
			StartAudioMuted: cfg.Call.StartAudioMuted,
			StartVideoMuted: cfg.Call.StartVideoMuted,
		},
	})
	app := coord.New(o, store)

	go func() {
		if err := app.Rehydrate(ctx); err != nil {
			log.Error().Err(err).Msg("session restore failed")
		}
	}()

	r := router.SetupRouter(cfg, app, o.Readiness())
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("chatcall client started")
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
	o.Stop(shutdownCtx)
	log.Info().Msg("Client exited gracefully")
}
