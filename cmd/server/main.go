package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lilerp/backend/internal/config"
	"github.com/lilerp/backend/internal/db"
	"github.com/lilerp/backend/internal/geocode"
	httpapi "github.com/lilerp/backend/internal/http"
	"github.com/lilerp/backend/internal/ivr"
	"github.com/lilerp/backend/internal/session"
	"github.com/lilerp/backend/internal/telephony"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "lilerp-backend").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	defer store.Close()

	sessions := session.NewPGStore(store.Pool)

	var dialer telephony.Dialer
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		dialer = &telephony.MockDialer{}
		logger.Info().Msg("no twilio credentials, using mock dialer")
	} else {
		dialer = telephony.NewTwilioDialer(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber, cfg.BaseURL)
	}

	materializer := ivr.NewMaterializer(store, store, cfg.TwilioPhoneNumber, logger)
	go materializer.Run(ctx)

	machine := &ivr.Machine{
		Sessions:        sessions,
		Incidents:       store,
		Responders:      store,
		Materializer:    materializer,
		Logger:          logger,
		ServiceNumber:   cfg.TwilioPhoneNumber,
		MaxMenuAttempts: cfg.MenuMaxAttempts,
	}

	sweeper := &session.Sweeper{
		Store:    sessions,
		MaxAge:   cfg.SessionMaxAge,
		Interval: cfg.SessionSweepInterval,
		Logger:   logger,
	}
	go sweeper.Run(ctx)

	geocoder := &geocode.NominatimGeocoder{BaseURL: cfg.GeocodeBaseURL}

	router := httpapi.Router(cfg, store, machine, dialer, geocoder, logger)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: cfg.RequestTimeout,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
