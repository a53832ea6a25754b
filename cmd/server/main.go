package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	router "github.com/peergrid/confab/internal/adapters/http"
	wssignal "github.com/peergrid/confab/internal/adapters/signal"
	"github.com/peergrid/confab/internal/app"
	"github.com/peergrid/confab/internal/audit"
	"github.com/peergrid/confab/internal/auth"
	"github.com/peergrid/confab/internal/config"
	"github.com/peergrid/confab/internal/core"
	"github.com/peergrid/confab/internal/directory"
	"github.com/peergrid/confab/internal/metrics"
	"github.com/peergrid/confab/internal/mirror"
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
	if cfg.Secret == "" {
		log.Fatal().Msg("secret must be configured")
	}

	db, err := gorm.Open(sqlite.Open(cfg.DBDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	meetings, err := directory.NewStore(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init meeting directory")
	}
	trail, err := audit.NewTrail(db, cfg.AuditBuffer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init audit trail")
	}

	registry := core.NewRegistry()
	metrics.RegisterRoomGauge(registry.RoomCount)
	tokens := auth.NewService(cfg.Secret, cfg.TokenTTL)
	sfuMirror := mirror.New(cfg.SFUMetadataURL, cfg.MirrorTimeout)

	gateway := &app.Gateway{
		Registry:  registry,
		Directory: meetings,
		Audit:     trail,
		Mirror:    sfuMirror,
	}
	relay := &wssignal.Controller{
		Registry:   registry,
		Verifier:   tokens,
		Directory:  meetings,
		Mirror:     sfuMirror,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		SendBuffer: cfg.SendBuffer,
	}

	sweeper, err := app.StartSweeper(registry, cfg.SweepSchedule, cfg.RoomIdleTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start room sweeper")
	}

	r := router.SetupRouter(router.Deps{
		Cfg:      cfg,
		Gateway:  gateway,
		Tokens:   tokens,
		Meetings: meetings,
		Signal:   relay,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Confab server started")
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
	sweeper.Stop()
	trail.Close()
	log.Info().Msg("Server exited gracefully")
}
