package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"pixelbridge/internal/adapters/converter"
	"pixelbridge/internal/adapters/file"
	"pixelbridge/internal/adapters/github"
	"pixelbridge/internal/adapters/handler"
	"pixelbridge/internal/adapters/memory"
	"pixelbridge/internal/config"
	"pixelbridge/internal/core/port"
	"pixelbridge/internal/core/service"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log.Info().Msg("starting pixelbridge...")

	v := viper.New()
	if err := config.ReadFile(v); err != nil {
		log.Fatal().Err(err).Msg("could not read config file")
	}

	cfg, err := config.Load(v)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	cfg.SetupLogging()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	issues := cfg.Issues()
	for _, issue := range issues {
		log.Warn().Str("issue", issue).Msg("store not configured, store endpoints will fail")
	}

	store, publicHost := newStore(cfg, issues)

	conversion := service.NewConversion(
		store,
		converter.NewPixelConverter(),
		file.NewDownloader(cfg.HTTPTimeout, cfg.Server.MaxUploadBytes, false),
		service.Settings{
			CanvasSize:     cfg.Canvas.Size,
			AlphaThreshold: cfg.Canvas.AlphaThreshold,
			DocumentPath:   cfg.Store.DocumentPath,
			ImagesFolder:   cfg.Store.ImagesFolder,
		},
		issues,
	)

	status := handler.Status{
		Store:        cfg.Store.Driver,
		CanvasSize:   cfg.Canvas.Size,
		DocumentPath: cfg.Store.DocumentPath,
		ImagesFolder: cfg.Store.ImagesFolder,
		Issues:       issues,
	}
	if cfg.Store.Driver == config.DriverGitHub {
		status.Repository = cfg.GitHub.Repo
		status.Branch = cfg.GitHub.Branch
	}

	httpHandler := handler.NewHTTP(conversion, status, cfg.Server.MaxUploadBytes, cfg.Server.HandlerTimeout)
	if publicHost != nil {
		httpHandler.ServeFiles(publicHost)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// newStore picks the backing store. The memory store has no raw content
// host, so it is also returned for the server to expose under /files/.
func newStore(cfg config.Config, issues []string) (port.DocumentStore, port.DocumentStore) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		log.Warn().Msg("using in-memory store, nothing is persisted")
		store := memory.NewStore(fmt.Sprintf("http://localhost:%d/files", cfg.Server.Port))
		return store, store
	default:
		if len(issues) > 0 {
			return nil, nil
		}

		client, err := github.NewClient(github.Config{
			BaseURL:    cfg.GitHub.APIURL,
			RawBaseURL: cfg.GitHub.RawURL,
			Token:      cfg.GitHub.Token,
			Repository: cfg.GitHub.Repo,
			Branch:     cfg.GitHub.Branch,
			Timeout:    cfg.HTTPTimeout,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed initializing github client")
		}

		return client, nil
	}
}
