package main

import (
	"context"
	"os"
	"os/signal"
	"pixelbridge/internal/adapters/canvas"
	"pixelbridge/internal/adapters/file"
	"pixelbridge/internal/config"
	"pixelbridge/internal/core/service"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func main() {
	v := viper.New()
	if err := config.ReadFile(v); err != nil {
		log.Fatal().Err(err).Msg("could not read config file")
	}

	cfg, err := config.Load(v)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	cfg.SetupLogging()

	documentURL := cfg.DocumentURL()
	if documentURL == "" {
		log.Fatal().Msg("set DOCUMENT_URL or GITHUB_REPO so the drawing can be located")
	}

	// Each render resizes the canvas to the drawing's own canvas size.
	surface, err := canvas.NewPNG(cfg.Canvas.Size, cfg.Playback.Output)
	if err != nil {
		log.Fatal().Err(err).Msg("failed initializing canvas")
	}

	agent := service.NewPlayback(
		file.NewDownloader(cfg.HTTPTimeout, 64<<20, true),
		surface,
		surface,
		service.PlaybackConfig{
			DocumentURL:   documentURL,
			BatchSize:     cfg.Playback.BatchSize,
			PollInterval:  cfg.Playback.PollInterval,
			BatchInterval: cfg.Playback.BatchInterval,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("url", documentURL).
		Str("output", cfg.Playback.Output).
		Dur("poll", cfg.Playback.PollInterval).
		Msg("playback agent started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return agent.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("playback failed")
	}

	log.Info().Int("renders", agent.Renders()).Str("stamp", agent.LastStamp()).Msg("playback finished")
}
