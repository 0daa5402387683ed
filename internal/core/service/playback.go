package service

import (
	"context"
	"encoding/json"
	"fmt"
	"pixelbridge/internal/core/domain"
	"pixelbridge/internal/core/port"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type PlaybackState int

const (
	Idle PlaybackState = iota
	Fetching
	Rendering
	Stopped
)

func (s PlaybackState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Rendering:
		return "rendering"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultBatchSize     = 200
	DefaultPollInterval  = 10 * time.Second
	DefaultBatchInterval = 50 * time.Millisecond
)

type PlaybackConfig struct {
	DocumentURL   string
	BatchSize     int
	PollInterval  time.Duration
	BatchInterval time.Duration
}

func (c *PlaybackConfig) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
}

// Playback polls the published drawing and replays it into a surface.
//
// It is a cooperative state machine driven by two triggers: the poll timer
// (OnTimer) and the batch timer (OnBatch). A poll while a render is in
// progress is a no-op, and a render always runs to completion unless the
// agent is stopped.
type Playback struct {
	fetcher port.Fetcher
	surface port.Surface
	gallery port.GalleryRefresher
	config  PlaybackConfig

	mu           sync.Mutex
	state        PlaybackState
	lastStamp    string
	pending      []domain.PixelRecord
	pendingStamp string
	cursor       int
	selected     *domain.Color
	renders      int
}

// NewPlayback returns an idle agent. gallery may be nil.
func NewPlayback(fetcher port.Fetcher, surface port.Surface, gallery port.GalleryRefresher,
	config PlaybackConfig) *Playback {
	config.defaults()

	return &Playback{
		fetcher: fetcher,
		surface: surface,
		gallery: gallery,
		config:  config,
	}
}

func (p *Playback) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// LastStamp is the stamp of the last fully rendered document.
func (p *Playback) LastStamp() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastStamp
}

// Renders counts completed render passes.
func (p *Playback) Renders() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.renders
}

// OnTimer handles a poll trigger. Outside Idle it does nothing. It returns
// the state the agent is in afterwards.
func (p *Playback) OnTimer(ctx context.Context) PlaybackState {
	p.mu.Lock()
	if p.state != Idle {
		state := p.state
		p.mu.Unlock()
		return state
	}
	p.state = Fetching
	p.mu.Unlock()

	doc, err := p.fetch(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Stopped {
		return p.state
	}

	if err != nil {
		log.Warn().Err(err).Str("url", p.config.DocumentURL).Msg("failed to fetch drawing")
		p.state = Idle
		return p.state
	}

	stamp := doc.Stamp()
	if stamp == p.lastStamp {
		log.Debug().Str("stamp", stamp).Msg("drawing unchanged")
		p.state = Idle
		return p.state
	}

	log.Info().
		Str("stamp", stamp).
		Int("pixels", len(doc.Pixels)).
		Int("batches", batches(len(doc.Pixels), p.config.BatchSize)).
		Msg("drawing changed, rendering")

	if err := p.surface.Clear(doc.Meta.CanvasSize); err != nil {
		log.Warn().Err(err).Int("size", doc.Meta.CanvasSize).Msg("failed to clear surface")
	}

	p.pending = doc.Pixels
	p.pendingStamp = stamp
	p.cursor = 0
	p.selected = nil
	p.state = Rendering

	if len(p.pending) == 0 {
		p.completeLocked(ctx)
	}

	return p.state
}

// OnBatch replays the next batch of pixels. It reports whether more
// batches remain.
func (p *Playback) OnBatch(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Rendering {
		return false
	}

	end := min(p.cursor+p.config.BatchSize, len(p.pending))
	for _, px := range p.pending[p.cursor:end] {
		p.drawLocked(px)
	}
	p.cursor = end

	if p.cursor < len(p.pending) {
		return true
	}

	p.completeLocked(ctx)

	return false
}

// Stop moves the agent to its terminal state. An in-flight render is
// abandoned and its stamp is not recorded.
func (p *Playback) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Rendering {
		log.Warn().
			Int("drawn", p.cursor).
			Int("pixels", len(p.pending)).
			Msg("stopping with render in progress")
	}

	p.state = Stopped
	p.pending = nil
	p.pendingStamp = ""
}

// Run drives the agent until ctx is cancelled, then stops it. It polls
// once immediately on start.
func (p *Playback) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	var batch <-chan time.Time
	scheduleBatch := func(state PlaybackState) {
		if state == Rendering && batch == nil {
			batch = time.After(p.config.BatchInterval)
		}
	}

	scheduleBatch(p.OnTimer(ctx))

	for {
		select {
		case <-ctx.Done():
			p.Stop()
			log.Info().Msg("playback stopped")
			return nil
		case <-ticker.C:
			scheduleBatch(p.OnTimer(ctx))
		case <-batch:
			batch = nil
			if p.OnBatch(ctx) {
				scheduleBatch(Rendering)
			}
		}
	}
}

func (p *Playback) fetch(ctx context.Context) (*domain.DrawingDocument, error) {
	body, err := p.fetcher.Fetch(ctx, p.config.DocumentURL)
	if err != nil {
		return nil, err
	}

	var doc domain.DrawingDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed drawing: %v", domain.ErrValidation, err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}

	return &doc, nil
}

// drawLocked paints one pixel, selecting its color only when it differs
// from the previous pixel's.
func (p *Playback) drawLocked(px domain.PixelRecord) {
	color := px.Color()
	if p.selected == nil || *p.selected != color {
		if err := p.surface.SelectColor(color); err != nil {
			log.Warn().Err(err).Int("x", px.X).Int("y", px.Y).Msg("failed to select color")
			p.selected = nil
			return
		}
		p.selected = &color
	}

	if err := p.surface.SetPixel(px.X, px.Y); err != nil {
		log.Warn().Err(err).Int("x", px.X).Int("y", px.Y).Msg("failed to set pixel")
	}
}

func (p *Playback) completeLocked(ctx context.Context) {
	p.lastStamp = p.pendingStamp
	p.pending = nil
	p.pendingStamp = ""
	p.cursor = 0
	p.renders++
	p.state = Idle

	l := log.With().Str("stamp", p.lastStamp).Logger()
	l.Info().Msg("render complete")

	p.refreshGallery(ctx, l)
}

// refreshGallery is best-effort: a failure is logged and never propagated.
func (p *Playback) refreshGallery(ctx context.Context, l zerolog.Logger) {
	if p.gallery == nil {
		return
	}

	if err := p.gallery.RefreshGallery(ctx); err != nil {
		l.Warn().Err(err).Msg("gallery refresh failed")
	}
}

func batches(n, size int) int {
	return (n + size - 1) / size
}
