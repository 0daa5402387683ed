package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"pixelbridge/internal/core/domain"
	"pixelbridge/internal/core/port"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Settings is the read-only configuration the conversion pipeline needs.
type Settings struct {
	CanvasSize     int
	AlphaThreshold uint8
	DocumentPath   string
	ImagesFolder   string
}

// Conversion encodes images and publishes them as the drawing document.
// It holds no mutable state; everything durable lives in the store.
type Conversion struct {
	store    port.DocumentStore
	encoder  port.PixelEncoder
	fetcher  port.Fetcher
	settings Settings
	issues   []string
	now      func() time.Time
}

// NewConversion wires the pipeline. store may be nil when the deployment is
// not configured; issues then explains why and every store-touching
// operation fails with domain.ErrConfig.
func NewConversion(store port.DocumentStore, encoder port.PixelEncoder, fetcher port.Fetcher, settings Settings,
	issues []string) *Conversion {
	return &Conversion{
		store:    store,
		encoder:  encoder,
		fetcher:  fetcher,
		settings: settings,
		issues:   issues,
		now:      time.Now,
	}
}

func (c *Conversion) Settings() Settings {
	return c.settings
}

func (c *Conversion) requireStore() (port.DocumentStore, error) {
	if c.store == nil || len(c.issues) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfig, strings.Join(c.issues, "; "))
	}

	return c.store, nil
}

// ConvertUpload archives data under a sanitized name and publishes its pixel grid.
func (c *Conversion) ConvertUpload(ctx context.Context, data []byte, originalFilename string) (*domain.ConversionResult,
	error) {
	l := log.With().Str("operation", "convertUpload").Str("filename", originalFilename).Logger()
	l.Info().Int("bytes", len(data)).Msg("handling upload")

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no image data", domain.ErrEmptyInput)
	}

	store, err := c.requireStore()
	if err != nil {
		return nil, err
	}

	if _, err := store.Ping(ctx); err != nil {
		l.Error().Err(err).Msg("store unreachable")
		return nil, err
	}

	pixels, err := c.encoder.Encode(data, c.settings.CanvasSize, c.settings.AlphaThreshold)
	if err != nil {
		l.Error().Err(err).Msg("failed to encode image")
		return nil, err
	}

	filename := fmt.Sprintf("%d_%s", c.now().UnixMilli(), domain.SanitizeFilename(originalFilename))
	entry := domain.ArchiveEntry{
		Filename:  filename,
		Path:      path.Join(c.settings.ImagesFolder, filename),
		PublicURL: store.PublicURL(path.Join(c.settings.ImagesFolder, filename)),
	}

	if err := c.putFile(ctx, entry.Path, data, "Upload image "+filename); err != nil {
		l.Error().Err(err).Msg("failed to archive image")
		return nil, err
	}

	l.Info().Str("path", entry.Path).Msg("image archived")

	if err := c.publish(ctx, pixels, filename, entry.PublicURL); err != nil {
		l.Error().Err(err).Str("path", entry.Path).Msg("image archived but drawing publish failed")
		return nil, &domain.PublishError{Entry: entry, Err: err}
	}

	return &domain.ConversionResult{
		Entry:       &entry,
		TotalPixels: len(pixels),
		CanvasSize:  c.settings.CanvasSize,
		DrawingURL:  store.PublicURL(c.settings.DocumentPath),
	}, nil
}

// ConvertFromURL re-encodes an image that is already reachable at imageURL
// and publishes it without archiving it again.
func (c *Conversion) ConvertFromURL(ctx context.Context, imageURL, displayName string) (*domain.ConversionResult,
	error) {
	l := log.With().Str("operation", "convertFromUrl").Str("url", imageURL).Logger()
	l.Info().Msg("handling image reuse")

	if strings.TrimSpace(imageURL) == "" {
		return nil, fmt.Errorf("%w: missing image url", domain.ErrValidation)
	}

	store, err := c.requireStore()
	if err != nil {
		return nil, err
	}

	if err := c.checkArchiveURL(store, imageURL); err != nil {
		l.Warn().Err(err).Msg("rejected image url")
		return nil, err
	}

	if _, err := store.Ping(ctx); err != nil {
		l.Error().Err(err).Msg("store unreachable")
		return nil, err
	}

	data, err := c.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		l.Error().Err(err).Msg("failed to fetch image")
		return nil, err
	}

	pixels, err := c.encoder.Encode(data, c.settings.CanvasSize, c.settings.AlphaThreshold)
	if err != nil {
		l.Error().Err(err).Msg("failed to encode image")
		return nil, err
	}

	if displayName == "" {
		displayName = nameFromURL(imageURL)
	}

	if err := c.publish(ctx, pixels, displayName, imageURL); err != nil {
		l.Error().Err(err).Msg("failed to publish drawing")
		return nil, err
	}

	return &domain.ConversionResult{
		TotalPixels: len(pixels),
		CanvasSize:  c.settings.CanvasSize,
		DrawingURL:  store.PublicURL(c.settings.DocumentPath),
	}, nil
}

// ListArchive returns the archived originals.
func (c *Conversion) ListArchive(ctx context.Context) ([]domain.RemoteFile, error) {
	store, err := c.requireStore()
	if err != nil {
		return nil, err
	}

	return store.List(ctx, c.settings.ImagesFolder)
}

// DeleteArchiveEntry removes an archived original by its stored file name.
func (c *Conversion) DeleteArchiveEntry(ctx context.Context, filename string) error {
	if filename == "" || filename != path.Base(filename) || strings.HasPrefix(filename, ".") {
		return fmt.Errorf("%w: invalid filename %q", domain.ErrValidation, filename)
	}

	store, err := c.requireStore()
	if err != nil {
		return err
	}

	p := path.Join(c.settings.ImagesFolder, filename)

	sha, err := store.ReadHash(ctx, p)
	if err != nil {
		return err
	}

	if sha == "" {
		return fmt.Errorf("%w: image %s", domain.ErrNotFound, filename)
	}

	if err := store.Delete(ctx, p, sha, "Delete image "+filename); err != nil {
		return err
	}

	log.Info().Str("path", p).Msg("archived image deleted")

	return nil
}

// Drawing returns the currently published document.
func (c *Conversion) Drawing(ctx context.Context) (*domain.DrawingDocument, error) {
	store, err := c.requireStore()
	if err != nil {
		return nil, err
	}

	body, err := store.Read(ctx, c.settings.DocumentPath)
	if err != nil {
		return nil, err
	}

	var doc domain.DrawingDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", c.settings.DocumentPath, err)
	}

	return &doc, nil
}

// CheckConfig never fails; problems are reported as issues.
func (c *Conversion) CheckConfig(ctx context.Context) domain.ConfigReport {
	report := domain.ConfigReport{Issues: []string{}}

	store, err := c.requireStore()
	if err != nil {
		report.Issues = append(report.Issues, c.issues...)
		if len(c.issues) == 0 {
			report.Issues = append(report.Issues, err.Error())
		}
		return report
	}

	diag, err := store.Ping(ctx)
	report.Diagnostics = diag
	if err != nil {
		report.Issues = append(report.Issues, domain.Remediation(err))
		return report
	}

	report.OK = true

	return report
}

func (c *Conversion) publish(ctx context.Context, pixels []domain.PixelRecord, filename, imageURL string) error {
	doc := domain.NewDrawingDocument(c.settings.CanvasSize, pixels, c.now(), filename, imageURL)

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding drawing: %w", err)
	}

	message := fmt.Sprintf("Update drawing from %s (%d pixels)", filename, len(pixels))
	if err := c.putFile(ctx, c.settings.DocumentPath, body, message); err != nil {
		return err
	}

	log.Info().
		Str("path", c.settings.DocumentPath).
		Int("pixels", len(pixels)).
		Str("stamp", doc.Stamp()).
		Msg("drawing published")

	return nil
}

// putFile reads the current hash and writes against it. A concurrent writer
// that lands between the two steps makes the write fail with domain.ErrConflict.
func (c *Conversion) putFile(ctx context.Context, p string, content []byte, message string) error {
	sha, err := c.store.ReadHash(ctx, p)
	if err != nil {
		return err
	}

	return c.store.Write(ctx, p, content, message, sha)
}

// checkArchiveURL accepts only URLs that point into the image archive, so
// the server never fetches arbitrary hosts on a client's behalf.
func (c *Conversion) checkArchiveURL(store port.DocumentStore, raw string) error {
	prefix, err := url.Parse(store.PublicURL(c.settings.ImagesFolder))
	if err != nil {
		return fmt.Errorf("%w: archive url: %v", domain.ErrConfig, err)
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.User != nil || u.Scheme != prefix.Scheme || u.Host != prefix.Host {
		return fmt.Errorf("%w: %q is not an archived image url", domain.ErrValidation, raw)
	}

	// u.Path is unescaped, so encoded dot segments are caught here too.
	if slices.Contains(strings.Split(u.Path, "/"), "..") ||
		!strings.HasPrefix(u.Path, strings.TrimSuffix(prefix.Path, "/")+"/") {
		return fmt.Errorf("%w: %q is not an archived image url", domain.ErrValidation, raw)
	}

	return nil
}

func nameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return domain.SanitizeFilename(raw)
	}

	return domain.SanitizeFilename(path.Base(u.Path))
}
