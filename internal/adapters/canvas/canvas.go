package canvas

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"pixelbridge/internal/core/domain"
	"sync"

	"github.com/rs/zerolog/log"
)

// PNG is a Surface backed by an in-memory RGBA image. RefreshGallery
// flushes the image to a file. Clear resizes it to each drawing's canvas.
type PNG struct {
	mu       sync.Mutex
	img      *image.RGBA
	size     int
	color    color.RGBA
	selected bool
	path     string
}

func NewPNG(size int, path string) (*PNG, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: canvas size %d", domain.ErrValidation, size)
	}

	return &PNG{
		img:  image.NewRGBA(image.Rect(0, 0, size, size)),
		size: size,
		path: path,
	}, nil
}

// Clear drops everything painted so far and resizes the canvas. The
// selected color is forgotten.
func (p *PNG) Clear(size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: canvas size %d", domain.ErrValidation, size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.img = image.NewRGBA(image.Rect(0, 0, size, size))
	p.size = size
	p.selected = false

	return nil
}

func (p *PNG) SelectColor(c domain.Color) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.color = color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff}
	p.selected = true

	return nil
}

// SetPixel paints the 1-based cell (x, y) with the selected color.
func (p *PNG) SetPixel(x, y int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.selected {
		return fmt.Errorf("%w: no color selected", domain.ErrValidation)
	}

	if x < 1 || y < 1 || x > p.size || y > p.size {
		return fmt.Errorf("%w: (%d,%d) outside %dx%d canvas", domain.ErrValidation, x, y, p.size, p.size)
	}

	p.img.SetRGBA(x-1, y-1, p.color)

	return nil
}

// Image returns a copy of the current canvas.
func (p *PNG) Image() *image.RGBA {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := image.NewRGBA(p.img.Rect)
	copy(out.Pix, p.img.Pix)

	return out
}

// RefreshGallery writes the canvas to its path. The file is replaced
// atomically so readers never see a partial PNG.
func (p *PNG) RefreshGallery(_ context.Context) error {
	snapshot := p.Image()

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".canvas-*.png")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, snapshot); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding canvas: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replacing %s: %w", p.path, err)
	}

	log.Debug().Str("path", p.path).Msg("canvas written")

	return nil
}
