package converter

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"pixelbridge/internal/core/domain"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultAlphaThreshold skips cells that are close to fully transparent.
const DefaultAlphaThreshold = 10

// MaxSourcePixels caps the decoded size of a source image. Compressed
// formats can expand a small upload into gigabytes of pixel data.
const MaxSourcePixels = 40_000_000

// PixelConverter turns raster images into sparse pixel grids. It holds no state.
type PixelConverter struct {
	scaler draw.Scaler
}

func NewPixelConverter() *PixelConverter {
	return &PixelConverter{scaler: draw.CatmullRom}
}

// Encode decodes data, stretches it to size x size without preserving the aspect ratio and emits every cell
// whose alpha reaches alphaThreshold. Sources without an alpha channel decode as fully opaque.
func (c *PixelConverter) Encode(data []byte, size int, alphaThreshold uint8) ([]domain.PixelRecord, error) {
	if len(data) == 0 {
		return nil, domain.ErrEmptyInput
	}

	if size <= 0 {
		return nil, fmt.Errorf("%w: canvas size must be positive, got %d", domain.ErrValidation, size)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
		return nil, fmt.Errorf("%w: image is %dx%d, limit is %d pixels", domain.ErrValidation, cfg.Width, cfg.Height,
			MaxSourcePixels)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	log.Debug().
		Str("format", format).
		Int("width", src.Bounds().Dx()).
		Int("height", src.Bounds().Dy()).
		Int("size", size).
		Msg("encoding image")

	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	c.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	pixels := make([]domain.PixelRecord, 0, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			px := dst.NRGBAAt(x, y)
			if px.A < alphaThreshold {
				continue
			}

			pixels = append(pixels, domain.PixelRecord{X: x + 1, Y: y + 1, R: px.R, G: px.G, B: px.B})
		}
	}

	log.Debug().Int("pixels", len(pixels)).Msg("image encoded")

	return pixels, nil
}
