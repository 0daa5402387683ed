package port

import "pixelbridge/internal/core/domain"

type PixelEncoder interface {
	// Encode stretches the image in data to a size x size grid and returns the cells whose alpha is at least
	// alphaThreshold, in row-major order with 1-based coordinates.
	Encode(data []byte, size int, alphaThreshold uint8) ([]domain.PixelRecord, error)
}
