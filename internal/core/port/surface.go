package port

import (
	"context"
	"pixelbridge/internal/core/domain"
)

// Surface is the external canvas pixels are replayed into.
type Surface interface {
	// Clear wipes the surface and resizes it to size x size cells.
	Clear(size int) error
	// SelectColor sets the color used by subsequent SetPixel calls.
	SelectColor(color domain.Color) error
	// SetPixel paints the 1-based cell (x, y) with the selected color.
	SetPixel(x, y int) error
}

type GalleryRefresher interface {
	// RefreshGallery tells the host a drawing has finished. Failures are not critical.
	RefreshGallery(ctx context.Context) error
}
