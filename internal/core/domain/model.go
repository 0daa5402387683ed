package domain

import (
	"fmt"
	"strconv"
	"time"
)

// PixelRecord is one opaque grid cell. X and Y are 1-based.
type PixelRecord struct {
	X int   `json:"x"`
	Y int   `json:"y"`
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

type Color struct {
	R, G, B uint8
}

func (p PixelRecord) Color() Color {
	return Color{R: p.R, G: p.G, B: p.B}
}

type Meta struct {
	CanvasSize  int       `json:"canvasSize"`
	TotalPixels int       `json:"totalPixels"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Filename    string    `json:"filename,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
}

// DrawingDocument is the single published pixel document.
type DrawingDocument struct {
	Meta   Meta          `json:"meta"`
	Pixels []PixelRecord `json:"pixels"`
}

// NewDrawingDocument builds a document whose TotalPixels always matches the pixel list.
func NewDrawingDocument(canvasSize int, pixels []PixelRecord, updatedAt time.Time, filename, imageURL string) DrawingDocument {
	if pixels == nil {
		pixels = []PixelRecord{}
	}

	return DrawingDocument{
		Meta: Meta{
			CanvasSize:  canvasSize,
			TotalPixels: len(pixels),
			UpdatedAt:   updatedAt.UTC(),
			Filename:    filename,
			ImageURL:    imageURL,
		},
		Pixels: pixels,
	}
}

// Stamp returns the change-detection value of the document. It is the
// update time when present and falls back to the pixel count otherwise.
func (d DrawingDocument) Stamp() string {
	if !d.Meta.UpdatedAt.IsZero() {
		return d.Meta.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	return "pixels:" + strconv.Itoa(len(d.Pixels))
}

// Validate checks the structural invariants a consumer relies on.
func (d DrawingDocument) Validate() error {
	if d.Meta.TotalPixels != len(d.Pixels) {
		return fmt.Errorf("%w: totalPixels %d does not match %d pixels", ErrValidation, d.Meta.TotalPixels,
			len(d.Pixels))
	}

	if d.Meta.CanvasSize <= 0 {
		return fmt.Errorf("%w: canvas size %d", ErrValidation, d.Meta.CanvasSize)
	}

	for i, p := range d.Pixels {
		if p.X < 1 || p.Y < 1 || p.X > d.Meta.CanvasSize || p.Y > d.Meta.CanvasSize {
			return fmt.Errorf("%w: pixel %d at (%d,%d) outside %dx%d grid", ErrValidation, i, p.X, p.Y,
				d.Meta.CanvasSize, d.Meta.CanvasSize)
		}
	}

	return nil
}

// RemoteFile is a file entry in the backing store. SHA is the store's
// optimistic-concurrency token for the path.
type RemoteFile struct {
	Name   string
	Path   string
	SHA    string
	Size   int64
	RawURL string
}

// ArchiveEntry is an original upload kept next to the derived document.
type ArchiveEntry struct {
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	PublicURL string `json:"rawUrl"`
}

// ConversionResult summarizes a successful publish.
type ConversionResult struct {
	Entry       *ArchiveEntry
	TotalPixels int
	CanvasSize  int
	DrawingURL  string
}

// Diagnostics describes the reachability of the configured store.
type Diagnostics struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
	Private    bool   `json:"private"`
	CanPush    bool   `json:"canPush"`
}

// ConfigReport is the outcome of a configuration pre-flight.
type ConfigReport struct {
	OK          bool
	Issues      []string
	Diagnostics Diagnostics
}
