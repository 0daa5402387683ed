package port

import (
	"context"
	"pixelbridge/internal/core/domain"
)

type Converter interface {
	ConvertUpload(ctx context.Context, data []byte, originalFilename string) (*domain.ConversionResult, error)
	ConvertFromURL(ctx context.Context, imageURL, displayName string) (*domain.ConversionResult, error)
	ListArchive(ctx context.Context) ([]domain.RemoteFile, error)
	DeleteArchiveEntry(ctx context.Context, filename string) error
	Drawing(ctx context.Context) (*domain.DrawingDocument, error)
	CheckConfig(ctx context.Context) domain.ConfigReport
}
