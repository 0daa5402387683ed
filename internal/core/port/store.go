package port

import (
	"context"
	"pixelbridge/internal/core/domain"
)

// DocumentStore is a read-modify-write client for one repository branch.
type DocumentStore interface {
	// ReadHash returns the content hash of path, or an empty string if the path does not exist.
	ReadHash(ctx context.Context, path string) (string, error)
	// Write creates path when expectedHash is empty, otherwise replaces the exact version identified by
	// expectedHash. A stale or missing hash fails with domain.ErrConflict.
	Write(ctx context.Context, path string, content []byte, message string, expectedHash string) error
	// List returns the files directly under folder. A missing folder yields an empty list.
	List(ctx context.Context, folder string) ([]domain.RemoteFile, error)
	// Delete removes path. It fails with domain.ErrNotFound when expectedHash is empty and with
	// domain.ErrConflict when expectedHash is stale.
	Delete(ctx context.Context, path string, expectedHash string, message string) error
	// Read returns the current content of path.
	Read(ctx context.Context, path string) ([]byte, error)
	// Ping verifies that the repository and branch are reachable with the configured credential.
	Ping(ctx context.Context) (domain.Diagnostics, error)
	// PublicURL returns the address a client can fetch the raw content of path from.
	PublicURL(path string) string
}
