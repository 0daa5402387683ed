package port

import "context"

type Fetcher interface {
	// Fetch downloads the resource at url and returns its body.
	Fetch(ctx context.Context, url string) ([]byte, error)
}
