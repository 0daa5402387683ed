package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"pixelbridge/internal/core/domain"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const cacheBustParam = "t"

// Downloader fetches remote files with a bounded body size and a finite timeout.
type Downloader struct {
	client    *http.Client
	maxBytes  int64
	cacheBust bool
	now       func() time.Time
}

// NewDownloader returns a Downloader. When cacheBust is set, every request carries a unique query parameter
// and no-cache headers so intermediaries never serve a stale copy.
func NewDownloader(timeout time.Duration, maxBytes int64, cacheBust bool) *Downloader {
	return &Downloader{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		cacheBust: cacheBust,
		now:       time.Now,
	}
}

// Fetch returns the byte content of the file at rawURL.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := d.requestURL(rawURL)
	if err != nil {
		err = fmt.Errorf("%w: invalid url %q: %v", domain.ErrValidation, rawURL, err)
		log.Error().Err(err).Str("url", rawURL).Send()
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		err = fmt.Errorf("error creating request %w", err)
		log.Error().Err(err).Str("url", rawURL).Send()
		return nil, err
	}

	if d.cacheBust {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	res, err := d.client.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: error executing request: %w", domain.ErrTransient, err)
		log.Error().Err(err).Str("url", rawURL).Send()
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		err = fmt.Errorf("%w: %s", domain.ErrNotFound, rawURL)
		log.Warn().Err(err).Str("url", rawURL).Send()
		return nil, err
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError:
		err = fmt.Errorf("%w: unexpected status code on download: %d", domain.ErrTransient, res.StatusCode)
		log.Error().Err(err).Str("url", rawURL).Send()
		return nil, err
	case res.StatusCode != http.StatusOK:
		err = fmt.Errorf("unexpected status code on download: %d", res.StatusCode)
		log.Error().Err(err).Str("url", rawURL).Send()
		return nil, err
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, d.maxBytes+1))
	if err != nil {
		err = fmt.Errorf("%w: error reading response: %v", domain.ErrTransient, err)
		log.Error().Err(err).Str("url", rawURL).Send()
		return nil, err
	}

	if int64(len(buf)) > d.maxBytes {
		err = fmt.Errorf("%w: download exceeds %d bytes", domain.ErrValidation, d.maxBytes)
		log.Error().Err(err).Str("url", rawURL).Send()
		return nil, err
	}

	return buf, nil
}

func (d *Downloader) requestURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("only http and https are supported")
	}

	if d.cacheBust {
		q := u.Query()
		q.Set(cacheBustParam, strconv.FormatInt(d.now().UnixNano(), 10))
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
