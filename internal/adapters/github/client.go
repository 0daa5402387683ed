package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"pixelbridge/internal/core/domain"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	apiVersion     = "2022-11-28"
	DefaultBaseURL = "https://api.github.com"
	DefaultRawURL  = "https://raw.githubusercontent.com"
	DefaultBranch  = "main"
	maxBodyBytes   = 64 << 20
)

// Config identifies the repository branch and the credential used to reach it.
type Config struct {
	// BaseURL is the REST API root. Defaults to DefaultBaseURL.
	BaseURL string
	// RawBaseURL is the raw content host used for public URLs. Defaults to DefaultRawURL.
	RawBaseURL string
	// Token is sent as a bearer credential.
	Token string
	// Repository is "owner/name".
	Repository string
	// Branch defaults to DefaultBranch.
	Branch string
	// Timeout bounds every request. Zero means 30 seconds.
	Timeout time.Duration
	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// Client is a DocumentStore backed by the GitHub contents API.
type Client struct {
	baseURL    string
	rawBaseURL string
	token      string
	owner      string
	repo       string
	branch     string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: missing github token", domain.ErrConfig)
	}

	owner, repo, ok := strings.Cut(cfg.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("%w: repository must be owner/name, got %q", domain.ErrConfig, cfg.Repository)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rawBaseURL := cfg.RawBaseURL
	if rawBaseURL == "" {
		rawBaseURL = DefaultRawURL
	}

	branch := cfg.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		rawBaseURL: strings.TrimRight(rawBaseURL, "/"),
		token:      cfg.Token,
		owner:      owner,
		repo:       repo,
		branch:     branch,
		httpClient: httpClient,
	}, nil
}

// do executes an authenticated request. Non-2xx responses come back as
// classified errors; transport failures as domain.ErrTransient.
func (c *Client) do(ctx context.Context, method, path, accept string, requestBody any) ([]byte, error) {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("github: encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("github: creating request: %w", err)
	}

	if accept == "" {
		accept = "application/vnd.github+json"
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	l := log.With().Str("method", method).Str("path", path).Logger()

	res, err := c.httpClient.Do(req)
	if err != nil {
		l.Error().Err(err).Msg("github request failed")
		return nil, fmt.Errorf("%w: github: %s %s: %w", domain.ErrTransient, method, path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: github: reading response body: %v", domain.ErrTransient, err)
	}

	l.Debug().Int("status", res.StatusCode).Int("bytes", len(body)).Msg("github response")

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, classify(parseAPIError(res.StatusCode, body))
	}

	return body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("github: decoding %s: %w", path, err)
	}

	return nil
}
