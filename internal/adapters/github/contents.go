package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"pixelbridge/internal/core/domain"
	"strings"

	"github.com/rs/zerolog/log"
)

type contentEntry struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	DownloadURL string `json:"download_url"`
}

type writeRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type deleteRequest struct {
	Message string `json:"message"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

type repository struct {
	FullName    string `json:"full_name"`
	Private     bool   `json:"private"`
	Permissions struct {
		Push bool `json:"push"`
	} `json:"permissions"`
}

func (c *Client) contentsPath(p string) string {
	return fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(c.owner), url.PathEscape(c.repo), escapePath(p))
}

func (c *Client) refQuery() string {
	return "?ref=" + url.QueryEscape(c.branch)
}

// ReadHash returns the blob sha of p on the configured branch, or "" when p does not exist.
func (c *Client) ReadHash(ctx context.Context, p string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, c.contentsPath(p)+c.refQuery(), "", nil)
	if errors.Is(err, domain.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading hash of %s: %w", p, err)
	}

	if isArray(body) {
		return "", fmt.Errorf("%w: %s is a directory", domain.ErrValidation, p)
	}

	var entry contentEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return "", fmt.Errorf("github: decoding content entry for %s: %w", p, err)
	}

	return entry.SHA, nil
}

// Write creates or replaces p. GitHub rejects a stale sha with 409 and a
// missing sha for an existing file with 422; both surface as domain.ErrConflict.
func (c *Client) Write(ctx context.Context, p string, content []byte, message string, expectedHash string) error {
	req := writeRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(content),
		Branch:  c.branch,
		SHA:     expectedHash,
	}

	_, err := c.do(ctx, http.MethodPut, c.contentsPath(p), "", req)
	if err != nil {
		if expectedHash != "" && errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: %w", domain.ErrConflict, err)
		}
		return fmt.Errorf("writing %s: %w", p, err)
	}

	log.Info().Str("path", p).Int("bytes", len(content)).Str("message", message).Msg("committed file")

	return nil
}

// List returns the files directly under folder. Subfolders are skipped.
func (c *Client) List(ctx context.Context, folder string) ([]domain.RemoteFile, error) {
	body, err := c.do(ctx, http.MethodGet, c.contentsPath(folder)+c.refQuery(), "", nil)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.RemoteFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", folder, err)
	}

	if !isArray(body) {
		return []domain.RemoteFile{}, nil
	}

	var entries []contentEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("github: decoding listing of %s: %w", folder, err)
	}

	files := make([]domain.RemoteFile, 0, len(entries))
	for _, e := range entries {
		if e.Type != "file" {
			continue
		}

		files = append(files, domain.RemoteFile{
			Name:   e.Name,
			Path:   e.Path,
			SHA:    e.SHA,
			Size:   e.Size,
			RawURL: c.PublicURL(e.Path),
		})
	}

	return files, nil
}

func (c *Client) Delete(ctx context.Context, p string, expectedHash string, message string) error {
	if expectedHash == "" {
		return fmt.Errorf("%w: %s has no current hash", domain.ErrNotFound, p)
	}

	req := deleteRequest{Message: message, SHA: expectedHash, Branch: c.branch}
	if _, err := c.do(ctx, http.MethodDelete, c.contentsPath(p), "", req); err != nil {
		return fmt.Errorf("deleting %s: %w", p, err)
	}

	log.Info().Str("path", p).Str("message", message).Msg("deleted file")

	return nil
}

// Read returns the raw content of p on the configured branch.
func (c *Client) Read(ctx context.Context, p string) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, c.contentsPath(p)+c.refQuery(), "application/vnd.github.raw", nil)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p, err)
	}

	return body, nil
}

// Ping checks that the repository and branch exist and reports whether the
// credential may push.
func (c *Client) Ping(ctx context.Context) (domain.Diagnostics, error) {
	diag := domain.Diagnostics{Repository: c.owner + "/" + c.repo, Branch: c.branch}

	var repo repository
	repoPath := fmt.Sprintf("/repos/%s/%s", url.PathEscape(c.owner), url.PathEscape(c.repo))
	if err := c.getJSON(ctx, repoPath, &repo); err != nil {
		return diag, fmt.Errorf("repository %s: %w", diag.Repository, err)
	}

	diag.Private = repo.Private
	diag.CanPush = repo.Permissions.Push

	var branch struct {
		Name string `json:"name"`
	}
	if err := c.getJSON(ctx, repoPath+"/branches/"+url.PathEscape(c.branch), &branch); err != nil {
		return diag, fmt.Errorf("branch %s: %w", c.branch, err)
	}

	if !diag.CanPush {
		return diag, fmt.Errorf("%w: token cannot push to %s", domain.ErrForbidden, diag.Repository)
	}

	return diag, nil
}

func (c *Client) PublicURL(p string) string {
	return strings.Join([]string{c.rawBaseURL, c.owner, c.repo, c.branch, escapePath(p)}, "/")
}

func escapePath(p string) string {
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return strings.Join(segments, "/")
}

func isArray(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '['
}
