package memory

import (
	"context"
	"fmt"
	"path"
	"pixelbridge/internal/core/domain"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"
)

type entry struct {
	content []byte
	sha     string
}

// Commit is one recorded change, kept so callers can inspect the audit trail.
type Commit struct {
	Path    string
	Message string
	SHA     string
}

// Store is an in-process DocumentStore. Every write produces a fresh content
// hash and the hash precondition is checked under the same lock as the
// write, so it behaves like a store with true compare-and-swap.
type Store struct {
	baseURL string
	files   map[string]entry
	commits []Commit
	mu      sync.RWMutex
}

// NewStore returns an empty store whose public URLs are rooted at baseURL.
func NewStore(baseURL string) *Store {
	return &Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		files:   make(map[string]entry),
	}
}

func (s *Store) ReadHash(_ context.Context, p string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.files[clean(p)].sha, nil
}

func (s *Store) Write(_ context.Context, p string, content []byte, message string, expectedHash string) error {
	p = clean(p)

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.files[p]
	switch {
	case expectedHash == "" && exists:
		return fmt.Errorf("%w: %s already exists", domain.ErrConflict, p)
	case expectedHash != "" && !exists:
		return fmt.Errorf("%w: %s does not exist", domain.ErrConflict, p)
	case expectedHash != "" && current.sha != expectedHash:
		return fmt.Errorf("%w: %s is at %s, not %s", domain.ErrConflict, p, current.sha, expectedHash)
	}

	sha, err := newSHA()
	if err != nil {
		return err
	}

	buf := make([]byte, len(content))
	copy(buf, content)

	s.files[p] = entry{content: buf, sha: sha}
	s.commits = append(s.commits, Commit{Path: p, Message: message, SHA: sha})

	log.Debug().Str("path", p).Str("sha", sha).Str("message", message).Msg("memory store write")

	return nil
}

func (s *Store) List(_ context.Context, folder string) ([]domain.RemoteFile, error) {
	folder = clean(folder)

	s.mu.RLock()
	defer s.mu.RUnlock()

	files := []domain.RemoteFile{}
	for p, e := range s.files {
		dir := path.Dir(p)
		if dir == "." {
			dir = ""
		}

		if dir != folder {
			continue
		}

		files = append(files, domain.RemoteFile{
			Name:   path.Base(p),
			Path:   p,
			SHA:    e.sha,
			Size:   int64(len(e.content)),
			RawURL: s.PublicURL(p),
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return files, nil
}

func (s *Store) Delete(_ context.Context, p string, expectedHash string, message string) error {
	p = clean(p)

	if expectedHash == "" {
		return fmt.Errorf("%w: %s has no current hash", domain.ErrNotFound, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.files[p]
	if !exists {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, p)
	}

	if current.sha != expectedHash {
		return fmt.Errorf("%w: %s is at %s, not %s", domain.ErrConflict, p, current.sha, expectedHash)
	}

	delete(s.files, p)
	s.commits = append(s.commits, Commit{Path: p, Message: message})

	return nil
}

func (s *Store) Read(_ context.Context, p string) ([]byte, error) {
	p = clean(p)

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.files[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, p)
	}

	buf := make([]byte, len(e.content))
	copy(buf, e.content)

	return buf, nil
}

func (s *Store) Ping(_ context.Context) (domain.Diagnostics, error) {
	return domain.Diagnostics{Repository: "memory", Branch: "memory", CanPush: true}, nil
}

func (s *Store) PublicURL(p string) string {
	return s.baseURL + "/" + clean(p)
}

// Commits returns a copy of the change history.
func (s *Store) Commits() []Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Commit, len(s.commits))
	copy(out, s.commits)

	return out
}

func clean(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

func newSHA() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}

	return strings.ReplaceAll(id.String(), "-", ""), nil
}
