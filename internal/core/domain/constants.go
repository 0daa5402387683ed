package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("invalid input")
	ErrEmptyInput = errors.New("empty input")
	ErrDecode     = errors.New("unable to decode image")
	ErrConfig     = errors.New("store not configured")
	ErrAuth       = errors.New("store rejected credentials")
	ErrForbidden  = errors.New("store credential lacks permission")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("content changed since it was read")
	ErrTransient  = errors.New("temporary store failure")
)

// PublishError reports that the original image was archived but the
// document could not be published. The archived entry stays in place and
// can be reused to retry the publish.
type PublishError struct {
	Entry ArchiveEntry
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("image archived at %s but drawing publish failed: %v", e.Entry.Path, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Remediation turns a store failure into an actionable message.
func Remediation(err error) string {
	switch {
	case errors.Is(err, ErrAuth):
		return "credential rejected: check that the token is valid and not expired (" + err.Error() + ")"
	case errors.Is(err, ErrForbidden):
		return "credential lacks permission: grant contents read/write on the repository (" + err.Error() + ")"
	case errors.Is(err, ErrNotFound):
		return "repository or branch not found: check the repository name and branch (" + err.Error() + ")"
	default:
		return err.Error()
	}
}
