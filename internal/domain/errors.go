package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDreamNotFound          = errors.New("dream not found")
	ErrProcessedDreamNotFound = errors.New("processed dream not found")
	// ErrProcessedDreamExists rejects a second analysis record for the same raw dream.
	ErrProcessedDreamExists = errors.New("processed dream already exists for raw dream")
	ErrRetryLimitExceeded   = errors.New("retry limit exceeded")
	ErrNoImagePrompt        = errors.New("processed dream has no image prompt")
	ErrForbidden            = errors.New("resource belongs to another user")
	// ErrAnalysisInProgress rejects a submit while the dream has a live attempt cycle.
	ErrAnalysisInProgress = errors.New("analysis already in progress")
)

// ProviderError is any failure of an external analysis or image provider,
// including in-band error payloads.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err, leaving an existing ProviderError untouched.
func NewProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Err: err}
}

// PersistenceError is a failed read or write against the database.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
