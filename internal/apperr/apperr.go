// Package apperr holds the error taxonomy shared by the ingestion and analytics pipelines.
package apperr

import (
	"errors"
	"fmt"
)

// ErrEmptyResult aborts a non-dry-run sync that produced zero listings.
var ErrEmptyResult = errors.New("upstream returned zero listings; aborting refresh")

// ErrNotFound is returned by read queries for a missing or hidden entity.
var ErrNotFound = errors.New("not found")

// UpstreamError reports a request to the external listings API that failed on every attempt.
type UpstreamError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream GET %s failed after %d attempts (status %d): %v", e.URL, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream GET %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ValidationError marks a single record that cannot be used.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
}

// PersistenceError wraps a storage rejection. It is never retried automatically.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
