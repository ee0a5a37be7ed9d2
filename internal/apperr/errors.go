// Package apperr holds the sentinel errors shared across Termboard layers.
package apperr

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnsupportedDocument = errors.New("unsupported document")
	ErrNodeNotFound        = errors.New("node not found")
	ErrBookDisabled        = errors.New("book not enabled")
	ErrInvalidTerm         = errors.New("invalid term")
	ErrMalformedBoard      = errors.New("malformed board document")
	ErrUnsynced            = errors.New("not written to board")
)
