package model

import "errors"

var (
	// ErrUnsupportedMediaKind is fatal for the document that carries it
	ErrUnsupportedMediaKind = errors.New("unsupported media kind")

	// ErrExtractionFailure is retryable; on exhaustion extraction degrades to empty text
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrMalformedDocument is the only hard failure surfaced for document input
	ErrMalformedDocument = errors.New("malformed document")

	// ErrRegistryUnavailable is retryable; on exhaustion the identifier match is "unknown"
	ErrRegistryUnavailable = errors.New("registry unavailable")

	// ErrAmbiguousMatch is never auto-resolved
	ErrAmbiguousMatch = errors.New("ambiguous registry match")

	// ErrInvalidChecksum is fatal for one identifier only
	ErrInvalidChecksum = errors.New("invalid identifier checksum")

	// ErrImmutable is returned when appending a record id that already exists
	ErrImmutable = errors.New("record is immutable")

	// ErrInvalidEntityID is returned for entity ids outside the safe character set
	ErrInvalidEntityID = errors.New("invalid entity id")

	// ErrNotFound is returned by stores when a key is absent
	ErrNotFound = errors.New("not found")
)
