package model

import (
	"errors"
	"fmt"
)

// Input errors: surfaced verbatim, never retried, never affect circuits.
var (
	ErrKBNotFound        = errors.New("knowledge base not found")
	ErrKBInactive        = errors.New("knowledge base is inactive")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrDimensionMismatch = errors.New("embedding dimension does not match collection dimension")
	ErrDocumentNotFound  = errors.New("document not found")
)

// ErrServiceUnavailable is returned when every upstream modality required to
// answer a request is open-circuited.
var ErrServiceUnavailable = errors.New("service unavailable: all upstreams open-circuited")

// ErrProviderRejected wraps a permanent (4xx-class, excluding rate limits)
// upstream rejection. Never retried, never counted against a circuit.
var ErrProviderRejected = errors.New("provider rejected request")

// ErrIndexCorrupt is wrapped by every error bm25.Load returns for a
// structurally invalid index file; the BM25 index manager responds to it by
// rebuilding the index from the repository.
var ErrIndexCorrupt = errors.New("bm25 index corrupt")

// RetrievalError annotates a taxonomy error with the component, operation,
// and query that produced it. Modeled on the teacher's *SearchError.
type RetrievalError struct {
	Component string
	Operation string
	Message   string
	Query     string
	Err       error
}

func (e *RetrievalError) Error() string {
	if e.Err != nil {
		if e.Query != "" {
			return fmt.Sprintf("[%s:%s] %s (query: %q): %v", e.Component, e.Operation, e.Message, e.Query, e.Err)
		}
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Err)
	}
	if e.Query != "" {
		return fmt.Sprintf("[%s:%s] %s (query: %q)", e.Component, e.Operation, e.Message, e.Query)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// NewRetrievalError constructs a RetrievalError wrapping a sentinel taxonomy error.
func NewRetrievalError(component, operation, message, query string, err error) *RetrievalError {
	return &RetrievalError{Component: component, Operation: operation, Message: message, Query: query, Err: err}
}

// KBError wraps ErrKBNotFound/ErrKBInactive with the offending id.
type KBError struct {
	KBID string
	Err  error
}

func (e *KBError) Error() string { return fmt.Sprintf("kb %q: %v", e.KBID, e.Err) }
func (e *KBError) Unwrap() error { return e.Err }

// InternalError wraps a programmer error (bad types, nil dereference
// equivalents) recovered from a panic. Never retried.
type InternalError struct {
	Component string
	Recovered any
	Stack     []byte
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error in %s: %v", e.Component, e.Recovered)
}
