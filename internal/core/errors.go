package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed classification of provider failures. Rate-limited
// and network failures are transient; token-limit failures are actionable
// (the pipeline retries once with a smaller budget); everything else is
// permanent.
type ErrorKind string

const (
	ErrKindTokenLimit  ErrorKind = "TOKEN_LIMIT"
	ErrKindRateLimited ErrorKind = "RATE_LIMITED"
	ErrKindNetwork     ErrorKind = "NETWORK"
	ErrKindOther       ErrorKind = "OTHER"
)

// Retryable reports whether a failure of this kind is worth retrying at all.
func (k ErrorKind) Retryable() bool {
	return k == ErrKindRateLimited || k == ErrKindNetwork
}

// ProviderError tags an upstream failure with its source system and kind.
// Raw provider messages may embed credentials, so logging sites must emit
// Source and Kind only.
type ProviderError struct {
	Source string // "github" or "llm"
	Kind   ErrorKind
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %v", e.Source, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err with a source and kind tag.
func NewProviderError(source string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Source: source, Kind: kind, Err: err}
}

// KindOf extracts the error kind from err, defaulting to OTHER for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindOther
}

// ErrSanitizerBlocked marks output the strict sanitizer refused to post.
// Permanent and policy-driven; never retried.
var ErrSanitizerBlocked = errors.New("E_SANITIZER_BLOCKED: sanitizer blocked unsafe review content")

// classifyPhrases is the fallback vocabulary for providers that surface
// failures as bare message strings. It is a compatibility shim, not the
// primary classification path: typed SDK errors always win.
var classifyPhrases = []struct {
	needle string
	kind   ErrorKind
}{
	{"prompt is too long", ErrKindTokenLimit},
	{"request too large", ErrKindTokenLimit},
	{"maximum context length", ErrKindTokenLimit},
	{"context_length_exceeded", ErrKindTokenLimit},
	{"rate limit", ErrKindRateLimited},
	{"too many requests", ErrKindRateLimited},
	{"overloaded", ErrKindRateLimited},
	{"secondary rate limit", ErrKindRateLimited},
	{"connection refused", ErrKindNetwork},
	{"connection reset", ErrKindNetwork},
	{"timeout", ErrKindNetwork},
	{"no such host", ErrKindNetwork},
}

// ClassifyByMessage maps an untyped error message onto an ErrorKind.
func ClassifyByMessage(err error) ErrorKind {
	if err == nil {
		return ErrKindOther
	}
	msg := strings.ToLower(err.Error())
	for _, p := range classifyPhrases {
		if strings.Contains(msg, p.needle) {
			return p.kind
		}
	}
	return ErrKindOther
}
