// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errs defines the error taxonomy shared by every modelgate package.
//
// Errors carry a Kind that callers branch on with errors.Is against the
// sentinel values below, and that the HTTP layer maps to status codes.
// Wrapping keeps the original cause available through errors.Unwrap.
package errs

import (
	"errors"
	"fmt"
)

// =============================================================================
// KIND
// =============================================================================

// Kind classifies an error.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUnknownModel
	KindIncapableModel
	KindNoCapableModel
	KindPayloadTooLarge
	KindInvalidEncoding
	KindDispatchExhausted
	KindSearchUnavailable
	KindStoreUnavailable
	KindNotFound
	KindConflict
	KindTimeout
	KindCanceled
)

var kindNames = [...]string{
	KindInternal:          "internal",
	KindInvalidInput:      "invalid_input",
	KindUnknownModel:      "unknown_model",
	KindIncapableModel:    "incapable_model",
	KindNoCapableModel:    "no_capable_model",
	KindPayloadTooLarge:   "payload_too_large",
	KindInvalidEncoding:   "invalid_encoding",
	KindDispatchExhausted: "dispatch_exhausted",
	KindSearchUnavailable: "search_unavailable",
	KindStoreUnavailable:  "store_unavailable",
	KindNotFound:          "not_found",
	KindConflict:          "conflict",
	KindTimeout:           "timeout",
	KindCanceled:          "canceled",
}

// String returns the snake_case name used in logs and API responses.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// =============================================================================
// ERROR
// =============================================================================

// Error is a classified error.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "storage.AppendTurn"
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same kind. Sentinels
// carry no Op, Message or cause, so any classified error of that kind matches.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" || t.Message != "" || t.Err != nil {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrInternal          = &Error{Kind: KindInternal}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrUnknownModel      = &Error{Kind: KindUnknownModel}
	ErrIncapableModel    = &Error{Kind: KindIncapableModel}
	ErrNoCapableModel    = &Error{Kind: KindNoCapableModel}
	ErrPayloadTooLarge   = &Error{Kind: KindPayloadTooLarge}
	ErrInvalidEncoding   = &Error{Kind: KindInvalidEncoding}
	ErrDispatchExhausted = &Error{Kind: KindDispatchExhausted}
	ErrSearchUnavailable = &Error{Kind: KindSearchUnavailable}
	ErrStoreUnavailable  = &Error{Kind: KindStoreUnavailable}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrCanceled          = &Error{Kind: KindCanceled}
)

// E builds a classified error with a formatted message.
func E(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or
// KindInternal when none is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
