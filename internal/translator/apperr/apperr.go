// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apperr defines the error taxonomy shared by the workflow engine
// and the HTTP layer. Errors carry a Kind, not a bare type: callers branch
// on the kind via errors.As without caring where the error was minted.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for retry decisions and HTTP status mapping.
type Kind string

const (
	// KindInvalidInput - unknown poem, same source/target languages, unknown
	// mode, or missing required config. Surfaced synchronously from Start.
	KindInvalidInput Kind = "InvalidInput"
	// KindUnknownProvider - a workflow step names a provider the factory
	// does not know. Misconfiguration, fatal to the task.
	KindUnknownProvider Kind = "UnknownProvider"
	// KindUnknownTemplate - a workflow step names a prompt template that is
	// not registered. Misconfiguration, fatal to the task.
	KindUnknownTemplate Kind = "UnknownTemplate"
	// KindMissingVariable - a prompt template references a variable absent
	// from the step's variable bag. Misconfiguration, fatal to the task.
	KindMissingVariable Kind = "MissingVariable"
	// KindProviderTransport - network failure, provider 5xx or rate limit.
	// Retriable.
	KindProviderTransport Kind = "ProviderTransportError"
	// KindProviderTimeout - a single attempt exceeded the step timeout.
	// Retriable.
	KindProviderTimeout Kind = "ProviderTimeout"
	// KindParsing - required output fields absent from the response. Not
	// retriable; retrying will not change content semantics.
	KindParsing Kind = "ParsingError"
	// KindPersistence - the database transaction failed; no rows exist.
	KindPersistence Kind = "PersistenceError"
	// KindArchive - the JSON artifact write failed; recorded as a warning.
	KindArchive Kind = "ArchiveError"
	// KindCancelled - the task was cancelled cooperatively.
	KindCancelled Kind = "Cancelled"
	// KindNotFound - lookup of a task or poem by id found nothing.
	KindNotFound Kind = "NotFound"
	// KindConflict - an operation was refused because the task is already in
	// a terminal state.
	KindConflict Kind = "Conflict"
	// KindInternal - anything unclassified.
	KindInternal Kind = "Internal"
)

// Error is the concrete error type carrying a Kind and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, msg string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain. Unclassified non-nil errors
// report KindInternal; nil reports the empty kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the error chain contains the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retriable reports whether the error is worth retrying: transport failures
// and per-attempt timeouts are; everything else is not.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindProviderTransport, KindProviderTimeout:
		return true
	}
	return false
}

// HTTPStatus maps an error kind to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
