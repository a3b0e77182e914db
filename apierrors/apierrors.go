// Package apierrors defines the typed error taxonomy surfaced across the
// public Proxy API: InvalidRouteSpec, BackendUnavailable, StartupFailed,
// RouteNotConverged, PartialWrite and NotFound.
package apierrors

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories surfaced to callers.
type Kind string

const (
	KindInvalidRouteSpec   Kind = "InvalidRouteSpec"
	KindBackendUnavailable Kind = "BackendUnavailable"
	KindStartupFailed      Kind = "StartupFailed"
	KindRouteNotConverged  Kind = "RouteNotConverged"
	KindPartialWrite       Kind = "PartialWrite"
	KindNotFound           Kind = "NotFound"
)

// Error is a typed error carrying one of the Kind values above plus the
// routespec and backend operation it arose from, so log lines and caller
// error handling can always inspect the same fields.
type Error struct {
	Kind      Kind
	RouteSpec string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.RouteSpec != "" {
		msg += " routespec=" + e.RouteSpec
	}
	if e.Op != "" {
		msg += " op=" + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, apierrors.NotFound) style sentinel checks by
// comparing Kind, ignoring the wrapped error and context fields.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func InvalidRouteSpecf(format string, args ...any) *Error {
	return newf(KindInvalidRouteSpec, format, args...)
}

func BackendUnavailable(op string, routespec string, err error) *Error {
	return &Error{Kind: KindBackendUnavailable, Op: op, RouteSpec: routespec, Err: err}
}

func StartupFailed(err error) *Error {
	return &Error{Kind: KindStartupFailed, Err: err}
}

func RouteNotConverged(routespec string, err error) *Error {
	return &Error{Kind: KindRouteNotConverged, RouteSpec: routespec, Err: err}
}

func PartialWrite(op string, routespec string, err error) *Error {
	return &Error{Kind: KindPartialWrite, Op: op, RouteSpec: routespec, Err: err}
}

func NotFound(routespec string) *Error {
	return &Error{Kind: KindNotFound, RouteSpec: routespec}
}

// Sentinels usable with errors.Is(err, apierrors.ErrNotFound).
var (
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidRouteSpec   = &Error{Kind: KindInvalidRouteSpec}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrStartupFailed      = &Error{Kind: KindStartupFailed}
	ErrRouteNotConverged  = &Error{Kind: KindRouteNotConverged}
	ErrPartialWrite       = &Error{Kind: KindPartialWrite}
)

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
