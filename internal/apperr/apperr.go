// Package apperr defines the stable error kinds surfaced to callers of the engine.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindConfiguration     Kind = "configuration_error"
	KindDeviceUnreachable Kind = "device_unreachable"
	KindConflict          Kind = "conflict_error"
	KindStageFailure      Kind = "stage_failure"
	KindNotFound          Kind = "not_found"
	KindInvalidState      Kind = "invalid_state"
	KindInternal          Kind = "internal_error"
)

// Error carries a stable Kind plus a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func Validation(format string, args ...any) error {
	return newf(KindValidation, nil, format, args...)
}

func Configuration(format string, args ...any) error {
	return newf(KindConfiguration, nil, format, args...)
}

func DeviceUnreachable(err error, format string, args ...any) error {
	return newf(KindDeviceUnreachable, err, format, args...)
}

func Conflict(format string, args ...any) error {
	return newf(KindConflict, nil, format, args...)
}

func StageFailure(stage string, err error) error {
	return newf(KindStageFailure, err, "stage %q failed", stage)
}

func NotFound(format string, args ...any) error {
	return newf(KindNotFound, nil, format, args...)
}

func InvalidState(format string, args ...any) error {
	return newf(KindInvalidState, nil, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the human readable part of err without the kind prefix.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			return fmt.Sprintf("%s: %v", appErr.Message, appErr.Err)
		}
		return appErr.Message
	}
	return err.Error()
}
