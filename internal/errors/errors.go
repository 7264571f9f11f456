// Package errors defines the coded error taxonomy shared by the archiver
// components. Each error exposes a stable Code and unwraps to its cause.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Standard error codes for the application.
const (
	CodeUnknown        = "UNKNOWN"
	CodeAuth           = "AUTH"
	CodeTakeoutInvalid = "TAKEOUT_INVALID"
	CodeTakeoutFailed  = "TAKEOUT_FAILED"
	CodeFloodWait      = "FLOOD_WAIT"
	CodeGroupNotFound  = "GROUP_NOT_FOUND"
	CodeNotAMember     = "NOT_A_MEMBER"
	CodeConfig         = "CONFIG"
	CodeDatabase       = "DATABASE"
	CodeValidation     = "VALIDATION"
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error represents a basic application error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if it doesn't carry one.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// IsFatal reports whether err requires operator action before a retry can succeed.
func IsFatal(err error) bool {
	switch Code(err) {
	case CodeAuth, CodeTakeoutInvalid, CodeTakeoutFailed, CodeGroupNotFound, CodeNotAMember, CodeConfig:
		return true
	default:
		return false
	}
}

// AuthError reports rejected credentials or a failed login.
type AuthError struct {
	base Error
}

func (e *AuthError) Error() string { return e.base.Error() }
func (e *AuthError) Code() string  { return e.base.Code() }
func (e *AuthError) Unwrap() error { return e.base.Unwrap() }

func NewAuthError(message string, cause error) error {
	return &AuthError{base: Error{code: CodeAuth, message: message, err: cause}}
}

// TakeoutInvalidError reports that the provider invalidated the takeout
// session. The stored session has to be deleted and the login redone.
type TakeoutInvalidError struct {
	base        Error
	SessionPath string
}

func (e *TakeoutInvalidError) Error() string {
	if e.SessionPath == "" {
		return e.base.Error()
	}
	return fmt.Sprintf("%s (delete the session file %q and sign in again)", e.base.Error(), e.SessionPath)
}
func (e *TakeoutInvalidError) Code() string  { return e.base.Code() }
func (e *TakeoutInvalidError) Unwrap() error { return e.base.Unwrap() }

func NewTakeoutInvalidError(sessionPath string, cause error) error {
	return &TakeoutInvalidError{
		base:        Error{code: CodeTakeoutInvalid, message: "takeout session invalidated", err: cause},
		SessionPath: sessionPath,
	}
}

// TakeoutFailedError reports that every takeout negotiation attempt was used up.
type TakeoutFailedError struct {
	base     Error
	Attempts int
}

func (e *TakeoutFailedError) Error() string { return e.base.Error() }
func (e *TakeoutFailedError) Code() string  { return e.base.Code() }
func (e *TakeoutFailedError) Unwrap() error { return e.base.Unwrap() }

func NewTakeoutFailedError(attempts int, cause error) error {
	return &TakeoutFailedError{
		base:     Error{code: CodeTakeoutFailed, message: fmt.Sprintf("takeout not granted after %d attempts", attempts), err: cause},
		Attempts: attempts,
	}
}

// FloodWaitError carries the pause demanded by the provider's flood control.
type FloodWaitError struct {
	base Error
	Wait time.Duration
}

func (e *FloodWaitError) Error() string { return e.base.Error() }
func (e *FloodWaitError) Code() string  { return e.base.Code() }
func (e *FloodWaitError) Unwrap() error { return e.base.Unwrap() }

func NewFloodWaitError(wait time.Duration, cause error) error {
	return &FloodWaitError{
		base: Error{code: CodeFloodWait, message: fmt.Sprintf("flood wait of %s", wait), err: cause},
		Wait: wait,
	}
}

// AsFloodWait extracts the wait duration when err is a FloodWaitError.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}

// GroupNotFoundError reports a group identifier that matched no dialog.
type GroupNotFoundError struct {
	base       Error
	Identifier string
}

func (e *GroupNotFoundError) Error() string { return e.base.Error() }
func (e *GroupNotFoundError) Code() string  { return e.base.Code() }
func (e *GroupNotFoundError) Unwrap() error { return e.base.Unwrap() }

func NewGroupNotFoundError(identifier string, cause error) error {
	return &GroupNotFoundError{
		base:       Error{code: CodeGroupNotFound, message: fmt.Sprintf("group %q not found", identifier), err: cause},
		Identifier: identifier,
	}
}

// NotAMemberError reports a group the account left or was removed from.
type NotAMemberError struct {
	base       Error
	Identifier string
}

func (e *NotAMemberError) Error() string { return e.base.Error() }
func (e *NotAMemberError) Code() string  { return e.base.Code() }
func (e *NotAMemberError) Unwrap() error { return e.base.Unwrap() }

func NewNotAMemberError(identifier string) error {
	return &NotAMemberError{
		base:       Error{code: CodeNotAMember, message: fmt.Sprintf("not a member of group %q", identifier)},
		Identifier: identifier,
	}
}

type ConfigError struct {
	base Error
}

func (e *ConfigError) Error() string { return e.base.Error() }
func (e *ConfigError) Code() string  { return e.base.Code() }
func (e *ConfigError) Unwrap() error { return e.base.Unwrap() }

func NewConfigError(message string, cause error) error {
	return &ConfigError{base: Error{code: CodeConfig, message: message, err: cause}}
}

type DatabaseError struct {
	base Error
}

func (e *DatabaseError) Error() string { return e.base.Error() }
func (e *DatabaseError) Code() string  { return e.base.Code() }
func (e *DatabaseError) Unwrap() error { return e.base.Unwrap() }

func NewDatabaseError(message string, cause error) error {
	return &DatabaseError{base: Error{code: CodeDatabase, message: message, err: cause}}
}

type ValidationError struct {
	base Error
}

func (e *ValidationError) Error() string { return e.base.Error() }
func (e *ValidationError) Code() string  { return e.base.Code() }
func (e *ValidationError) Unwrap() error { return e.base.Unwrap() }

func NewValidationError(message string, cause error) error {
	return &ValidationError{base: Error{code: CodeValidation, message: message, err: cause}}
}
