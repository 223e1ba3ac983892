package models

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownErrorMessage replaces any failure that produced no usable response.
const UnknownErrorMessage = "An unknown error occurred."

// Error codes for structured error handling.
const (
	ErrCodeNoActiveProfile = "NO_ACTIVE_PROFILE"
	ErrCodeUserCancelled   = "USER_CANCELLED"
	ErrCodeValidation      = "REMOTE_VALIDATION"
	ErrCodeTransport       = "TRANSPORT_ERROR"
	ErrCodeProfileNotFound = "PROFILE_NOT_FOUND"
	ErrCodeProfileChanged  = "PROFILE_CHANGED"
	ErrCodeUnknown         = "UNKNOWN_ERROR"
)

// Sentinel errors
var (
	ErrNoActiveProfile = errors.New("no active profile")
	ErrUserCancelled   = errors.New("password prompt cancelled")
	ErrProfileNotFound = errors.New("profile not found")
	ErrProfileChanged  = errors.New("active profile changed during password prompt")
	ErrEmptyPassword   = errors.New("empty password")
	ErrInvalidRecord   = errors.New("invalid profile record")
)

// ValidationError carries the reasons the server gave for rejecting a
// request, e.g. a wrong password.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "rejected by server: " + strings.Join(e.Errors, "; ")
}

// Messages returns the server's reasons verbatim.
func (e *ValidationError) Messages() []string {
	return e.Errors
}

// Code returns the structured error code.
func (e *ValidationError) Code() string {
	return ErrCodeValidation
}

// TransportError means no usable response arrived.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Messages hides the transport detail behind the generic message.
func (e *TransportError) Messages() []string {
	return []string{UnknownErrorMessage}
}

// Code returns the structured error code.
func (e *TransportError) Code() string {
	return ErrCodeTransport
}

// Messages turns any error into the list shown to the user.
func Messages(err error) []string {
	if err == nil {
		return nil
	}

	var lister interface{ Messages() []string }
	if errors.As(err, &lister) {
		if msgs := lister.Messages(); len(msgs) > 0 {
			return msgs
		}
		return []string{UnknownErrorMessage}
	}

	switch {
	case errors.Is(err, ErrNoActiveProfile):
		return []string{"No profile is selected."}
	case errors.Is(err, ErrUserCancelled):
		return []string{"Password entry was cancelled."}
	case errors.Is(err, ErrProfileNotFound):
		return []string{"The selected profile does not exist."}
	case errors.Is(err, ErrProfileChanged):
		return []string{"The active profile changed, please retry."}
	}
	return []string{UnknownErrorMessage}
}

// Code maps an error onto one of the ErrCode constants.
func Code(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}

	switch {
	case errors.Is(err, ErrNoActiveProfile):
		return ErrCodeNoActiveProfile
	case errors.Is(err, ErrUserCancelled):
		return ErrCodeUserCancelled
	case errors.Is(err, ErrProfileNotFound):
		return ErrCodeProfileNotFound
	case errors.Is(err, ErrProfileChanged):
		return ErrCodeProfileChanged
	}
	return ErrCodeUnknown
}

// APIError is a non-2xx HTTP answer from the server.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}
