// Package businessflow contains the subscriber directory and broadcast dispatch workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Subscriber-related errors
	ErrSubscriberNotFound     = errors.New("subscriber not found")
	ErrEmailAlreadySubscribed = errors.New("email already subscribed")
	ErrInvalidEmail           = errors.New("invalid email address")
	ErrInvalidCategory        = errors.New("invalid subscriber category")
	ErrInvalidStatus          = errors.New("invalid subscriber status")
	ErrNoSubscribersMatched   = errors.New("no subscribers matched the given ids")
	ErrUnknownUnsubscribe     = errors.New("unsubscribe token not found")

	// Import-related errors
	ErrUnsupportedImportFormat = errors.New("unsupported import format")
	ErrEmailColumnMissing      = errors.New("no email column found in header")
	ErrEmptyImport             = errors.New("import file has no rows")

	// Broadcast-related errors
	ErrBroadcastNotFound             = errors.New("broadcast not found")
	ErrBroadcastNotCreatedInProvider = errors.New("broadcast not properly created in provider")
	ErrNoActiveSubscribers           = errors.New("no active subscribers in target")
	ErrCategoryScheduleNotAllowed    = errors.New("category broadcasts cannot be scheduled")
	ErrInvalidBroadcastTarget        = errors.New("invalid broadcast target")
	ErrInvalidBroadcastStatus        = errors.New("invalid broadcast status")
	ErrProviderBroadcastIDMissing    = errors.New("provider returned no broadcast id")
	ErrBroadcastSendFailed           = errors.New("failed to send broadcast")
	ErrNoBroadcastsMatched           = errors.New("no broadcasts matched the given ids")

	// Request-related errors
	ErrInvalidPage     = errors.New("page must be at least 1")
	ErrInvalidPageSize = errors.New("page size must be between 1 and 100")
	ErrEmptyIDs        = errors.New("at least one id is required")
)

// ErrorKind classifies a business error for the presentation layer
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindBadRequest ErrorKind = "bad_request"
	KindInternal   ErrorKind = "internal"
)

// BusinessError represents a business logic error with a machine code and a human message
type BusinessError struct {
	Code    string
	Message string
	Kind    ErrorKind
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

// NewBusinessError creates an internal business error
func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Kind:    KindInternal,
		Err:     err,
	}
}

// NewBusinessErrorf creates an internal business error with a formatted message
func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Kind:    KindInternal,
		Err:     err,
	}
}

func newNotFound(code, message string, err error) *BusinessError {
	return &BusinessError{Code: code, Message: message, Kind: KindNotFound, Err: err}
}

func newConflict(code, message string, err error) *BusinessError {
	return &BusinessError{Code: code, Message: message, Kind: KindConflict, Err: err}
}

func newBadRequest(code, message string, err error) *BusinessError {
	return &BusinessError{Code: code, Message: message, Kind: KindBadRequest, Err: err}
}

// KindOf returns the kind carried by err, KindInternal for anything unclassified
func KindOf(err error) ErrorKind {
	var be *BusinessError
	if errors.As(err, &be) && be.Kind != "" {
		return be.Kind
	}
	return KindInternal
}

// AsBusinessError extracts the outermost BusinessError, if any
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

func IsBadRequest(err error) bool {
	return err != nil && KindOf(err) == KindBadRequest
}

func IsSubscriberNotFound(err error) bool {
	return errors.Is(err, ErrSubscriberNotFound)
}

func IsEmailAlreadySubscribed(err error) bool {
	return errors.Is(err, ErrEmailAlreadySubscribed)
}

func IsBroadcastNotFound(err error) bool {
	return errors.Is(err, ErrBroadcastNotFound)
}

func IsNoActiveSubscribers(err error) bool {
	return errors.Is(err, ErrNoActiveSubscribers)
}

func IsCategoryScheduleNotAllowed(err error) bool {
	return errors.Is(err, ErrCategoryScheduleNotAllowed)
}

func IsBroadcastNotCreatedInProvider(err error) bool {
	return errors.Is(err, ErrBroadcastNotCreatedInProvider)
}

func IsBroadcastSendFailed(err error) bool {
	return errors.Is(err, ErrBroadcastSendFailed)
}
