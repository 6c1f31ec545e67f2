package store

import (
	"errors"
	"fmt"

	"github.com/roach88/slicestore/internal/ir"
)

// Sentinel errors matched by RuntimeError through errors.Is.
var (
	ErrInvalidAction  = errors.New("invalid action")
	ErrInvalidMessage = errors.New("invalid message")
	ErrStoreClosed    = errors.New("store closed")
)

// RuntimeError represents an error detected while dispatching.
//
// Runtime errors include:
//   - Invalid action: a plain action with an empty or malformed type
//   - Invalid message: something that is neither an action nor a thunk
//   - Store closed: a dispatch after Close
//   - Reducer failed: a slice reducer returned an error
//   - Subscriber panic: a listener panicked during notification
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ActionType is the type of the action being dispatched, if any.
	ActionType ir.ActionType

	// FlowToken identifies the affected flow.
	FlowToken string

	// Err is the underlying cause, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidAction indicates a plain action failed validation.
	ErrCodeInvalidAction RuntimeErrorCode = "INVALID_ACTION"

	// ErrCodeInvalidMessage indicates a message that is not an action or thunk.
	ErrCodeInvalidMessage RuntimeErrorCode = "INVALID_MESSAGE"

	// ErrCodeStoreClosed indicates a dispatch on a closed store.
	ErrCodeStoreClosed RuntimeErrorCode = "STORE_CLOSED"

	// ErrCodeReducerFailed indicates a slice reducer returned an error.
	ErrCodeReducerFailed RuntimeErrorCode = "REDUCER_FAILED"

	// ErrCodeSubscriberPanic indicates a subscriber panicked.
	ErrCodeSubscriberPanic RuntimeErrorCode = "SUBSCRIBER_PANIC"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ActionType != "" {
		msg += fmt.Sprintf(" (type=%s)", e.ActionType)
	}
	if e.FlowToken != "" {
		msg += fmt.Sprintf(" (flow=%s)", e.FlowToken)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Is maps error codes onto the package sentinels.
func (e *RuntimeError) Is(target error) bool {
	switch target {
	case ErrInvalidAction:
		return e.Code == ErrCodeInvalidAction
	case ErrInvalidMessage:
		return e.Code == ErrCodeInvalidMessage
	case ErrStoreClosed:
		return e.Code == ErrCodeStoreClosed
	}
	return false
}

// IsReducerError returns true if the error is a reducer failure.
// Uses errors.As to handle wrapped errors.
func IsReducerError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeReducerFailed
	}
	return false
}

// IsSubscriberPanic returns true if the error (or any error joined into it)
// is a recovered subscriber panic.
func IsSubscriberPanic(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeSubscriberPanic
	}
	return false
}

func newInvalidActionError(a ir.Action, flowToken string, err error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeInvalidAction,
		Message:    "action failed validation",
		ActionType: a.Type,
		FlowToken:  flowToken,
		Err:        err,
	}
}

func newInvalidMessageError(msg any, flowToken string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeInvalidMessage,
		Message:   fmt.Sprintf("cannot dispatch %T: want ir.Action or Thunk", msg),
		FlowToken: flowToken,
	}
}

func newStoreClosedError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStoreClosed,
		Message: "dispatch on closed store",
	}
}

func newReducerError(slice string, a ir.Action, flowToken string, err error) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeReducerFailed,
		Message:    fmt.Sprintf("slice %q reducer failed", slice),
		ActionType: a.Type,
		FlowToken:  flowToken,
		Err:        err,
	}
}

func newSubscriberPanicError(a ir.Action, flowToken string, index int, r any) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeSubscriberPanic,
		Message:    fmt.Sprintf("subscriber %d panicked: %v", index, r),
		ActionType: a.Type,
		FlowToken:  flowToken,
	}
}
