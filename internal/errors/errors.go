// Package errors provides the daemon's error taxonomy.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrTimeout               = errors.New("operation timed out")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrFundNotFound          = errors.New("fund not found")
	ErrInstanceRunning       = errors.New("another daemon instance is running")
	ErrNoPrice               = errors.New("no price available")
	ErrUnsupportedCapability = errors.New("broker does not support required capability")
	ErrPoolStopped           = errors.New("task pool is stopped")
	ErrCircuitOpen           = errors.New("circuit breaker is open")
	ErrDatabaseError         = errors.New("database error")
)

// FundError attaches the fund and the action being performed to an error.
type FundError struct {
	FundID string
	Action string
	Err    error
}

func (e *FundError) Error() string {
	return fmt.Sprintf("fund %s: %s: %v", e.FundID, e.Action, e.Err)
}

func (e *FundError) Unwrap() error {
	return e.Err
}

// NewFundError creates a new FundError.
func NewFundError(fundID, action string, err error) *FundError {
	return &FundError{
		FundID: fundID,
		Action: action,
		Err:    err,
	}
}

// BrokerError represents an error from a broker adapter.
type BrokerError struct {
	Broker string
	Op     string
	Symbol string
	Err    error
}

func (e *BrokerError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("broker error [%s] %s %s: %v", e.Broker, e.Op, e.Symbol, e.Err)
	}
	return fmt.Sprintf("broker error [%s] %s: %v", e.Broker, e.Op, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(broker, op, symbol string, err error) *BrokerError {
	return &BrokerError{
		Broker: broker,
		Op:     op,
		Symbol: symbol,
		Err:    err,
	}
}

// ExecutionError represents a failed session executor invocation.
type ExecutionError struct {
	FundID string
	Kind   string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("session %s/%s: %v", e.FundID, e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(fundID, kind string, err error) *ExecutionError {
	return &ExecutionError{
		FundID: fundID,
		Kind:   kind,
		Err:    err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Unwrap makes every validation error match ErrConfigInvalid.
func (e *ValidationError) Unwrap() error {
	return ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// FromContext maps an expired deadline to ErrTimeout and leaves other errors alone.
func FromContext(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, ignoring nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
