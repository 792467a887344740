// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrNoPosition           = errors.New("no open position")
	ErrInvalidParameters    = errors.New("invalid parameters")
	ErrCapitalLimit         = errors.New("capital usage limit reached")
	ErrPositionLimit        = errors.New("position limit reached")
	ErrMarketClosed         = errors.New("market is closed")
	ErrBrokerConnection     = errors.New("broker connection failed")
	ErrBrokerCredentials    = errors.New("broker credentials invalid")
	ErrInsufficientBalance  = errors.New("insufficient broker balance")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionNotRunning    = errors.New("session not running")
	ErrStopTimeout          = errors.New("session still running after stop request")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrConfigInvalid        = errors.New("invalid configuration")
)

// Kind names, stable across releases.
const (
	KindInsufficientFunds    = "insufficient_funds"
	KindInsufficientQuantity = "insufficient_quantity"
	KindNoPosition           = "no_position"
	KindInvalidParameters    = "invalid_parameters"
	KindCapitalLimit         = "capital_limit"
	KindPositionLimit        = "position_limit"
	KindMarketClosed         = "market_closed"
	KindBrokerConnection     = "broker_connection_failure"
	KindBrokerCredentials    = "broker_credentials_invalid"
	KindInsufficientBalance  = "insufficient_balance"
	KindSessionNotFound      = "session_not_found"
	KindSessionNotRunning    = "session_not_running"
	KindStopTimeout          = "stop_timeout"
	KindUnauthorized         = "unauthorized"
	KindConfigInvalid        = "config_invalid"
	KindInternal             = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInsufficientFunds, KindInsufficientFunds},
	{ErrInsufficientQuantity, KindInsufficientQuantity},
	{ErrNoPosition, KindNoPosition},
	{ErrInvalidParameters, KindInvalidParameters},
	{ErrCapitalLimit, KindCapitalLimit},
	{ErrPositionLimit, KindPositionLimit},
	{ErrMarketClosed, KindMarketClosed},
	{ErrBrokerCredentials, KindBrokerCredentials},
	{ErrBrokerConnection, KindBrokerConnection},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrSessionNotRunning, KindSessionNotRunning},
	{ErrStopTimeout, KindStopTimeout},
	{ErrUnauthorized, KindUnauthorized},
	{ErrConfigInvalid, KindConfigInvalid},
}

// Kind classifies err into one of the Kind* names.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRecoverable reports whether err only invalidates the trade that caused it.
func IsRecoverable(err error) bool {
	switch Kind(err) {
	case KindInsufficientFunds, KindInsufficientQuantity, KindNoPosition,
		KindInvalidParameters, KindCapitalLimit, KindPositionLimit:
		return true
	}
	return false
}

// IsCycleAbort reports whether err should abandon the current trading cycle
// without failing the session.
func IsCycleAbort(err error) bool {
	switch Kind(err) {
	case KindBrokerConnection, KindBrokerCredentials, KindMarketClosed:
		return true
	}
	return false
}

// Reason returns a human-readable message for err, suitable for display.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var te *TradeError
	if errors.As(err, &te) && te.Reason != "" {
		return te.Reason
	}
	var se *SessionError
	if errors.As(err, &se) && se.Reason != "" {
		return se.Reason
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return fmt.Sprintf("broker %s failed", be.Op)
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
	}
	if Kind(err) == KindInternal {
		return "internal error"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err.Error()
		}
	}
	return "internal error"
}

// TradeError is a rejected trade.
type TradeError struct {
	Kind   error
	Symbol string
	Action string
	Reason string
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("trade rejected %s %s: %s", e.Action, e.Symbol, e.Reason)
}

func (e *TradeError) Unwrap() error {
	return e.Kind
}

// NewTradeError creates a new TradeError.
func NewTradeError(kind error, symbol, action, reason string) *TradeError {
	return &TradeError{
		Kind:   kind,
		Symbol: symbol,
		Action: action,
		Reason: reason,
	}
}

// SessionError is a failed session command.
type SessionError struct {
	SessionID string
	Kind      error
	Reason    string
}

func (e *SessionError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("session error: %s", e.Reason)
	}
	return fmt.Sprintf("session error [%s]: %s", e.SessionID, e.Reason)
}

func (e *SessionError) Unwrap() error {
	return e.Kind
}

// NewSessionError creates a new SessionError.
func NewSessionError(sessionID string, kind error, reason string) *SessionError {
	return &SessionError{
		SessionID: sessionID,
		Kind:      kind,
		Reason:    reason,
	}
}

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Op  string
	Err error
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker error [%s]: %v", e.Op, e.Err)
}

// Unwrap exposes both the connection kind and the cause, so a wrapped
// credentials error still classifies as credentials.
func (e *BrokerError) Unwrap() []error {
	return []error{e.Err, ErrBrokerConnection}
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(op string, err error) *BrokerError {
	return &BrokerError{
		Op:  op,
		Err: err,
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

func (e *ValidationError) Unwrap() error {
	return ErrInvalidParameters
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
