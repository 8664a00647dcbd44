package domain

import (
	"errors"
	"fmt"
)

var (
	// Frame could not be decoded. Nothing is mutated.
	ErrMalformedMessage = errors.New("malformed message")
	// Sequence number on a single frame is not a non-negative integer. Logged and skipped.
	ErrInvalidSequence = errors.New("invalid sequence number")
	// Delta did not carry the expected sequence number, the replica must be rebuilt
	ErrSequenceGap = errors.New("sequence gap")
	// Server asked for the book to be rebuilt from a fresh snapshot
	ErrResyncRequired = errors.New("resync required")
	ErrServer         = errors.New("server error")

	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRateLimited          = errors.New("rate limited: too many connections from this IP")
	ErrNotConnected         = errors.New("not connected")

	// Transport gave up redialing; the session is over
	ErrReconnectLimit = errors.New("max reconnect attempts reached")
)

type SequenceGapError struct {
	Expected int64
	Received int64
}

func (e *SequenceGapError) Error() string {
	return fmt.Sprintf("sequence gap detected: expected %d, received %d", e.Expected, e.Received)
}

func (e *SequenceGapError) Unwrap() error {
	return ErrSequenceGap
}

// ErrorCode is the venue-defined classification carried on server error frames.
type ErrorCode string

const (
	ErrorCode_EngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	ErrorCode_InvalidJSON       ErrorCode = "INVALID_JSON"
	ErrorCode_InvalidMethod     ErrorCode = "INVALID_METHOD"
	ErrorCode_RateLimited       ErrorCode = "RATE_LIMITED"
	ErrorCode_Unknown           ErrorCode = "UNKNOWN"
)

func ParseErrorCode(s string) ErrorCode {
	switch code := ErrorCode(s); code {
	case ErrorCode_EngineUnavailable, ErrorCode_InvalidJSON, ErrorCode_InvalidMethod, ErrorCode_RateLimited:
		return code
	}
	return ErrorCode_Unknown
}

type ServerError struct {
	Code        ErrorCode
	RawCode     string
	Message     string
	OrderbookID string
}

func NewServerError(code, message, orderbookID string) *ServerError {
	return &ServerError{
		Code:        ParseErrorCode(code),
		RawCode:     code,
		Message:     message,
		OrderbookID: orderbookID,
	}
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s (code: %s)", e.Message, e.RawCode)
}

func (e *ServerError) Unwrap() error {
	return ErrServer
}

func MalformedMessage(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
}

func AuthenticationFailed(err error) error {
	return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
}

// IsResyncRequired reports whether err means the local replica is no longer trustworthy.
func IsResyncRequired(err error) bool {
	return errors.Is(err, ErrSequenceGap) || errors.Is(err, ErrResyncRequired)
}
