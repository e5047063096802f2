package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
)

var (
	ErrNotConfigured = errors.New("ai: api key not configured")
	ErrClientInit    = errors.New("ai: client failed to initialize")
)

// Cause codes used for retry classification.
const (
	CodeConnReset = "ECONNRESET"
	CodeTimeout   = "ETIMEDOUT"

	contextLengthExceeded = "context_length_exceeded"
)

// User-facing messages. None of them carry provider text.
const (
	MsgRateLimited   = "We're experiencing high demand. Please try again in a few moments."
	MsgUnauthorized  = "Authentication error. Please contact support."
	MsgForbidden     = "Access denied. Please check your permissions."
	MsgUnavailable   = "Our AI service is temporarily unavailable. Please try again."
	MsgTimeout       = "Request timed out. Please try again with a shorter document or fewer files."
	MsgContextLength = "Document is too long. Please reduce the content or number of files."
	MsgUnexpected    = "An unexpected error occurred. Please try again."
	MsgNotConfigured = "The AI service is not configured. Please contact support."
)

// OperationError is returned by every executor operation that does not succeed.
// It is built once and never mutated afterwards.
type OperationError struct {
	Op          string
	Status      int
	RetryCount  int
	IsRetryable bool
	UserMessage string
	Err         error
}

func (e *OperationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ai: %s failed", e.Op)
	}
	return fmt.Sprintf("ai: %s failed after %d retries: %v", e.Op, e.RetryCount, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether the executor never got past initialization.
func (e *OperationError) IsConfigError() bool {
	return errors.Is(e.Err, ErrNotConfigured) || errors.Is(e.Err, ErrClientInit)
}

// Failure is the structural view of an error used for classification:
// a status code, a cause code and a message.
type Failure struct {
	Status   int
	Code     string
	Message  string
	Canceled bool
}

type statusCoder interface {
	StatusCode() int
}

type errorCoder interface {
	ErrorCode() string
}

// Inspect extracts the classification fields from err.
func Inspect(err error) Failure {
	if err == nil {
		return Failure{}
	}
	f := Failure{Message: err.Error(), Canceled: errors.Is(err, context.Canceled)}

	var sc statusCoder
	if errors.As(err, &sc) {
		f.Status = sc.StatusCode()
	}
	var ec errorCoder
	if errors.As(err, &ec) {
		f.Code = ec.ErrorCode()
	}
	if f.Code == "" {
		f.Code = networkCode(err)
	}
	return f
}

func networkCode(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeConnReset
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return CodeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}
	return ""
}

// Retryable reports whether the failure is transient.
func (f Failure) Retryable() bool {
	if f.Canceled {
		return false
	}
	if f.Status == http.StatusTooManyRequests {
		return true
	}
	if f.Status >= 500 && f.Status < 600 {
		return true
	}
	return f.Code == CodeConnReset || f.Code == CodeTimeout
}

// IsRetryable classifies err: 429, any 5xx, or a reset/timeout cause. A cancelled
// caller is never retryable, whatever the last provider error was.
func IsRetryable(err error) bool {
	return Inspect(err).Retryable()
}

// UserMessage maps a failure to a message safe for display.
func (f Failure) UserMessage() string {
	switch {
	case f.Canceled:
		return MsgUnexpected
	case f.Status == http.StatusTooManyRequests:
		return MsgRateLimited
	case f.Status == http.StatusUnauthorized:
		return MsgUnauthorized
	case f.Status == http.StatusForbidden:
		return MsgForbidden
	case f.Status >= 500:
		return MsgUnavailable
	case f.Code == CodeTimeout:
		return MsgTimeout
	case strings.Contains(f.Message, contextLengthExceeded):
		return MsgContextLength
	default:
		return MsgUnexpected
	}
}

func newOperationError(op string, err error, retryCount int) *OperationError {
	f := Inspect(err)
	status := f.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &OperationError{
		Op:          op,
		Status:      status,
		RetryCount:  retryCount,
		IsRetryable: f.Retryable(),
		UserMessage: f.UserMessage(),
		Err:         err,
	}
}

func newConfigError(op string, err error) *OperationError {
	return &OperationError{
		Op:          op,
		Status:      http.StatusInternalServerError,
		UserMessage: MsgNotConfigured,
		Err:         err,
	}
}
