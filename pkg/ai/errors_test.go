package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", statusErr(429), true},
		{"internal error", statusErr(500), true},
		{"bad gateway", statusErr(502), true},
		{"edge of 5xx", statusErr(599), true},
		{"600 is not a server error", statusErr(600), false},
		{"bad request", statusErr(400), false},
		{"unauthorized", statusErr(401), false},
		{"not found", statusErr(404), false},
		{"connection reset", connReset(), true},
		{"wrapped connection reset", fmt.Errorf("post: %w", connReset()), true},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"provider timeout code", &apiErr{code: CodeTimeout}, true},
		{"cancelled", context.Canceled, false},
		{"cancelled after server error", fmt.Errorf("%w; backoff interrupted: %w", statusErr(503), context.Canceled), false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestFailureUserMessage(t *testing.T) {
	tests := []struct {
		name string
		f    Failure
		want string
	}{
		{"rate limit", Failure{Status: 429}, MsgRateLimited},
		{"unauthorized", Failure{Status: 401}, MsgUnauthorized},
		{"forbidden", Failure{Status: 403}, MsgForbidden},
		{"server error", Failure{Status: 503}, MsgUnavailable},
		{"timeout", Failure{Code: CodeTimeout}, MsgTimeout},
		{"context length", Failure{Status: 400, Message: "This model's maximum context length is exceeded (context_length_exceeded)"}, MsgContextLength},
		{"fallback", Failure{Status: 404, Message: "No vector store found with id 'vs_1'"}, MsgUnexpected},
		{"status wins over timeout", Failure{Status: 502, Code: CodeTimeout}, MsgUnavailable},
		{"cancelled caller", Failure{Status: 503, Canceled: true}, MsgUnexpected},
		{"timeout wins over context length", Failure{Code: CodeTimeout, Message: "context_length_exceeded"}, MsgTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.UserMessage())
		})
	}
}

func TestNewOperationError(t *testing.T) {
	t.Run("defaults status to 500", func(t *testing.T) {
		err := newOperationError(OpCreateFile, errors.New("boom"), 0)
		assert.Equal(t, 500, err.Status)
		assert.False(t, err.IsRetryable)
		assert.Equal(t, MsgUnexpected, err.UserMessage)
	})

	t.Run("keeps provider status and unwraps", func(t *testing.T) {
		cause := statusErr(429)
		err := newOperationError(OpChatCompletion, cause, 3)
		assert.Equal(t, 429, err.Status)
		assert.Equal(t, 3, err.RetryCount)
		assert.True(t, err.IsRetryable)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "chat_completion")
		assert.False(t, err.IsConfigError())
	})

	t.Run("wrapped in caller errors", func(t *testing.T) {
		wrapped := fmt.Errorf("generate: %w", newOperationError(OpChatCompletion, statusErr(401), 0))
		var opErr *OperationError
		require.ErrorAs(t, wrapped, &opErr)
		assert.Equal(t, MsgUnauthorized, opErr.UserMessage)
	})
}

func TestInspect(t *testing.T) {
	f := Inspect(&apiErr{status: 400, code: "invalid_request_error", msg: "bad"})
	assert.Equal(t, 400, f.Status)
	assert.Equal(t, "invalid_request_error", f.Code)
	assert.Contains(t, f.Message, "bad")

	f = Inspect(fmt.Errorf("do request: %w", connReset()))
	assert.Zero(t, f.Status)
	assert.Equal(t, CodeConnReset, f.Code)
}
