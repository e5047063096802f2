package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Code    string
	Type    string
	Param   string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("openai: status %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("openai: status %d: %s", e.Status, e.Message)
}

func (e *APIError) StatusCode() int   { return e.Status }
func (e *APIError) ErrorCode() string { return e.Code }

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Param   any    `json:"param"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		e.Message = env.Error.Message
		e.Type = env.Error.Type
		e.Code = stringOrEmpty(env.Error.Code)
		e.Param = stringOrEmpty(env.Error.Param)
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func stringOrEmpty(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
