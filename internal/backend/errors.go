package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const connectionMessage = "Unable to connect to the server. Please check your connection."

// Error is the final error of a facade call, after retries are exhausted or
// the failure was not retryable. Status is 0 when no response was received.
type Error struct {
	Status    int
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// errorBody is the error shape the backend uses: {detail: string | [{msg, type}]}.
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type fieldError struct {
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// newError builds the final error for one attempt. transportErr is set when
// no response was received at all.
func newError(status int, body []byte, transportErr error) *Error {
	if transportErr != nil {
		return &Error{
			Message:   connectionMessage,
			Retryable: true,
			Err:       transportErr,
		}
	}

	e := &Error{
		Status:    status,
		Retryable: retryableStatus(status),
		Err:       fmt.Errorf("request failed with status %d", status),
	}
	if msg := detailMessage(body); msg != "" {
		e.Message = msg
	} else {
		e.Message = e.Err.Error()
	}
	return e
}

// detailMessage extracts a human-readable message from a structured error
// body. A single string wins; field-level errors are joined.
func detailMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(eb.Detail, &s); err == nil {
		return s
	}

	var fields []fieldError
	if err := json.Unmarshal(eb.Detail, &fields); err == nil {
		msgs := make([]string, 0, len(fields))
		for _, f := range fields {
			if f.Msg != "" {
				msgs = append(msgs, f.Msg)
			}
		}
		return strings.Join(msgs, ", ")
	}
	return ""
}
