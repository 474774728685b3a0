// Package transport holds the error type shared by clients of remote HTTP APIs.
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const redacted = "[REDACTED]"

// Error reports an unreachable, timed out or failing remote API call.
type Error struct {
	Service    string
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Service, e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (%d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap builds an Error around a failed call.
func Wrap(service, op string, err error) *Error {
	return &Error{Service: service, Op: op, Err: err}
}

// WrapRedacted is Wrap for calls whose URL or error text carries credentials,
// such as Bot API paths embedding the token. Every secret is replaced in the message;
// the cause chain below a *url.Error is kept.
func WrapRedacted(service, op string, err error, secrets ...string) *Error {
	var uErr *url.Error
	if errors.As(err, &uErr) {
		err = &url.Error{Op: uErr.Op, URL: Redact(uErr.URL, secrets...), Err: redactedErr(uErr.Err, secrets)}
	} else {
		err = redactedErr(err, secrets)
	}
	return Wrap(service, op, err)
}

// Redact replaces each non-empty secret in s.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, redacted)
		}
	}
	return s
}

type scrubbed struct {
	msg string
	err error
}

func (s *scrubbed) Error() string { return s.msg }
func (s *scrubbed) Unwrap() error { return s.err }

func redactedErr(err error, secrets []string) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if clean := Redact(msg, secrets...); clean != msg {
		return &scrubbed{msg: clean, err: err}
	}
	return err
}

// Status builds an Error for a non-2xx response.
func Status(service, op string, code int, detail string) *Error {
	return &Error{Service: service, Op: op, StatusCode: code, Detail: detail}
}

// Is reports whether err is, or wraps, a transport Error.
func Is(err error) bool {
	var tErr *Error
	return errors.As(err, &tErr)
}

// NewClient returns an HTTP client whose every request is bounded by timeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
