package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Class is the retry category of a model failure.
type Class string

const (
	ClassNetwork    Class = "network"
	ClassServer     Class = "server"
	ClassAuth       Class = "auth"
	ClassTokenLimit Class = "token_limit"
	ClassConfig     Class = "config"
	ClassUnknown    Class = "unknown"
)

// ErrEmptyResponse is returned when the model replies with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ErrTokenLimit marks a context window or output length overflow.
var ErrTokenLimit = errors.New("model token limit exceeded")

// Error is a classified model failure.
type Error struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("model %s error after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Hint returns a message a human can act on.
func (e *Error) Hint() string {
	switch e.Class {
	case ClassAuth:
		return "The model provider rejected the credentials. Check the API key for the configured provider."
	case ClassConfig:
		return "The model request is misconfigured. Check the provider, model name and base URL."
	case ClassNetwork:
		return "The model provider could not be reached. Check connectivity and try again."
	case ClassServer:
		return "The model provider is failing. Try again later."
	case ClassTokenLimit:
		return "The model ran out of room for this step. Narrow the step or raise the token limits."
	default:
		return "The model call failed unexpectedly."
	}
}

// Retryable reports whether a class is ever retried.
func (c Class) Retryable() bool {
	return c == ClassNetwork || c == ClassServer || c == ClassTokenLimit
}

var (
	tokenMarkers  = []string{"context length", "context_length", "context window", "maximum context", "too many tokens", "token limit", "max_tokens", "prompt is too long", "reduce the length"}
	authMarkers   = []string{"401", "403", "unauthorized", "forbidden", "invalid api key", "invalid_api_key", "authentication", "permission denied"}
	configMarkers = []string{"404", "model not found", "unknown model", "not_found", "invalid model", "unsupported", "no such model", "400 bad request", "invalid_request"}
	serverMarkers = []string{"500", "502", "503", "504", "529", "internal server error", "bad gateway", "service unavailable", "overloaded", "rate limit", "429"}
	netMarkers    = []string{"connection refused", "connection reset", "no such host", "timeout", "timed out", "eof", "network is unreachable", "broken pipe", "tls handshake"}
)

// Classify maps an error to its retry class. Sentinels and typed errors are
// checked first, then the error text.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Class
	}
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrTokenLimit) {
		return ClassTokenLimit
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, tokenMarkers):
		return ClassTokenLimit
	case containsAny(msg, authMarkers):
		return ClassAuth
	case containsAny(msg, serverMarkers):
		return ClassServer
	case containsAny(msg, configMarkers):
		return ClassConfig
	case containsAny(msg, netMarkers):
		return ClassNetwork
	}
	return ClassUnknown
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
