package model

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
)

// Policy bounds attempts per failure class. An attempt count of 1 means no retry.
type Policy struct {
	NetworkAttempts    int
	TokenLimitAttempts int
	ServerAttempts     int
	InitialBackoff     time.Duration
	MaxBackoff         time.Duration
}

// DefaultPolicy retries network and token-limit failures up to three attempts
// and server failures once. Auth and config failures are never retried.
func DefaultPolicy() Policy {
	return Policy{
		NetworkAttempts:    3,
		TokenLimitAttempts: 3,
		ServerAttempts:     2,
		InitialBackoff:     time.Second,
		MaxBackoff:         30 * time.Second,
	}
}

func (p Policy) attempts(c Class) int {
	n := 1
	switch c {
	case ClassNetwork:
		n = p.NetworkAttempts
	case ClassTokenLimit:
		n = p.TokenLimitAttempts
	case ClassServer:
		n = p.ServerAttempts
	}
	if n < 1 {
		return 1
	}
	return n
}

// Retry describes a failed attempt that is about to be retried.
type Retry struct {
	Class   Class
	Attempt int // failures of this class so far, 1-based
	Err     error
}

// Caller sends prompts with classified retries.
type Caller struct {
	policy Policy
	logger *logging.Logger
}

// NewCaller creates a caller with the given policy.
func NewCaller(policy Policy) *Caller {
	return &Caller{
		policy: policy,
		logger: logging.New().WithComponent("model"),
	}
}

// Call sends build() to m until it gets a non-empty reply or the budget for the
// failing class runs out. build is invoked before every attempt so the prompt
// reflects whatever onRetry changed. Exhausted and non-retryable failures come
// back as *Error; context cancellation is returned as is.
func (c *Caller) Call(ctx context.Context, m Model, build func() string, tools []llm.ToolDef, onRetry func(Retry)) (string, error) {
	counts := map[Class]int{}
	total := 0

	op := func() (string, error) {
		total++
		text, err := m.Send(ctx, build(), tools)
		if err == nil && strings.TrimSpace(text) == "" {
			err = ErrEmptyResponse
		}
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", backoff.Permanent(ctx.Err())
		}

		class := Classify(err)
		counts[class]++
		if counts[class] >= c.policy.attempts(class) {
			return "", backoff.Permanent(&Error{Class: class, Attempts: total, Err: err})
		}

		c.logger.Warn("model call failed, retrying", map[string]interface{}{
			"class":   string(class),
			"attempt": counts[class],
			"error":   err.Error(),
		})
		if onRetry != nil {
			onRetry(Retry{Class: class, Attempt: counts[class], Err: err})
		}
		return "", err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.InitialBackoff
	b.MaxInterval = c.policy.MaxBackoff
	maxTries := c.policy.NetworkAttempts + c.policy.TokenLimitAttempts + c.policy.ServerAttempts
	if maxTries < 1 {
		maxTries = 1
	}

	text, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxTries)))
	if err == nil {
		return text, nil
	}

	var me *Error
	if errors.As(err, &me) {
		return "", me
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", &Error{Class: Classify(err), Attempts: total, Err: err}
}
