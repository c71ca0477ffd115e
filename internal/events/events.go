// Package events publishes plan progress to observers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Type names a progress event.
type Type string

const (
	// PlanStarted is published before the first step runs.
	PlanStarted Type = "plan_started"
	// StepStarted is published before a step is delegated.
	StepStarted Type = "step_started"
	// StepCompleted is published after a step result is recorded.
	StepCompleted Type = "step_completed"
	// StepFailed is published when a step aborts the plan.
	StepFailed Type = "step_failed"
	// InteractionRequired is published when a step pauses for the user.
	InteractionRequired Type = "interaction_required"
	// PlanFinished is published once with the final intent.
	PlanFinished Type = "plan_finished"
)

// Event is one progress notification.
type Event struct {
	Type       Type      `json:"type"`
	PlanID     string    `json:"plan_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Step       int       `json:"step,omitempty"`
	Specialist string    `json:"specialist,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	Message    string    `json:"message,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher delivers events. Publish must not block execution for long;
// failures are reported but never stop a plan.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, evt Event) error { return nil }
func (NopPublisher) Close() error                                 { return nil }

// Func adapts a function to Publisher.
type Func func(evt Event)

func (f Func) Publish(ctx context.Context, evt Event) error {
	f(evt)
	return nil
}

func (f Func) Close() error { return nil }

// Multi fans an event out to several publishers and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return fmt.Errorf("%d publishers failed, first: %w", len(errs), errs[0])
}

// MemoryPublisher keeps events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (m *MemoryPublisher) Publish(ctx context.Context, evt Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types returns the published event types in order.
func (m *MemoryPublisher) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]Type, len(m.events))
	for i, e := range m.events {
		types[i] = e.Type
	}
	return types
}

// NATSPublisher publishes JSON events on <prefix>.<plan id>.<type>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to a NATS server.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("docplan"), nats.Timeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	if prefix == "" {
		prefix = "docplan"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(evt Event) string {
	return Subject(p.prefix, evt)
}

// Subject builds <prefix>.<plan id>.<type>. Characters NATS treats as
// tokens or wildcards are replaced in the plan id.
func Subject(prefix string, evt Event) string {
	plan := evt.PlanID
	if plan == "" {
		plan = "_"
	}
	clean := make([]rune, 0, len(plan))
	for _, r := range plan {
		switch r {
		case '.', '*', '>', ' ', '\t':
			clean = append(clean, '_')
		default:
			clean = append(clean, r)
		}
	}
	return fmt.Sprintf("%s.%s.%s", prefix, string(clean), evt.Type)
}

func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(evt), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
