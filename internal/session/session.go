// Package session provides the forensic journal of a plan execution.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Status constants for sessions.
const (
	StatusRunning   = "running"
	StatusComplete  = "complete"
	StatusFailed    = "failed"
	StatusPaused    = "paused"
	StatusCancelled = "cancelled"
)

// Event types for the journal.
const (
	// Plan events
	EventPlanStart = "plan_start"
	EventPlanEnd   = "plan_end"
	EventResume    = "resume"

	// Step events
	EventStepStart  = "step_start"
	EventStepEnd    = "step_end"
	EventValidation = "validation"

	// Specialist loop events
	EventIteration   = "iteration"
	EventModelRetry  = "model_retry"
	EventFormatError = "format_error"
	EventToolCall    = "tool_call"
	EventToolResult  = "tool_result"
	EventInteraction = "interaction"
)

// Session is the journal of one plan execution.
type Session struct {
	ID        string            `json:"id"`
	PlanID    string            `json:"plan_id"`
	Inputs    map[string]string `json:"inputs"`
	Outputs   map[string]string `json:"outputs"`
	Status    string            `json:"status"`
	Result    string            `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
	Events    []Event           `json:"events"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	seqCounter uint64
	mu         sync.Mutex
}

// Event is a single journal entry.
type Event struct {
	SeqID     uint64    `json:"seq"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	CorrelationID string `json:"corr_id,omitempty"` // Links tool_call to tool_result

	// Where in the plan this happened
	Step       int    `json:"step,omitempty"`
	Specialist string `json:"specialist,omitempty"`
	Iteration  int    `json:"iteration,omitempty"`

	Content string                 `json:"content,omitempty"`
	Tool    string                 `json:"tool,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`

	Success    *bool  `json:"success,omitempty"` // nil = in progress
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	Meta *EventMeta `json:"meta,omitempty"`
}

// EventMeta carries structured details for analysis tools.
type EventMeta struct {
	Phase          string   `json:"phase,omitempty"`          // early, middle, final
	MaxIterations  int      `json:"max_iterations,omitempty"` // Resolved loop bound
	Strategy       string   `json:"strategy,omitempty"`       // Parser strategy that matched
	Class          string   `json:"class,omitempty"`          // Model error class
	Attempt        int      `json:"attempt,omitempty"`        // Retry attempt
	Triggers       []string `json:"triggers,omitempty"`       // Validation triggers
	Correction     string   `json:"correction,omitempty"`     // Guidance injected on retry
	Question       string   `json:"question,omitempty"`       // Interaction question
	Intent         string   `json:"intent,omitempty"`         // Plan outcome
	Degraded       bool     `json:"degraded,omitempty"`       // Completion synthesized on exhaustion
	LoopIterations int      `json:"loop_iterations,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`   // Full prompt (debug)
	Response       string   `json:"response,omitempty"` // Full model reply (debug)
}

// Bool returns a pointer to b for Event.Success.
func Bool(b bool) *bool {
	return &b
}

// New creates an in-memory session.
func New(planID string, inputs map[string]string) *Session {
	now := time.Now()
	if inputs == nil {
		inputs = map[string]string{}
	}
	return &Session{
		ID:        uuid.NewString(),
		PlanID:    planID,
		Inputs:    inputs,
		Outputs:   map[string]string{},
		Status:    StatusRunning,
		Events:    []Event{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CurrentSeqID returns the last used sequence ID, or 0.
func (s *Session) CurrentSeqID() uint64 {
	return atomic.LoadUint64(&s.seqCounter)
}

// AddEvent appends an event with the next sequence ID.
func (s *Session) AddEvent(event Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.SeqID = atomic.AddUint64(&s.seqCounter, 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.Events = append(s.Events, event)
	s.UpdatedAt = time.Now()
	return event.SeqID
}

// SetOutput records a step output summary.
func (s *Session) SetOutput(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outputs[key] = value
}

// Finish sets the final status.
func (s *Session) Finish(status, result, errText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Status = status
	s.Result = result
	s.Error = errText
	s.UpdatedAt = time.Now()
}

// EventsOfType returns the events with the given type, in order.
func (s *Session) EventsOfType(eventType string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.Events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// StartCorrelation generates an ID for linking related events.
func StartCorrelation() string {
	return uuid.NewString()[:8]
}

// Store is the interface for session persistence.
type Store interface {
	Save(sess *Session) error
	Load(id string) (*Session, error)
}

// Manager creates and persists sessions.
type Manager struct {
	store Store
	mu    sync.Mutex
}

// NewManager creates a new session manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Create creates and saves a new session.
func (m *Manager) Create(planID string, inputs map[string]string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := New(planID, inputs)
	if err := m.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	return m.store.Load(id)
}

// Update saves changes to a session.
func (m *Manager) Update(sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Save(sess)
}

// JSONL record types
const (
	RecordTypeHeader = "header"
	RecordTypeEvent  = "event"
	RecordTypeFooter = "footer"
)

// JSONLRecord is a wrapper for JSONL lines with type discrimination.
type JSONLRecord struct {
	RecordType string `json:"_type"`

	// header
	ID        string            `json:"id,omitempty"`
	PlanID    string            `json:"plan_id,omitempty"`
	Inputs    map[string]string `json:"inputs,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`

	// event
	*Event `json:",omitempty"`

	// footer; the error key differs from Event's so the embedded field is not shadowed
	Status     string            `json:"status,omitempty"`
	Result     string            `json:"result,omitempty"`
	FinalError string            `json:"final_error,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
}

// FileStore stores sessions as JSONL files: one header line, one line per
// event, and a footer with the final state.
type FileStore struct {
	dir string
}

// NewFileStore creates a new file-based store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file a session is stored in.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// Save persists a session.
func (s *FileStore) Save(sess *Session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	f, err := os.Create(s.Path(sess.ID))
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	header := JSONLRecord{
		RecordType: RecordTypeHeader,
		ID:         sess.ID,
		PlanID:     sess.PlanID,
		Inputs:     sess.Inputs,
		CreatedAt:  sess.CreatedAt,
	}
	if err := writeLine(w, header); err != nil {
		return err
	}
	for _, evt := range sess.Events {
		evtCopy := evt
		if err := writeLine(w, JSONLRecord{RecordType: RecordTypeEvent, Event: &evtCopy}); err != nil {
			return err
		}
	}
	footer := JSONLRecord{
		RecordType: RecordTypeFooter,
		Status:     sess.Status,
		Result:     sess.Result,
		FinalError: sess.Error,
		Outputs:    sess.Outputs,
		UpdatedAt:  sess.UpdatedAt,
	}
	if err := writeLine(w, footer); err != nil {
		return err
	}
	return w.Flush()
}

func writeLine(w io.Writer, record JSONLRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Load reads a session by ID.
func (s *FileStore) Load(id string) (*Session, error) {
	return LoadFile(s.Path(id))
}

// List returns the IDs of stored sessions, sorted.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".jsonl"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadFile reads a JSONL session file.
func LoadFile(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sess := &Session{
		Inputs:  map[string]string{},
		Outputs: map[string]string{},
		Events:  []Event{},
	}

	// bufio.Reader instead of Scanner: no line length limit
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("error reading JSONL: %w", err)
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if perr := parseLine(trimmed, sess); perr != nil {
				return nil, perr
			}
		}
		if err == io.EOF {
			break
		}
	}

	if len(sess.Events) > 0 {
		sess.seqCounter = sess.Events[len(sess.Events)-1].SeqID
	}
	return sess, nil
}

func parseLine(line []byte, sess *Session) error {
	var record JSONLRecord
	if err := json.Unmarshal(line, &record); err != nil {
		return fmt.Errorf("failed to parse JSONL line: %w", err)
	}

	switch record.RecordType {
	case RecordTypeHeader:
		sess.ID = record.ID
		sess.PlanID = record.PlanID
		if record.Inputs != nil {
			sess.Inputs = record.Inputs
		}
		sess.CreatedAt = record.CreatedAt
	case RecordTypeEvent:
		if record.Event != nil {
			sess.Events = append(sess.Events, *record.Event)
		}
	case RecordTypeFooter:
		sess.Status = record.Status
		sess.Result = record.Result
		sess.Error = record.FinalError
		if record.Outputs != nil {
			sess.Outputs = record.Outputs
		}
		sess.UpdatedAt = record.UpdatedAt
	}
	return nil
}
