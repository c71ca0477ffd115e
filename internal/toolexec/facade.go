// Package toolexec executes tool calls on behalf of specialists and reports a
// uniform {success, result, error} outcome.
package toolexec

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
)

// Result is the outcome of one tool call.
type Result struct {
	Tool             string      `json:"tool"`
	Success          bool        `json:"success"`
	Result           interface{} `json:"result,omitempty"`
	Error            string      `json:"error,omitempty"`
	NeedsInteraction bool        `json:"needs_interaction,omitempty"`
	Question         string      `json:"question,omitempty"`
	DurationMs       int64       `json:"duration_ms,omitempty"`
}

// Backend runs concrete tools.
type Backend interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
	Definitions() []llm.ToolDef
	Has(name string) bool
}

// Facade routes calls to control tools or the backend, applies role access and
// detects failures reported inside successful payloads.
type Facade struct {
	backend  Backend
	access   *AccessTable
	mutating map[string]bool
	logger   *logging.Logger
}

// NewFacade creates a facade. backend and access may be nil.
func NewFacade(backend Backend, access *AccessTable, fileMutating []string) *Facade {
	m := make(map[string]bool, len(fileMutating))
	for _, name := range fileMutating {
		m[name] = true
	}
	return &Facade{
		backend:  backend,
		access:   access,
		mutating: m,
		logger:   logging.New().WithComponent("toolexec"),
	}
}

// IsFileMutating reports whether a tool writes to the workspace.
func (f *Facade) IsFileMutating(name string) bool {
	return f.mutating[name]
}

// Execute runs one tool. It never panics and never returns an error: every
// failure is reported through Result.
func (f *Facade) Execute(ctx context.Context, name string, args map[string]interface{}, role, specialistID string) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = failed(name, fmt.Sprintf("tool %s panicked: %v", name, r))
		}
		res.DurationMs = time.Since(start).Milliseconds()
		var err error
		if !res.Success {
			err = fmt.Errorf("%s", res.Error)
		}
		f.logger.ToolResult(name, time.Since(start), err)
	}()

	if args == nil {
		args = map[string]interface{}{}
	}

	if isControl(name) {
		return executeControl(name, args)
	}
	if !f.access.Allowed(role, name) {
		f.logger.Warn("tool denied for role", map[string]interface{}{
			"tool":       name,
			"role":       role,
			"specialist": specialistID,
		})
		return failed(name, fmt.Sprintf("tool %s is not permitted for role %q", name, role))
	}
	if f.backend == nil || !f.backend.Has(name) {
		return failed(name, fmt.Sprintf("tool not found: %s", name))
	}

	out, err := f.backend.Execute(ctx, name, args)
	if err != nil {
		return failed(name, err.Error())
	}
	return Normalize(name, out)
}

// Schema lists the tools a role may call, control tools included.
func (f *Facade) Schema(role, specialistID string) []llm.ToolDef {
	var defs []llm.ToolDef
	if f.backend != nil {
		for _, def := range f.backend.Definitions() {
			if isControl(def.Name) || !f.access.Allowed(role, def.Name) {
				continue
			}
			defs = append(defs, def)
		}
	}
	return append(defs, controlDefinitions()...)
}

func failed(name, msg string) Result {
	return Result{Tool: name, Success: false, Error: msg}
}
