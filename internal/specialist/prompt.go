package specialist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/docplan/internal/history"
	"github.com/vinayprograms/docplan/internal/toolexec"
)

// resultPreview bounds each tool result shown back to the model.
const resultPreview = 2000

const responseFormat = `Reply with one JSON object and nothing else:
{"content": "<your reasoning or draft>", "tool_calls": [{"name": "<tool>", "args": {...}}]}
Every reply must contain at least one tool call. Call complete_task when the task is done.
Call ask_user only for information that nobody but the user can provide.`

// PromptBuilder builds the XML-structured prompt for one specialist iteration.
type PromptBuilder struct {
	profile     Profile
	step        StepContext
	iteration   int
	max         int
	history     []history.Entry
	notes       []string
	lastResults []toolexec.Result
	tools       []llm.ToolDef
}

// NewPromptBuilder creates a builder for a specialist working on a step.
func NewPromptBuilder(profile Profile, step StepContext) *PromptBuilder {
	return &PromptBuilder{profile: profile, step: step}
}

// SetIteration sets the current iteration and the resolved limit.
func (b *PromptBuilder) SetIteration(n, max int) {
	b.iteration = n
	b.max = max
}

// SetHistory sets the already compressed history.
func (b *PromptBuilder) SetHistory(entries []history.Entry) {
	b.history = entries
}

// SetNotes sets the specialist's working memory.
func (b *PromptBuilder) SetNotes(notes []string) {
	b.notes = notes
}

// SetLastResults sets the tool results of the previous iteration.
func (b *PromptBuilder) SetLastResults(results []toolexec.Result) {
	b.lastResults = results
}

// SetTools sets the tool schema the specialist may call.
func (b *PromptBuilder) SetTools(tools []llm.ToolDef) {
	b.tools = tools
}

// Build generates the prompt.
func (b *PromptBuilder) Build() string {
	var buf strings.Builder
	phase := PhaseFor(b.iteration, b.max)

	buf.WriteString(fmt.Sprintf("<specialist id=%q role=%q iteration=\"%d\" max-iterations=\"%d\" phase=%q>\n",
		b.profile.ID, b.profile.Role, b.iteration, b.max, phase))

	if b.profile.Prompt != "" {
		writeElement(&buf, "instructions", "", b.profile.Prompt)
	}

	if len(b.step.Plan) > 0 {
		buf.WriteString(fmt.Sprintf("\n<plan id=%q>\n", b.step.PlanID))
		for _, s := range b.step.Plan {
			buf.WriteString(fmt.Sprintf("  <step index=\"%d\" specialist=%q status=%q>%s</step>\n",
				s.Index, s.SpecialistID, s.Status, s.Description))
		}
		buf.WriteString("</plan>\n")
	}

	if sess := b.step.Session; sess.Name != "" || sess.BaseDir != "" {
		buf.WriteString(fmt.Sprintf("\n<session project=%q base-dir=%q", sess.Name, sess.BaseDir))
		if sess.Branch != "" {
			buf.WriteString(fmt.Sprintf(" branch=%q", sess.Branch))
		}
		if sess.LastModified != "" {
			buf.WriteString(fmt.Sprintf(" last-modified=%q", sess.LastModified))
		}
		buf.WriteString("/>\n")
	}

	if len(b.step.Dependencies) > 0 {
		buf.WriteString("\n<context>\n")
		for _, dep := range b.step.Dependencies {
			buf.WriteString(fmt.Sprintf("  <dependency step=\"%d\" specialist=%q>\n", dep.StepIndex, dep.SpecialistID))
			body := dep.Content
			if len(dep.StructuredData) > 0 {
				if data, err := json.Marshal(dep.StructuredData); err == nil {
					body = strings.TrimRight(body, "\n") + "\n" + string(data)
				}
			}
			buf.WriteString(body)
			if !strings.HasSuffix(body, "\n") {
				buf.WriteString("\n")
			}
			buf.WriteString("  </dependency>\n")
		}
		buf.WriteString("</context>\n")
	}

	if b.step.PreviousDraft != "" {
		writeElement(&buf, "previous-draft", "", b.step.PreviousDraft)
	}

	attrs := fmt.Sprintf(" step=\"%d\"", b.step.StepIndex)
	if b.step.Language != "" {
		attrs += fmt.Sprintf(" language=%q", b.step.Language)
	}
	writeElement(&buf, "task", attrs, b.step.Description)
	if b.step.ExpectedOutput != "" {
		writeElement(&buf, "expected-output", "", b.step.ExpectedOutput)
	}

	if len(b.notes) > 0 {
		var notes strings.Builder
		for _, n := range b.notes {
			notes.WriteString("- " + n + "\n")
		}
		writeElement(&buf, "notes", "", notes.String())
	}

	if len(b.history) > 0 {
		writeElement(&buf, "history", "", history.Render(b.history))
	}

	if len(b.lastResults) > 0 {
		buf.WriteString("\n<last-tool-results>\n")
		for _, r := range b.lastResults {
			buf.WriteString(fmt.Sprintf("  <result tool=%q success=\"%t\">", r.Tool, r.Success))
			buf.WriteString(truncateForLog(resultText(r), resultPreview))
			buf.WriteString("</result>\n")
		}
		buf.WriteString("</last-tool-results>\n")
	}

	if b.step.Correction != "" {
		writeElement(&buf, "correction", ` source="validation"`, b.step.Correction)
	}

	writeElement(&buf, "guidance", fmt.Sprintf(" phase=%q", phase), GuidanceFor(b.iteration, b.max))

	if len(b.tools) > 0 {
		var tools strings.Builder
		for _, t := range b.tools {
			tools.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
			if params, err := json.Marshal(t.Parameters); err == nil && t.Parameters != nil {
				tools.WriteString("  parameters: " + string(params) + "\n")
			}
		}
		writeElement(&buf, "tools", "", tools.String())
	}

	writeElement(&buf, "response-format", "", responseFormat)

	buf.WriteString("\n</specialist>")
	return buf.String()
}

func writeElement(buf *strings.Builder, tag, attrs, body string) {
	buf.WriteString(fmt.Sprintf("\n<%s%s>\n", tag, attrs))
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	buf.WriteString(fmt.Sprintf("</%s>\n", tag))
}

// resultText renders a tool result for prompts and history.
func resultText(r toolexec.Result) string {
	if !r.Success {
		return "error: " + r.Error
	}
	switch v := r.Result.(type) {
	case nil:
		return "ok"
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
