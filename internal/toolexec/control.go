package toolexec

import (
	"strings"

	"github.com/vinayprograms/agentkit/llm"
)

// Control tools are handled by the facade itself.
const (
	ToolComplete = "complete_task"
	ToolAskUser  = "ask_user"
	ToolNote     = "record_note"
)

func isControl(name string) bool {
	return name == ToolComplete || name == ToolAskUser || name == ToolNote
}

func controlDefinitions() []llm.ToolDef {
	return []llm.ToolDef{
		{
			Name:        ToolComplete,
			Description: "Finish the task. Provide the final content and, when files must change, the target file and edit instructions.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"content":           map[string]interface{}{"type": "string", "description": "Final output of the task"},
					"structured_data":   map[string]interface{}{"type": "object", "description": "Optional machine-readable result"},
					"target_file":       map[string]interface{}{"type": "string", "description": "File the output belongs in, relative to the project"},
					"edit_instructions": map[string]interface{}{"type": "string", "description": "How to apply the output to target_file"},
				},
			},
		},
		{
			Name:        ToolAskUser,
			Description: "Ask the user a clarifying question. Execution pauses until they reply.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"question": map[string]interface{}{"type": "string"},
				},
				"required": []string{"question"},
			},
		},
		{
			Name:        ToolNote,
			Description: "Save a short note to your working memory for later iterations.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"note": map[string]interface{}{"type": "string"},
				},
				"required": []string{"note"},
			},
		},
	}
}

func executeControl(name string, args map[string]interface{}) Result {
	switch name {
	case ToolComplete:
		content := stringArg(args, "content")
		data, _ := args["structured_data"].(map[string]interface{})
		if content == "" && len(data) == 0 {
			return failed(name, "complete_task requires content or structured_data")
		}
		return Result{Tool: name, Success: true, Result: args}
	case ToolAskUser:
		q := stringArg(args, "question")
		if q == "" {
			return failed(name, "ask_user requires a question")
		}
		return Result{Tool: name, Success: true, NeedsInteraction: true, Question: q}
	case ToolNote:
		note := stringArg(args, "note")
		if note == "" {
			return failed(name, "record_note requires a note")
		}
		return Result{Tool: name, Success: true, Result: note}
	}
	return failed(name, "unknown control tool: "+name)
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}
