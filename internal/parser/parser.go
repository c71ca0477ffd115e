// Package parser extracts tool calls and content from free-form model output.
//
// Models wrap JSON in prose, fences and thinking blocks, and often emit it
// slightly broken. Parse tries, in order: fenced code blocks, the first
// brace-balanced object, the span from the first '{' to the last '}', and
// finally treats the whole text as free-form content. Every JSON candidate
// goes through a repair pass before it is rejected.
package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/tidwall/gjson"
)

// Strategy names the extraction step that produced a Response.
type Strategy string

const (
	StrategyFenced   Strategy = "fenced"
	StrategyBalanced Strategy = "balanced"
	StrategyGreedy   Strategy = "greedy"
	StrategyFreeform Strategy = "freeform"
)

// ToolCall is a single requested tool invocation.
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// Response is the parsed form of one model reply.
type Response struct {
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Strategy  Strategy   `json:"strategy"`
	Repaired  bool       `json:"repaired,omitempty"`
}

// HasToolCalls reports whether the reply requested any tool.
func (r Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

var (
	fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)```")
	thinkPattern = regexp.MustCompile(`(?s)<(think|thinking)>.*?</(think|thinking)>`)
)

// Parse never fails: text with no usable JSON comes back as free-form content.
func Parse(text string) Response {
	cleaned := strings.TrimSpace(thinkPattern.ReplaceAllString(text, ""))

	for _, block := range FencedBlocks(cleaned) {
		if r, ok := decode(block); ok {
			r.Strategy = StrategyFenced
			return r
		}
	}
	// a bare top-level array of calls
	if strings.HasPrefix(cleaned, "[") {
		if r, ok := decode(cleaned); ok {
			r.Strategy = StrategyBalanced
			return r
		}
	}
	for _, obj := range BalancedObjects(cleaned, 16) {
		if r, ok := decode(obj); ok {
			r.Strategy = StrategyBalanced
			return r
		}
	}
	if obj, ok := Greedy(cleaned); ok {
		if r, ok := decode(obj); ok {
			r.Strategy = StrategyGreedy
			return r
		}
	}
	return Response{Content: cleaned, Strategy: StrategyFreeform}
}

// FencedBlocks returns the bodies of all ``` fenced blocks in order.
func FencedBlocks(text string) []string {
	var blocks []string
	for _, m := range fencePattern.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(m[1]); body != "" {
			blocks = append(blocks, body)
		}
	}
	return blocks
}

// BalancedObjects returns up to limit brace-balanced objects, scanning left to right.
// Braces inside JSON strings, including escaped quotes, do not count.
func BalancedObjects(text string, limit int) []string {
	var out []string
	for start := strings.IndexByte(text, '{'); start >= 0 && len(out) < limit; {
		end := matchBrace(text, start)
		if end < 0 {
			break
		}
		out = append(out, text[start:end+1])
		next := strings.IndexByte(text[end+1:], '{')
		if next < 0 {
			break
		}
		start = end + 1 + next
	}
	return out
}

// matchBrace returns the index of the brace closing the one at start, or -1.
func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Greedy returns the span from the first '{' to the last '}'.
func Greedy(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// Repair returns candidate as valid JSON, repairing it when strict decoding fails.
func Repair(candidate string) (out string, repaired bool, err error) {
	if gjson.Valid(candidate) {
		return candidate, false, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, repaired, err = "", false, errInvalidRepair
		}
	}()
	fixed, err := jsonrepair.RepairJSON(candidate)
	if err != nil {
		return "", false, err
	}
	if !gjson.Valid(fixed) {
		return "", false, errInvalidRepair
	}
	return fixed, true, nil
}

type parseError string

func (e parseError) Error() string { return string(e) }

const errInvalidRepair = parseError("repaired output is still not valid JSON")

var (
	contentKeys  = []string{"content", "response", "message", "text", "answer"}
	toolListKeys = []string{"tool_calls", "toolCalls", "tools", "actions", "calls"}
	nameKeys     = []string{"name", "tool", "tool_name", "function", "action"}
	argKeys      = []string{"args", "arguments", "parameters", "params", "input"}
)

// decode interprets a JSON candidate. It reports false when the candidate is not
// JSON even after repair, or carries neither content nor tool calls.
func decode(candidate string) (Response, bool) {
	valid, repaired, err := Repair(candidate)
	if err != nil {
		return Response{}, false
	}
	root := gjson.Parse(valid)

	r := Response{Repaired: repaired}
	switch {
	case root.IsArray():
		r.ToolCalls = toolCalls(root)
	case root.IsObject():
		r.Content = firstString(root, contentKeys)
		if list := firstExisting(root, toolListKeys); list.Exists() {
			if list.IsArray() {
				r.ToolCalls = toolCalls(list)
			} else if list.IsObject() {
				r.ToolCalls = toolCalls(gjson.Parse("[" + list.Raw + "]"))
			}
		} else if call, ok := toolCall(root); ok && hasAny(root, argKeys) {
			r.ToolCalls = []ToolCall{call}
		}
	default:
		return Response{}, false
	}

	if len(r.ToolCalls) == 0 && r.Content == "" {
		return Response{}, false
	}
	return r, true
}

func toolCalls(list gjson.Result) []ToolCall {
	var calls []ToolCall
	list.ForEach(func(_, item gjson.Result) bool {
		if call, ok := toolCall(item); ok {
			calls = append(calls, call)
		}
		return true
	})
	return calls
}

func toolCall(item gjson.Result) (ToolCall, bool) {
	if !item.IsObject() {
		return ToolCall{}, false
	}
	// OpenAI style: {"function": {"name": ..., "arguments": "..."}}
	if fn := item.Get("function"); fn.IsObject() {
		item = fn
	}
	name := firstString(item, nameKeys)
	if name == "" {
		return ToolCall{}, false
	}
	return ToolCall{Name: name, Args: argsOf(firstExisting(item, argKeys))}, true
}

func argsOf(v gjson.Result) map[string]interface{} {
	args := map[string]interface{}{}
	switch {
	case v.IsObject():
		if m, ok := v.Value().(map[string]interface{}); ok {
			args = m
		}
	case v.Type == gjson.String && strings.TrimSpace(v.Str) != "":
		// arguments serialized as a string
		if fixed, _, err := Repair(v.Str); err == nil {
			if m, ok := gjson.Parse(fixed).Value().(map[string]interface{}); ok {
				args = m
			}
		}
	}
	return args
}

func firstString(obj gjson.Result, keys []string) string {
	for _, k := range keys {
		if v := obj.Get(k); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

func firstExisting(obj gjson.Result, keys []string) gjson.Result {
	for _, k := range keys {
		if v := obj.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func hasAny(obj gjson.Result, keys []string) bool {
	return firstExisting(obj, keys).Exists()
}

// Format renders calls in the shape Parse accepts. It is used to normalize
// native tool calls returned by providers.
func Format(content string, calls []ToolCall) string {
	payload := struct {
		Content   string     `json:"content,omitempty"`
		ToolCalls []ToolCall `json:"tool_calls"`
	}{Content: content, ToolCalls: calls}
	if payload.ToolCalls == nil {
		payload.ToolCalls = []ToolCall{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return content
	}
	return string(data)
}
