package toolexec

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

var interactionKeys = []string{"needs_interaction", "needsChatInteraction", "requires_user_input", "needs_user_input"}

// Normalize converts a raw backend payload into a Result. Payloads that report
// failure in-band ("success": false, a non-empty "error", "status": "failed",
// or text starting with "Error:") are marked unsuccessful, and interaction
// flags are lifted into NeedsInteraction.
func Normalize(name string, out interface{}) Result {
	r := Result{Tool: name, Success: true, Result: out}

	var doc gjson.Result
	switch v := out.(type) {
	case nil:
		return r
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(strings.ToLower(trimmed), "error:") {
			r.Success = false
			r.Error = strings.TrimSpace(trimmed[len("error:"):])
			return r
		}
		if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
			return r
		}
		doc = gjson.Parse(trimmed)
	case []byte:
		if !gjson.ValidBytes(v) {
			return r
		}
		doc = gjson.ParseBytes(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return r
		}
		doc = gjson.ParseBytes(data)
	}

	if !doc.IsObject() {
		return r
	}
	inspect(doc, &r)
	return r
}

func inspect(doc gjson.Result, r *Result) {
	if s := doc.Get("success"); s.Type == gjson.False {
		r.Success = false
		r.Error = firstText(doc, "error", "message", "reason")
		if r.Error == "" {
			r.Error = "tool reported failure"
		}
	} else if e := doc.Get("error"); e.Exists() && e.Type != gjson.Null && e.Type != gjson.False && e.String() != "" {
		r.Success = false
		r.Error = e.String()
	} else {
		switch strings.ToLower(doc.Get("status").String()) {
		case "error", "failed", "failure":
			r.Success = false
			r.Error = firstText(doc, "message", "reason")
			if r.Error == "" {
				r.Error = "tool reported status " + doc.Get("status").String()
			}
		}
	}

	for _, k := range interactionKeys {
		if doc.Get(k).Type == gjson.True {
			r.NeedsInteraction = true
			r.Question = firstText(doc, "question", "prompt", "message")
			break
		}
	}
}

func firstText(doc gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() && v.Type != gjson.Null && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
