// Package transcript folds raw agent events from any backend into one
// ordered list of conversation messages.
//
// Parse classifies a single raw event into one of the Event variants below;
// Builder folds the variants into Messages. Neither ever fails: anything
// that cannot be classified becomes Unknown and is skipped.
package transcript

import (
	"encoding/json"
	"strings"
)

// Event is one classified raw event.
type Event interface {
	event()
}

// CodexItem is a completed Codex item (item.completed).
type CodexItem struct {
	ItemType         string
	Text             string
	Role             string
	Command          string
	AggregatedOutput string
	ExitCode         *int
	Status           string
	Name             string
	CallID           string
	Output           any
	Message          string
}

// UserMessage echoes the prompt (ui.message.user).
type UserMessage struct{ Text string }

// AssistantDelta is a fragment of streamed assistant text.
type AssistantDelta struct{ Text string }

// AssistantFinal closes the streamed assistant text. An empty Text means
// the accumulated deltas are the final text.
type AssistantFinal struct{ Text string }

// ToolCallStart announces a tool call before its input is known.
type ToolCallStart struct{ ToolID, ToolName string }

// ToolCall carries the complete tool input.
type ToolCall struct {
	ToolID   string
	ToolName string
	Input    any
}

// ToolResult carries a tool's output.
type ToolResult struct {
	ToolID   string
	ToolName string
	Output   any
}

// ToolBlocked reports a tool call refused by policy.
type ToolBlocked struct{ ToolID, ToolName, Reason string }

// SkillActivated reports a skill loaded for the run.
type SkillActivated struct{ Name, Description, Scope string }

// Iteration reports agent loop progress.
type Iteration struct{ Current, Max int }

// RunError is a terminal or item-level failure.
type RunError struct{ Message string }

// Lifecycle is a bookkeeping event with no transcript content.
type Lifecycle struct{ Type string }

// Unknown is anything Parse could not classify, including invalid JSON.
type Unknown struct{ Type string }

func (CodexItem) event()      {}
func (UserMessage) event()    {}
func (AssistantDelta) event() {}
func (AssistantFinal) event() {}
func (ToolCallStart) event()  {}
func (ToolCall) event()       {}
func (ToolResult) event()     {}
func (ToolBlocked) event()    {}
func (SkillActivated) event() {}
func (Iteration) event()      {}
func (RunError) event()       {}
func (Lifecycle) event()      {}
func (Unknown) event()        {}

// object is a decoded JSON object with lenient accessors.
type object map[string]any

func (o object) str(key string) string {
	s, _ := o[key].(string)
	return s
}

func (o object) num(key string) (int, bool) {
	f, ok := o[key].(float64)
	return int(f), ok
}

func (o object) obj(key string) object {
	m, _ := o[key].(map[string]any)
	return object(m)
}

// fields reads from payload first and falls back to the top-level object.
type fields struct {
	payload object
	top     object
}

func (f fields) get(key string) any {
	if v, ok := f.payload[key]; ok {
		return v
	}
	return f.top[key]
}

func (f fields) str(key string) string {
	if s := f.payload.str(key); s != "" {
		return s
	}
	return f.top.str(key)
}

func (f fields) num(key string) int {
	if n, ok := f.payload.num(key); ok {
		return n
	}
	n, _ := f.top.num(key)
	return n
}

// Parse classifies one raw event.
func Parse(raw json.RawMessage) Event {
	var top object
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return Unknown{}
	}
	typ := top.str("type")
	f := fields{payload: top.obj("payload"), top: top}

	switch typ {
	case "item.completed":
		item := top.obj("item")
		if item == nil {
			return Unknown{Type: typ}
		}
		return parseCodexItem(item)
	case "turn.failed":
		msg := top.obj("error").str("message")
		if msg == "" {
			msg = top.str("message")
		}
		return RunError{Message: msg}
	case "error":
		return RunError{Message: top.str("message")}

	case "ui.message.user":
		return UserMessage{Text: f.str("text")}
	case "ui.message.assistant.delta":
		return AssistantDelta{Text: f.str("textDelta")}
	case "ui.message.assistant.final":
		return AssistantFinal{Text: f.str("text")}
	case "ui.tool.call.start":
		return ToolCallStart{ToolID: f.str("toolId"), ToolName: f.str("toolName")}
	case "ui.tool.call":
		return ToolCall{ToolID: f.str("toolId"), ToolName: f.str("toolName"), Input: f.get("input")}
	case "ui.tool.result":
		return ToolResult{ToolID: f.str("toolId"), ToolName: f.str("toolName"), Output: f.get("output")}
	case "ui.tool.blocked":
		return ToolBlocked{ToolID: f.str("toolId"), ToolName: f.str("toolName"), Reason: f.str("reason")}
	case "ui.skill.activated":
		return SkillActivated{Name: f.str("skillName"), Description: f.str("description"), Scope: f.str("scope")}
	case "ui.iteration":
		return Iteration{Current: f.num("current"), Max: f.num("max")}
	}

	if isLifecycle(typ) {
		return Lifecycle{Type: typ}
	}
	return Unknown{Type: typ}
}

func isLifecycle(typ string) bool {
	if typ == "stream.closed" {
		return true
	}
	for _, prefix := range []string{"run.", "thread.", "turn.", "item."} {
		if strings.HasPrefix(typ, prefix) {
			return true
		}
	}
	return false
}

func parseCodexItem(item object) Event {
	ev := CodexItem{
		ItemType:         item.str("type"),
		Text:             item.str("text"),
		Role:             item.str("role"),
		Command:          item.str("command"),
		AggregatedOutput: item.str("aggregated_output"),
		Status:           item.str("status"),
		Name:             item.str("name"),
		CallID:           item.str("call_id"),
		Output:           item["output"],
		Message:          item.str("message"),
	}
	if code, ok := item.num("exit_code"); ok {
		ev.ExitCode = &code
	}
	if ev.Text == "" {
		if content, ok := item["content"].([]any); ok && len(content) > 0 {
			if first, ok := content[0].(map[string]any); ok {
				ev.Text = object(first).str("text")
			}
		}
	}
	if ev.ItemType == "error" {
		return RunError{Message: ev.Message}
	}
	return ev
}
