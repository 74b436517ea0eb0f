package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

const shellToolName = "shell"

// IterationInfo is agent loop progress attached to a system message.
type IterationInfo struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Message is one normalized transcript entry.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolName   string         `json:"toolName,omitempty"`
	ToolInput  string         `json:"toolInput,omitempty"`
	ToolOutput string         `json:"toolOutput,omitempty"`
	ToolID     string         `json:"toolId,omitempty"`
	IsBlocked  bool           `json:"isBlocked,omitempty"`
	SkillName  string         `json:"skillName,omitempty"`
	SkillScope string         `json:"skillScope,omitempty"`
	Iteration  *IterationInfo `json:"iteration,omitempty"`
}

// Builder folds events into a transcript. The zero value is ready to use.
type Builder struct {
	messages []Message
	pending  strings.Builder

	// byID maps tool ids to message indexes, for calls open or closed.
	byID map[string]int
	// open lists tool message indexes still waiting for a result, oldest
	// first.
	open []int
}

// Add folds one raw event.
func (b *Builder) Add(raw json.RawMessage) {
	b.AddEvent(Parse(raw))
}

// AddEvent folds one parsed event.
func (b *Builder) AddEvent(ev Event) {
	switch e := ev.(type) {
	case CodexItem:
		b.addCodexItem(e)
	case UserMessage:
		b.append(Message{Role: domain.RoleUser, Content: e.Text})
	case AssistantDelta:
		b.pending.WriteString(e.Text)
	case AssistantFinal:
		text := e.Text
		if text == "" {
			text = b.pending.String()
		}
		b.pending.Reset()
		if text != "" {
			b.append(Message{Role: domain.RoleAssistant, Content: text})
		}
	case ToolCallStart:
		b.openCall(e.ToolID, e.ToolName, nil)
	case ToolCall:
		if i, ok := b.lookup(e.ToolID); ok {
			m := &b.messages[i]
			if e.ToolName != "" {
				m.ToolName = e.ToolName
				m.Content = e.ToolName
			}
			m.ToolInput = render(e.Input)
			return
		}
		b.openCall(e.ToolID, e.ToolName, e.Input)
	case ToolResult:
		i, ok := b.lookup(e.ToolID)
		if !ok {
			if len(b.open) == 0 {
				return
			}
			i = b.open[len(b.open)-1]
		}
		b.close(i)
		m := &b.messages[i]
		m.ToolOutput = render(e.Output)
		if m.ToolName == "" {
			m.ToolName = e.ToolName
		}
	case ToolBlocked:
		i, ok := b.lookup(e.ToolID)
		if !ok {
			i = b.openCall(e.ToolID, e.ToolName, nil)
		}
		b.close(i)
		m := &b.messages[i]
		m.IsBlocked = true
		m.Content = "Blocked: " + e.Reason
	case SkillActivated:
		b.append(Message{
			Role:       domain.RoleSystem,
			Content:    "Skill activated: " + e.Name,
			SkillName:  e.Name,
			SkillScope: e.Scope,
		})
	case Iteration:
		b.append(Message{
			Role:      domain.RoleSystem,
			Content:   fmt.Sprintf("Iteration %d/%d", e.Current, e.Max),
			Iteration: &IterationInfo{Current: e.Current, Max: e.Max},
		})
	case RunError:
		b.flush()
		b.append(Message{Role: domain.RoleSystem, Content: "Error: " + e.Message})
	}
}

func (b *Builder) addCodexItem(item CodexItem) {
	switch item.ItemType {
	case "agent_message":
		b.pending.Reset()
		if item.Text != "" {
			b.append(Message{Role: domain.RoleAssistant, Content: item.Text})
		}
	case "message":
		if item.Text == "" {
			return
		}
		role := item.Role
		if role == "" || role == domain.RoleAssistant {
			b.pending.Reset()
			role = domain.RoleAssistant
		}
		b.append(Message{Role: role, Content: item.Text})
	case "command_execution":
		output := item.AggregatedOutput
		if output == "" && item.ExitCode != nil {
			output = fmt.Sprintf("Exit code: %d", *item.ExitCode)
		}
		content := "Command executed"
		if item.Status == "failed" || (item.ExitCode != nil && *item.ExitCode != 0) {
			content = "Command failed"
		}
		b.append(Message{
			Role:       domain.RoleTool,
			Content:    content,
			ToolName:   shellToolName,
			ToolInput:  item.Command,
			ToolOutput: output,
		})
	case "function_call_output", "tool_result":
		name := item.Name
		if name == "" {
			name = item.CallID
		}
		if name == "" {
			name = "tool"
		}
		b.append(Message{
			Role:       domain.RoleTool,
			Content:    name,
			ToolName:   name,
			ToolID:     item.CallID,
			ToolOutput: render(item.Output),
		})
	}
}

func (b *Builder) append(m Message) int {
	b.messages = append(b.messages, m)
	return len(b.messages) - 1
}

func (b *Builder) openCall(id, name string, input any) int {
	i := b.append(Message{
		Role:      domain.RoleTool,
		Content:   name,
		ToolName:  name,
		ToolID:    id,
		ToolInput: render(input),
	})
	if id != "" {
		if b.byID == nil {
			b.byID = make(map[string]int)
		}
		b.byID[id] = i
	}
	b.open = append(b.open, i)
	return i
}

func (b *Builder) lookup(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	i, ok := b.byID[id]
	return i, ok
}

func (b *Builder) close(i int) {
	for k, idx := range b.open {
		if idx == i {
			b.open = append(b.open[:k], b.open[k+1:]...)
			return
		}
	}
}

func (b *Builder) flush() {
	if b.pending.Len() == 0 {
		return
	}
	b.append(Message{Role: domain.RoleAssistant, Content: b.pending.String()})
	b.pending.Reset()
}

// Messages returns the transcript so far. Assistant text still accumulating
// from deltas is included as a trailing message.
func (b *Builder) Messages() []Message {
	out := append([]Message(nil), b.messages...)
	if b.pending.Len() > 0 {
		out = append(out, Message{Role: domain.RoleAssistant, Content: b.pending.String()})
	}
	return out
}

// Normalize folds a complete event sequence.
func Normalize(events []json.RawMessage) []Message {
	var b Builder
	for _, ev := range events {
		b.Add(ev)
	}
	return b.Messages()
}

// render turns a tool input or output into display text. Strings pass
// through; anything else is shown as indented JSON.
func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
