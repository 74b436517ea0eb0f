package claude

import (
	"time"

	"github.com/zhongli1990/saas-codex/internal/agent"
)

// Event types emitted by the Claude-style backend.
const (
	EventSkillActivated = "ui.skill.activated"
	EventUserMessage    = "ui.message.user"
	EventIteration      = "ui.iteration"
	EventAssistantDelta = "ui.message.assistant.delta"
	EventAssistantFinal = "ui.message.assistant.final"
	EventToolCallStart  = "ui.tool.call.start"
	EventToolCall       = "ui.tool.call"
	EventToolBlocked    = "ui.tool.blocked"
	EventToolResult     = "ui.tool.result"
)

const (
	envelopeVersion  = 1
	envelopeProvider = "claude"
	envelopeKindRaw  = "raw"
	assistantFormat  = "markdown"
)

// Envelope wraps every event the backend emits.
type Envelope struct {
	V        int    `json:"v"`
	ThreadID string `json:"threadId"`
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Type     string `json:"type"`
	At       string `json:"at"`
	Seq      int    `json:"seq"`
	Payload  any    `json:"payload"`
}

type emitter struct {
	emit     agent.EmitFunc
	threadID string
	seq      int
	now      func() time.Time
}

func (e *emitter) send(eventType string, payload any) error {
	env := Envelope{
		V:        envelopeVersion,
		ThreadID: e.threadID,
		Provider: envelopeProvider,
		Kind:     envelopeKindRaw,
		Type:     eventType,
		At:       e.now().UTC().Format(time.RFC3339Nano),
		Seq:      e.seq,
		Payload:  payload,
	}
	e.seq++
	return e.emit(env)
}
