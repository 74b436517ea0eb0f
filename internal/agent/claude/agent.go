// Package claude implements a tool-using agent loop over an
// OpenAI-compatible chat completion API and emits ui.* events.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/llm"
	"github.com/zhongli1990/saas-codex/internal/log"
	"github.com/zhongli1990/saas-codex/internal/policy"
)

// Name is the runner name of this backend.
const Name = "claude"

// ErrMaxIterations ends a run whose agent loop did not settle in time.
var ErrMaxIterations = errors.New("Max iterations reached")

// Config configures the backend.
type Config struct {
	Model          string
	MaxTurns       int
	WorkspacesRoot string
	BashTimeout    time.Duration
}

// Backend opens agent conversations. A nil policy engine disables tool
// checks; a nil catalog runs without skills.
type Backend struct {
	cfg    Config
	client llm.LLMClient
	policy *policy.Engine
	skills *Catalog
	now    func() time.Time
}

// New creates the backend.
func New(cfg Config, client llm.LLMClient, engine *policy.Engine, skills *Catalog) *Backend {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 20
	}
	return &Backend{cfg: cfg, client: client, policy: engine, skills: skills, now: time.Now}
}

func (b *Backend) Name() string { return Name }

// Open starts an empty conversation for the thread.
func (b *Backend) Open(ctx context.Context, thread *domain.Thread) (agent.Handle, error) {
	return &conversation{
		backend:  b,
		threadID: thread.ThreadID,
		workdir:  thread.WorkingDirectory,
	}, nil
}

// conversation keeps the chat history of one thread across runs.
type conversation struct {
	backend  *Backend
	threadID string
	workdir  string

	mu      sync.Mutex
	history []llm.ChatMessage
}

func (c *conversation) RunStreamed(ctx context.Context, prompt string) (agent.Stream, error) {
	return agent.Produce(ctx, func(ctx context.Context, emit agent.EmitFunc) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.run(ctx, prompt, &emitter{emit: emit, threadID: c.threadID, now: c.backend.now})
	}), nil
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (c *conversation) run(ctx context.Context, prompt string, em *emitter) error {
	b := c.backend

	var skills []Skill
	if b.skills != nil {
		skills = b.skills.Load(c.workdir)
	}
	for _, s := range skills {
		if err := em.send(EventSkillActivated, map[string]any{
			"skillName":   s.Name,
			"description": s.Description,
			"scope":       s.Scope,
		}); err != nil {
			return err
		}
	}
	if err := em.send(EventUserMessage, map[string]any{"text": prompt}); err != nil {
		return err
	}

	c.history = append(c.history, llm.ChatMessage{Role: "user", Content: prompt})
	toolbox := &Toolbox{Root: b.cfg.WorkspacesRoot, Workdir: c.workdir, BashTimeout: b.cfg.BashTimeout}
	system := llm.ChatMessage{Role: "system", Content: BuildSystemPrompt(skills)}

	for turn := 1; turn <= b.cfg.MaxTurns; turn++ {
		if err := em.send(EventIteration, map[string]any{"current": turn, "max": b.cfg.MaxTurns}); err != nil {
			return err
		}

		text, calls, err := c.complete(ctx, system, em)
		if err != nil {
			return err
		}

		toolCalls := make([]llm.ToolCall, 0, len(calls))
		inputs := make([]map[string]any, 0, len(calls))
		for _, call := range calls {
			input := parseArguments(call.args.String())
			inputs = append(inputs, input)
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:       call.id,
				Type:     "function",
				Function: llm.ToolCallFunction{Name: call.name, Arguments: call.args.String()},
			})
			if err := em.send(EventToolCall, map[string]any{
				"toolId":   call.id,
				"toolName": call.name,
				"input":    input,
			}); err != nil {
				return err
			}
		}
		if text != "" {
			if err := em.send(EventAssistantFinal, map[string]any{"text": text, "format": assistantFormat}); err != nil {
				return err
			}
		}
		c.history = append(c.history, llm.ChatMessage{Role: "assistant", Content: text, ToolCalls: toolCalls})

		if len(calls) == 0 {
			return nil
		}

		for i, call := range calls {
			output, err := c.invoke(ctx, toolbox, call, inputs[i], em)
			if err != nil {
				return err
			}
			if err := em.send(EventToolResult, map[string]any{
				"toolId":   call.id,
				"toolName": call.name,
				"output":   output,
			}); err != nil {
				return err
			}
			content, _ := json.Marshal(output)
			c.history = append(c.history, llm.ChatMessage{Role: "tool", ToolCallID: call.id, Content: string(content)})
		}
	}
	return ErrMaxIterations
}

// complete streams one model turn, forwarding text deltas and announcing
// each tool call as soon as its index first appears.
func (c *conversation) complete(ctx context.Context, system llm.ChatMessage, em *emitter) (string, []*pendingCall, error) {
	b := c.backend
	req := &llm.ChatCompletionRequest{
		Model:    b.cfg.Model,
		Messages: append([]llm.ChatMessage{system}, c.history...),
		Stream:   true,
		Tools:    ToolDefinitions,
	}

	var text strings.Builder
	byIndex := make(map[int]*pendingCall)
	_, err := b.client.CreateChatCompletionStream(ctx, req, func(chunk *llm.StreamChunk) error {
		for _, choice := range chunk.Choices {
			if choice.Delta == nil {
				continue
			}
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if err := em.send(EventAssistantDelta, map[string]any{"textDelta": choice.Delta.Content}); err != nil {
					return err
				}
			}
			for _, tc := range choice.Delta.ToolCalls {
				index := len(byIndex)
				if tc.Index != nil {
					index = *tc.Index
				}
				call, ok := byIndex[index]
				if !ok {
					call = &pendingCall{}
					byIndex[index] = call
				}
				if tc.ID != "" {
					call.id = tc.ID
				}
				if tc.Function.Name != "" {
					call.name = tc.Function.Name
				}
				call.args.WriteString(tc.Function.Arguments)
				if !ok {
					if call.id == "" {
						call.id = fmt.Sprintf("call_%d", index)
					}
					if err := em.send(EventToolCallStart, map[string]any{"toolId": call.id, "toolName": call.name}); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("llm request failed: %w", err)
	}

	indexes := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	calls := make([]*pendingCall, 0, len(indexes))
	for _, i := range indexes {
		calls = append(calls, byIndex[i])
	}
	return text.String(), calls, nil
}

// invoke checks the call against the policy and runs it when allowed.
func (c *conversation) invoke(ctx context.Context, toolbox *Toolbox, call *pendingCall, input map[string]any, em *emitter) (map[string]any, error) {
	b := c.backend
	if b.policy != nil {
		decision, err := b.policy.Evaluate(ctx, policy.Input{
			ToolName:       call.name,
			ToolInput:      input,
			WorkspacesRoot: b.cfg.WorkspacesRoot,
		})
		if err != nil {
			log.Warnf("policy evaluation failed: thread_id=%s tool=%s err=%v", c.threadID, call.name, err)
		} else if !decision.Allow {
			reason := decision.Reason()
			log.Infof("tool blocked: thread_id=%s tool=%s reason=%s", c.threadID, call.name, reason)
			if err := em.send(EventToolBlocked, map[string]any{
				"toolId":   call.id,
				"toolName": call.name,
				"reason":   reason,
			}); err != nil {
				return nil, err
			}
			return map[string]any{"success": false, "error": "Tool blocked: " + reason}, nil
		}
	}
	return toolbox.Execute(ctx, call.name, input), nil
}

func parseArguments(args string) map[string]any {
	input := map[string]any{}
	if strings.TrimSpace(args) == "" {
		return input
	}
	if err := json.Unmarshal([]byte(args), &input); err != nil || input == nil {
		return map[string]any{}
	}
	return input
}
