package llm

import (
	"context"
	"fmt"
	"time"
)

// MockClient is a scripted LLMClient. When tools are offered and the
// conversation has not produced a tool result yet, it asks for list_files on
// the working directory; otherwise it answers with text.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// CreateChatCompletionStream simulates a streaming response.
func (m *MockClient) CreateChatCompletionStream(ctx context.Context, req *ChatCompletionRequest, callback StreamCallback) (*Usage, error) {
	id := fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()
	send := func(delta *ChatMessage, finishReason string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return callback(&StreamChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.Model,
			Choices: []Choice{{Index: 0, Delta: delta, FinishReason: finishReason}},
		})
	}

	if m.wantsToolCall(req) {
		index := 0
		preamble := "Let me look at the workspace first."
		if err := send(&ChatMessage{Role: "assistant", Content: preamble}, ""); err != nil {
			return nil, err
		}
		if err := send(&ChatMessage{ToolCalls: []ToolCall{{
			Index:    &index,
			ID:       "call_mock_1",
			Type:     "function",
			Function: ToolCallFunction{Name: "list_files"},
		}}}, ""); err != nil {
			return nil, err
		}
		for _, frag := range []string{`{"path":`, `"."}`} {
			if err := send(&ChatMessage{ToolCalls: []ToolCall{{
				Index:    &index,
				Function: ToolCallFunction{Arguments: frag},
			}}}, ""); err != nil {
				return nil, err
			}
		}
		if err := send(&ChatMessage{}, "tool_calls"); err != nil {
			return nil, err
		}
		return m.usage(req, preamble), nil
	}

	responseContent := m.generateMockResponse(req)
	chunks := m.splitIntoChunks(responseContent, 10)
	for i, chunk := range chunks {
		finishReason := ""
		if i == len(chunks)-1 {
			finishReason = "stop"
		}
		if err := send(&ChatMessage{Role: "assistant", Content: chunk}, finishReason); err != nil {
			return nil, err
		}
	}
	return m.usage(req, responseContent), nil
}

func (m *MockClient) wantsToolCall(req *ChatCompletionRequest) bool {
	if len(req.Tools) == 0 {
		return false
	}
	for _, msg := range req.Messages {
		if msg.Role == "tool" {
			return false
		}
	}
	return true
}

// generateMockResponse generates a mock response based on the request.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}

	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the LLM client."
	}

	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(lastUserMessage, 100))
}

func (m *MockClient) usage(req *ChatCompletionRequest, content string) *Usage {
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(msg.Content) / 4
	}
	return &Usage{
		PromptTokens:     prompt,
		CompletionTokens: len(content) / 4,
		TotalTokens:      prompt + len(content)/4,
	}
}

// splitIntoChunks splits a string into chunks of approximately the given size.
func (m *MockClient) splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return []string{""}
	}

	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
