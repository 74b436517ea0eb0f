package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raws(events ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(events))
	for i, ev := range events {
		out[i] = json.RawMessage(ev)
	}
	return out
}

func TestDeltaThenFinal(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.message.assistant.delta","payload":{"textDelta":"Hello, "}}`,
		`{"type":"ui.message.assistant.delta","payload":{"textDelta":"world!"}}`,
		`{"type":"ui.message.assistant.final","payload":{}}`,
	))
	assert.Equal(t, []Message{{Role: "assistant", Content: "Hello, world!"}}, msgs)
}

func TestFinalTextWins(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.message.assistant.delta","payload":{"textDelta":"draft"}}`,
		`{"type":"ui.message.assistant.final","payload":{"text":"Final answer","format":"markdown"}}`,
	))
	assert.Equal(t, []Message{{Role: "assistant", Content: "Final answer"}}, msgs)
}

func TestTrailingDeltasAreFlushed(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.message.user","payload":{"text":"hi"}}`,
		`{"type":"ui.message.assistant.delta","payload":{"textDelta":"partial"}}`,
	))
	assert.Equal(t, []Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "partial"},
	}, msgs)
}

func TestToolResultAttachesByRecency(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.tool.call","payload":{"toolName":"grep"}}`,
		`{"type":"ui.tool.result","payload":{"output":"3 matches"}}`,
	))
	require.Len(t, msgs, 1)
	assert.Equal(t, "tool", msgs[0].Role)
	assert.Equal(t, "grep", msgs[0].ToolName)
	assert.Equal(t, "3 matches", msgs[0].ToolOutput)
}

func TestOrphanToolResultIsDropped(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.tool.result","payload":{"toolName":"grep","output":"x"}}`,
		`{"type":"ui.tool.call","payload":{"toolName":"grep"}}`,
		`{"type":"ui.tool.result","payload":{"output":"first"}}`,
		`{"type":"ui.tool.result","payload":{"output":"second"}}`,
	))
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].ToolOutput)
}

func TestToolCallStartThenCallIsOneMessage(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.tool.call.start","payload":{"toolId":"a","toolName":"read_file"}}`,
		`{"type":"ui.tool.call.start","payload":{"toolId":"b","toolName":"bash"}}`,
		`{"type":"ui.tool.call","payload":{"toolId":"a","toolName":"read_file","input":{"path":"go.mod"}}}`,
		`{"type":"ui.tool.call","payload":{"toolId":"b","toolName":"bash","input":{"command":"ls"}}}`,
		`{"type":"ui.tool.result","payload":{"toolId":"a","output":{"success":true,"content":"module x"}}}`,
		`{"type":"ui.tool.result","payload":{"toolId":"b","output":"done"}}`,
	))
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].ToolID)
	assert.Equal(t, "{\n  \"path\": \"go.mod\"\n}", msgs[0].ToolInput)
	assert.Equal(t, "{\n  \"content\": \"module x\",\n  \"success\": true\n}", msgs[0].ToolOutput)
	assert.Equal(t, "b", msgs[1].ToolID)
	assert.Equal(t, "done", msgs[1].ToolOutput)
}

func TestToolBlocked(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.tool.call","payload":{"toolId":"c1","toolName":"bash","input":{"command":"sudo rm -rf /var"}}}`,
		`{"type":"ui.tool.blocked","payload":{"toolId":"c1","toolName":"bash","reason":"Blocked dangerous pattern: sudo rm"}}`,
		`{"type":"ui.tool.result","payload":{"toolId":"c1","toolName":"bash","output":{"success":false}}}`,
		`{"type":"ui.tool.blocked","payload":{"toolId":"c2","toolName":"read_file","reason":"Path escape attempt blocked: ../"}}`,
	))
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsBlocked)
	assert.Equal(t, "Blocked: Blocked dangerous pattern: sudo rm", msgs[0].Content)
	assert.Contains(t, msgs[0].ToolOutput, `"success": false`)
	assert.True(t, msgs[1].IsBlocked)
	assert.Equal(t, "read_file", msgs[1].ToolName)
}

func TestSkillAndIteration(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.skill.activated","payload":{"skillName":"review","scope":"workspace"}}`,
		`{"type":"ui.iteration","payload":{"current":1,"max":20}}`,
	))
	assert.Equal(t, []Message{
		{Role: "system", Content: "Skill activated: review", SkillName: "review", SkillScope: "workspace"},
		{Role: "system", Content: "Iteration 1/20", Iteration: &IterationInfo{Current: 1, Max: 20}},
	}, msgs)
}

func TestPayloadFallsBackToTopLevel(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.message.assistant.delta","textDelta":"flat"}`,
		`{"type":"ui.message.assistant.final"}`,
	))
	assert.Equal(t, []Message{{Role: "assistant", Content: "flat"}}, msgs)
}

func TestCodexEvents(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"thread.started","thread_id":"th"}`,
		`{"type":"turn.started"}`,
		`{"type":"item.started","item":{"id":"i0","type":"command_execution","command":"ls","status":"in_progress"}}`,
		`{"type":"item.completed","item":{"id":"i0","type":"command_execution","command":"ls","aggregated_output":"a\nb\n","exit_code":0,"status":"completed"}}`,
		`{"type":"item.completed","item":{"id":"i1","type":"command_execution","command":"false","aggregated_output":"","exit_code":1,"status":"failed"}}`,
		`{"type":"item.completed","item":{"id":"i2","type":"reasoning","text":"thinking"}}`,
		`{"type":"item.completed","item":{"id":"i3","type":"agent_message","text":"Done."}}`,
		`{"type":"turn.completed","usage":{"input_tokens":1}}`,
	))
	assert.Equal(t, []Message{
		{Role: "tool", Content: "Command executed", ToolName: "shell", ToolInput: "ls", ToolOutput: "a\nb\n"},
		{Role: "tool", Content: "Command failed", ToolName: "shell", ToolInput: "false", ToolOutput: "Exit code: 1"},
		{Role: "assistant", Content: "Done."},
	}, msgs)
}

func TestCodexMessageAndFunctionOutput(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"item.completed","item":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"From content"}]}}`,
		`{"type":"item.completed","item":{"type":"function_call_output","call_id":"call_7","output":"ok"}}`,
		`{"type":"item.completed","item":{"type":"tool_result","name":"search","output":{"hits":2}}}`,
		`{"type":"item.completed","item":{"type":"tool_result"}}`,
	))
	require.Len(t, msgs, 4)
	assert.Equal(t, Message{Role: "assistant", Content: "From content"}, msgs[0])
	assert.Equal(t, "call_7", msgs[1].ToolName)
	assert.Equal(t, "ok", msgs[1].ToolOutput)
	assert.Equal(t, "search", msgs[2].ToolName)
	assert.Equal(t, "{\n  \"hits\": 2\n}", msgs[2].ToolOutput)
	assert.Equal(t, "tool", msgs[3].ToolName)
}

func TestCodexAgentMessageReplacesAccumulator(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.message.assistant.delta","payload":{"textDelta":"stale"}}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"fresh"}}`,
	))
	assert.Equal(t, []Message{{Role: "assistant", Content: "fresh"}}, msgs)
}

func TestErrors(t *testing.T) {
	msgs := Normalize(raws(
		`{"type":"ui.message.assistant.delta","payload":{"textDelta":"half"}}`,
		`{"type":"error","message":"run cancelled"}`,
		`{"type":"turn.failed","error":{"message":"rate limited"}}`,
		`{"type":"item.completed","item":{"type":"error","message":"bad item"}}`,
		`{"type":"stream.closed","runId":"run_1","status":"error"}`,
	))
	assert.Equal(t, []Message{
		{Role: "assistant", Content: "half"},
		{Role: "system", Content: "Error: run cancelled"},
		{Role: "system", Content: "Error: rate limited"},
		{Role: "system", Content: "Error: bad item"},
	}, msgs)
}

func TestNormalizeIsTotal(t *testing.T) {
	valid := []string{
		`{"type":"run.started","runId":"run_1","threadId":"t"}`,
		`{"type":"ui.message.user","payload":{"text":"hi"}}`,
		`{"type":"ui.tool.call","payload":{"toolName":"grep"}}`,
		`{"type":"ui.tool.result","payload":{"output":"3 matches"}}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"ok"}}`,
		`{"type":"run.completed","runId":"run_1","threadId":"t"}`,
	}
	junk := []string{`{not json`, `[]`, `null`, `"str"`, `{"type":"item.completed","item":"oops"}`, `{"type":"vendor.custom"}`}

	want := Normalize(raws(valid...))
	for _, j := range junk {
		for pos := 0; pos <= len(valid); pos++ {
			mixed := append(append(append([]string{}, valid[:pos]...), j), valid[pos:]...)
			got := Normalize(raws(mixed...))
			assert.Equal(t, want, got, "junk %q at %d", j, pos)
		}
	}
}

func TestParseVariants(t *testing.T) {
	tests := []struct {
		raw  string
		want Event
	}{
		{`garbage`, Unknown{}},
		{`{"type":"something.else"}`, Unknown{Type: "something.else"}},
		{`{"type":"run.completed"}`, Lifecycle{Type: "run.completed"}},
		{`{"type":"ui.tool.call.start","payload":{"toolId":"x","toolName":"bash"}}`, ToolCallStart{ToolID: "x", ToolName: "bash"}},
		{`{"type":"ui.tool.blocked","payload":{"toolId":"x","reason":"no"}}`, ToolBlocked{ToolID: "x", Reason: "no"}},
		{`{"type":"error","message":"boom"}`, RunError{Message: "boom"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Parse(json.RawMessage(tt.raw)), tt.raw)
	}
}

func TestBuilderIncremental(t *testing.T) {
	var b Builder
	b.Add(json.RawMessage(`{"type":"ui.message.assistant.delta","payload":{"textDelta":"a"}}`))
	assert.Equal(t, []Message{{Role: "assistant", Content: "a"}}, b.Messages())

	b.Add(json.RawMessage(`{"type":"ui.message.assistant.delta","payload":{"textDelta":"b"}}`))
	b.Add(json.RawMessage(`{"type":"ui.message.assistant.final","payload":{}}`))
	assert.Equal(t, []Message{{Role: "assistant", Content: "ab"}}, b.Messages())
}
