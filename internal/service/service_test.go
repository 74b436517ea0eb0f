package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhongli1990/saas-codex/internal/agent"
	"github.com/zhongli1990/saas-codex/internal/agent/mock"
	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/repository"
	"github.com/zhongli1990/saas-codex/internal/runs"
)

type fixture struct {
	svc      *Service
	store    *repository.SQLiteStore
	registry *runs.Registry
	root     string
}

func newFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "proj"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "proj", "README.md"), []byte("hi"), 0o644))

	store, err := repository.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := runs.NewRegistry(0)
	adapter := agent.NewAdapter(root, mock.Name, mock.New(delay))
	svc := New(adapter, registry, runs.NewBroadcaster(0, nil), store, nil)
	return &fixture{svc: svc, store: store, registry: registry, root: root}
}

func (f *fixture) thread(t *testing.T) *domain.Thread {
	t.Helper()
	thread, err := f.svc.CreateThread(context.Background(), &domain.CreateThreadRequest{WorkingDirectory: "proj"})
	require.NoError(t, err)
	return thread
}

// collect reads an attachment to the end the way the stream endpoints do.
func collect(t *testing.T, att *Attachment) []json.RawMessage {
	t.Helper()
	defer att.Close()
	events := append([]json.RawMessage(nil), att.History...)
	if !att.Live() {
		return append(events, att.Closed())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		ev, err := att.Next(ctx)
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

// waitRecorded waits for run to finish and for its recorder to flush.
func waitRecorded(t *testing.T, svc *Service, run *runs.Run) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-run.Done():
	case <-ctx.Done():
		t.Fatal("run did not finish")
	}
	require.NoError(t, svc.Shutdown(ctx))
}

func types(events []json.RawMessage) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = domain.EventType(ev)
	}
	return out
}

func TestCreateRunValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	for _, req := range []*domain.CreateRunRequest{
		{ThreadID: "", Prompt: "hi"},
		{ThreadID: "t", Prompt: "   "},
	} {
		_, err := f.svc.CreateRun(ctx, req)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "threadId and prompt are required", verr.Message)
	}

	_, err := f.svc.CreateRun(ctx, &domain.CreateRunRequest{ThreadID: "nope", Prompt: "hi"})
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)
	assert.Empty(t, f.registry.List())
}

func TestCreateThreadRejectsEscape(t *testing.T) {
	f := newFixture(t, 0)
	_, err := f.svc.CreateThread(context.Background(), &domain.CreateThreadRequest{WorkingDirectory: "../outside"})
	assert.ErrorIs(t, err, domain.ErrInvalidWorkspace)

	_, err = f.svc.CreateThread(context.Background(), &domain.CreateThreadRequest{WorkingDirectory: "proj", Runner: "gpt"})
	assert.ErrorIs(t, err, domain.ErrUnknownRunner)
}

func TestConcurrentSubscribersSeeTheSameRun(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	ctx := context.Background()
	thread := f.thread(t)

	run, err := f.svc.CreateRun(ctx, &domain.CreateRunRequest{ThreadID: thread.ThreadID, Prompt: "list files"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	got := make([][]json.RawMessage, 2)
	for i := range got {
		att, err := f.svc.Attach(ctx, run.ID)
		require.NoError(t, err)
		require.True(t, att.Live())
		wg.Add(1)
		go func(i int, att *Attachment) {
			defer wg.Done()
			got[i] = collect(t, att)
		}(i, att)
	}
	wg.Wait()

	require.Equal(t, got[0], got[1])
	tt := types(got[0])
	assert.Equal(t, domain.EventTypeRunStarted, tt[0])
	assert.Equal(t, domain.EventTypeRunCompleted, tt[len(tt)-1])
	assert.Contains(t, tt, "item.completed")

	late, err := f.svc.Attach(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, late.Live())
	lateEvents := collect(t, late)
	assert.Equal(t, got[0], lateEvents[:len(lateEvents)-1])
	assert.JSONEq(t, `{"type":"stream.closed","runId":"`+run.ID+`","status":"completed"}`, string(lateEvents[len(lateEvents)-1]))

	msgs, err := f.svc.Transcript(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "shell", msgs[0].ToolName)
	assert.Contains(t, msgs[0].ToolOutput, "README.md")
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "[MOCK]")
}

func TestRecorderPersistsEveryEvent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	thread := f.thread(t)

	run, err := f.svc.CreateRun(ctx, &domain.CreateRunRequest{ThreadID: thread.ThreadID, Prompt: "hi"})
	require.NoError(t, err)
	waitRecorded(t, f.svc, run)

	events, err := f.store.GetRunEvents(ctx, run.ID)
	require.NoError(t, err)
	live := run.Events()
	require.Len(t, events, len(live))
	for i, ev := range events {
		assert.Equal(t, i, ev.Seq)
		assert.JSONEq(t, string(live[i]), string(ev.Raw))
	}

	record, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, record.Status)
	assert.NotNil(t, record.CompletedAt)
}

func TestEvictedRunIsServedFromStore(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	thread := f.thread(t)

	run, err := f.svc.CreateRun(ctx, &domain.CreateRunRequest{ThreadID: thread.ThreadID, Prompt: "hi"})
	require.NoError(t, err)
	waitRecorded(t, f.svc, run)
	want := run.Events()

	// Swap in an empty registry to simulate eviction.
	f.svc.registry = runs.NewRegistry(0)

	snap, err := f.svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, snap.Status)
	assert.Equal(t, len(want), snap.EventCount)

	att, err := f.svc.Attach(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, att.Live())
	assert.Len(t, att.History, len(want))

	msgs, err := f.svc.Transcript(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	assert.ErrorIs(t, f.svc.CancelRun(ctx, run.ID), domain.ErrRunNotRunning)
	assert.ErrorIs(t, f.svc.CancelRun(ctx, "run_missing"), domain.ErrRunNotFound)
	_, err = f.svc.Attach(ctx, "run_missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRecoverRunsFailsOrphanedRuns(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	// A run left behind by a previous process: started, one vendor event, no end.
	require.NoError(t, f.store.CreateRun(ctx, &domain.RunRecord{
		RunID: "run_orphan", ThreadID: "t_gone", Prompt: "hi",
		Status: domain.RunStatusRunning, StartedAt: time.Now(),
	}))
	for seq, raw := range []json.RawMessage{
		domain.NewRunStarted("run_orphan", "t_gone"),
		json.RawMessage(`{"type":"thread.started","thread_id":"v1"}`),
	} {
		require.NoError(t, f.store.AppendRunEvent(ctx, &domain.RunEvent{
			RunID: "run_orphan", Seq: seq, At: time.Now(), EventType: domain.EventType(raw), Raw: raw,
		}))
	}

	// Before the sweep the record is already reported as failed.
	att, err := f.svc.Attach(ctx, "run_orphan")
	require.NoError(t, err)
	events := collect(t, att)
	require.Len(t, events, 4)
	assert.JSONEq(t, `{"type":"error","message":"runner restarted"}`, string(events[2]))
	assert.JSONEq(t, `{"type":"stream.closed","runId":"run_orphan","status":"error"}`, string(events[3]))

	n, err := f.svc.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := f.store.GetRunEvents(ctx, "run_orphan")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, 2, stored[2].Seq)
	assert.Equal(t, domain.EventTypeError, stored[2].EventType)

	snap, err := f.svc.GetRun(ctx, "run_orphan")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusError, snap.Status)
	assert.Equal(t, "runner restarted", snap.Error)
	assert.Equal(t, 3, snap.EventCount)
	assert.ErrorIs(t, f.svc.CancelRun(ctx, "run_orphan"), domain.ErrRunNotRunning)

	att, err = f.svc.Attach(ctx, "run_orphan")
	require.NoError(t, err)
	assert.Len(t, collect(t, att), 4)

	n, err = f.svc.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecoverRunsSkipsLiveRuns(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	thread := f.thread(t)

	run, err := f.svc.CreateRun(ctx, &domain.CreateRunRequest{ThreadID: thread.ThreadID, Prompt: "slow"})
	require.NoError(t, err)
	n, err := f.svc.RecoverRuns(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.RunStatusRunning, run.Status())
	require.NoError(t, run.Cancel())
	waitRecorded(t, f.svc, run)
}

func TestCancelRun(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()
	thread := f.thread(t)

	run, err := f.svc.CreateRun(ctx, &domain.CreateRunRequest{ThreadID: thread.ThreadID, Prompt: "slow"})
	require.NoError(t, err)
	att, err := f.svc.Attach(ctx, run.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelRun(ctx, run.ID))
	events := collect(t, att)
	last := events[len(events)-1]
	assert.JSONEq(t, `{"type":"error","message":"run cancelled"}`, string(last))
	assert.ErrorIs(t, f.svc.CancelRun(ctx, run.ID), domain.ErrRunNotRunning)

	waitRecorded(t, f.svc, run)
	record, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusError, record.Status)
	assert.Equal(t, "run cancelled", record.Error)
}

func TestSessionPromptFlow(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, &domain.CreateSessionRequest{WorkingDirectory: "proj"})
	require.NoError(t, err)
	assert.Equal(t, mock.Name, session.RunnerType)
	assert.NotEmpty(t, session.ThreadID)

	run, err := f.svc.PromptSession(ctx, session.SessionID, "what is here?")
	require.NoError(t, err)
	assert.Equal(t, session.ThreadID, run.ThreadID)
	assert.Equal(t, session.SessionID, run.SessionID)
	waitRecorded(t, f.svc, run)

	msgs, err := f.svc.ListMessages(ctx, session.SessionID, 0, "")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "what is here?", msgs[0].Content)
	assert.Equal(t, domain.RoleTool, msgs[1].Role)
	assert.JSONEq(t, `{"tool_name":"shell","tool_input":"ls","tool_output":"README.md\n"}`, string(msgs[1].Metadata))
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
	for _, m := range msgs {
		assert.Equal(t, run.ID, m.RunID)
	}

	records, err := f.svc.ListSessionRuns(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, run.ID, records[0].RunID)
}

func TestSessionGetsNewThreadWhenAdapterForgotIt(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	session, err := f.svc.CreateSession(ctx, &domain.CreateSessionRequest{WorkingDirectory: "proj"})
	require.NoError(t, err)

	// A restarted process has an empty thread table.
	f.svc.adapter = agent.NewAdapter(f.root, mock.Name, mock.New(0))

	run, err := f.svc.PromptSession(ctx, session.SessionID, "again")
	require.NoError(t, err)
	assert.NotEqual(t, session.ThreadID, run.ThreadID)

	stored, err := f.svc.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, run.ThreadID, stored.ThreadID)
	waitRecorded(t, f.svc, run)
}

func TestSessionErrors(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	_, err := f.svc.PromptSession(ctx, "sess_missing", "hi")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	var verr *domain.ValidationError
	_, err = f.svc.PromptSession(ctx, "sess_missing", " ")
	assert.ErrorAs(t, err, &verr)

	_, err = f.svc.CreateSession(ctx, &domain.CreateSessionRequest{WorkingDirectory: "/etc"})
	assert.ErrorIs(t, err, domain.ErrInvalidWorkspace)

	_, err = f.svc.ListMessages(ctx, "sess_missing", 0, "")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.svc.ListSessionRuns(ctx, "sess_missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestAppendMessage(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	session, err := f.svc.CreateSession(ctx, &domain.CreateSessionRequest{WorkingDirectory: "proj"})
	require.NoError(t, err)

	msg, err := f.svc.AppendMessage(ctx, session.SessionID, &domain.AppendMessageRequest{Role: "assistant", Content: "noted"})
	require.NoError(t, err)
	_, err = uuid.Parse(strings.TrimPrefix(msg.MessageID, "msg_"))
	assert.NoError(t, err, msg.MessageID)
	_, err = uuid.Parse(strings.TrimPrefix(session.SessionID, "sess_"))
	assert.NoError(t, err, session.SessionID)

	var verr *domain.ValidationError
	_, err = f.svc.AppendMessage(ctx, session.SessionID, &domain.AppendMessageRequest{Role: "robot", Content: "x"})
	assert.ErrorAs(t, err, &verr)

	_, err = f.svc.AppendMessage(ctx, "sess_missing", &domain.AppendMessageRequest{Role: "user", Content: "x"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	msgs, err := f.svc.ListMessages(ctx, session.SessionID, 10, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "noted", msgs[0].Content)
}
