package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createSession(t *testing.T, store *SQLiteStore, id string) {
	t.Helper()
	require.NoError(t, store.CreateSession(context.Background(), &domain.Session{
		SessionID:        id,
		RunnerType:       "codex",
		WorkingDirectory: "/workspaces/a",
		CreatedAt:        time.Now(),
	}))
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.CreateSession(ctx, &domain.Session{
		SessionID:        "s1",
		RunnerType:       "claude",
		WorkingDirectory: "/workspaces/a",
		SkipGitRepoCheck: true,
		CreatedAt:        time.Now(),
		Metadata:         json.RawMessage(`{"tier":"pro"}`),
	}))

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "claude", got.RunnerType)
	assert.True(t, got.SkipGitRepoCheck)
	assert.Empty(t, got.ThreadID)
	assert.JSONEq(t, `{"tier":"pro"}`, string(got.Metadata))

	require.NoError(t, store.UpdateSessionThread(ctx, "s1", "thread-1"))
	got, err = store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", got.ThreadID)

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, store.UpdateSessionThread(ctx, "missing", "x"), domain.ErrSessionNotFound)
}

func TestMessagesOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1")

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateMessage(ctx, &domain.Message{
			MessageID: fmt.Sprintf("m%d", i),
			SessionID: "s1",
			Role:      domain.RoleUser,
			Content:   fmt.Sprintf("msg %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	all, err := store.GetMessages(ctx, "s1", 0, "")
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "m0", all[0].MessageID)
	assert.Equal(t, "m4", all[4].MessageID)

	last, err := store.GetMessages(ctx, "s1", 2, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4"}, ids(last))

	page, err := store.GetMessages(ctx, "s1", 2, "m3")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids(page))

	none, err := store.GetMessages(ctx, "other", 10, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMessagesWithSameTimestampKeepInsertOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1")

	at := time.Now()
	for _, id := range []string{"z", "a", "m"} {
		require.NoError(t, store.CreateMessage(ctx, &domain.Message{
			MessageID: id, SessionID: "s1", Role: domain.RoleTool, Content: id, CreatedAt: at,
			RunID: "run_1", Metadata: json.RawMessage(`{"tool_name":"shell"}`),
		}))
	}
	msgs, err := store.GetMessages(ctx, "s1", 0, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, ids(msgs))
	assert.Equal(t, "run_1", msgs[0].RunID)
	assert.JSONEq(t, `{"tool_name":"shell"}`, string(msgs[0].Metadata))
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageID
	}
	return out
}

func TestRunAndEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	createSession(t, store, "s1")

	started := time.Now()
	require.NoError(t, store.CreateRun(ctx, &domain.RunRecord{
		RunID: "run_1", SessionID: "s1", ThreadID: "t1", Prompt: "hi",
		Status: domain.RunStatusRunning, StartedAt: started,
	}))
	require.NoError(t, store.CreateRun(ctx, &domain.RunRecord{
		RunID: "run_2", ThreadID: "t2", Prompt: "no session",
		Status: domain.RunStatusRunning, StartedAt: started,
	}))

	for seq, raw := range []string{`{"type":"run.started"}`, `{"type":"run.completed"}`} {
		require.NoError(t, store.AppendRunEvent(ctx, &domain.RunEvent{
			RunID: "run_1", Seq: seq, At: time.Now(), EventType: domain.EventType(json.RawMessage(raw)), Raw: json.RawMessage(raw),
		}))
	}
	err := store.AppendRunEvent(ctx, &domain.RunEvent{RunID: "run_1", Seq: 1, At: time.Now(), EventType: "dup", Raw: json.RawMessage(`{}`)})
	assert.Error(t, err, "duplicate sequence numbers are rejected")

	ended := started.Add(time.Second)
	require.NoError(t, store.UpdateRunCompleted(ctx, "run_1", domain.RunStatusCompleted, "", ended))

	run, err := store.GetRun(ctx, "run_1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, "s1", run.SessionID)
	require.NotNil(t, run.CompletedAt)
	assert.WithinDuration(t, ended, *run.CompletedAt, time.Millisecond)

	events, err := store.GetRunEvents(ctx, "run_1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 0, events[0].Seq)
	assert.Equal(t, "run.completed", events[1].EventType)
	assert.JSONEq(t, `{"type":"run.completed"}`, string(events[1].Raw))

	runs, err := store.ListRuns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run_1", runs[0].RunID)

	running, err := store.ListRunsByStatus(ctx, domain.RunStatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "run_2", running[0].RunID)

	_, err = store.GetRun(ctx, "run_missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRunErrorIsStored(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateRun(ctx, &domain.RunRecord{
		RunID: "run_x", ThreadID: "t", Prompt: "p", Status: domain.RunStatusRunning, StartedAt: time.Now(),
	}))
	require.NoError(t, store.UpdateRunCompleted(ctx, "run_x", domain.RunStatusError, "run cancelled", time.Now()))

	run, err := store.GetRun(ctx, "run_x")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusError, run.Status)
	assert.Equal(t, "run cancelled", run.Error)
	assert.Empty(t, run.SessionID)
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.migrate())
}
