package service

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
	"github.com/zhongli1990/saas-codex/internal/runs"
	"github.com/zhongli1990/saas-codex/internal/transcript"
)

// record persists every event of run as it arrives, then finalizes the run
// row. Session-bound runs also get their transcript appended to the session
// log.
func (s *Service) record(run *runs.Run, sub *runs.Subscriber) {
	defer s.recorders.Done()
	ctx := context.Background()

	seq := 0
	for {
		raw, err := sub.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Errorf("recorder stopped: run_id=%s err=%v", run.ID, err)
			return
		}
		ev := &domain.RunEvent{
			RunID:     run.ID,
			Seq:       seq,
			At:        time.Now(),
			EventType: domain.EventType(raw),
			Raw:       raw,
		}
		if err := s.store.AppendRunEvent(ctx, ev); err != nil {
			log.Errorf("failed to persist event: run_id=%s seq=%d err=%v", run.ID, seq, err)
		}
		seq++
	}

	snap := run.Snapshot()
	endedAt := time.Now()
	if snap.EndedAt != nil {
		endedAt = *snap.EndedAt
	}
	if err := s.store.UpdateRunCompleted(ctx, run.ID, snap.Status, snap.Error, endedAt); err != nil {
		log.Errorf("failed to finalize run: run_id=%s err=%v", run.ID, err)
	}

	if run.SessionID != "" {
		s.appendTranscript(ctx, run, endedAt)
	}
	log.Debugf("run recorded: run_id=%s events=%d", run.ID, seq)
}

// messageMetadata carries the transcript fields that have no column of
// their own.
type messageMetadata struct {
	ToolName   string                    `json:"tool_name,omitempty"`
	ToolInput  string                    `json:"tool_input,omitempty"`
	ToolOutput string                    `json:"tool_output,omitempty"`
	ToolID     string                    `json:"tool_id,omitempty"`
	IsBlocked  bool                      `json:"is_blocked,omitempty"`
	SkillName  string                    `json:"skill_name,omitempty"`
	SkillScope string                    `json:"skill_scope,omitempty"`
	Iteration  *transcript.IterationInfo `json:"iteration,omitempty"`
}

func (m messageMetadata) encode() json.RawMessage {
	if m == (messageMetadata{}) {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// appendTranscript stores the normalized transcript of a finished run as
// session messages. The user prompt was stored when the run was submitted.
func (s *Service) appendTranscript(ctx context.Context, run *runs.Run, at time.Time) {
	for i, msg := range transcript.Normalize(run.Events()) {
		if msg.Role == domain.RoleUser {
			continue
		}
		meta := messageMetadata{
			ToolName:   msg.ToolName,
			ToolInput:  msg.ToolInput,
			ToolOutput: msg.ToolOutput,
			ToolID:     msg.ToolID,
			IsBlocked:  msg.IsBlocked,
			SkillName:  msg.SkillName,
			SkillScope: msg.SkillScope,
			Iteration:  msg.Iteration,
		}
		err := s.store.CreateMessage(ctx, &domain.Message{
			MessageID: "msg_" + uuid.New().String(),
			SessionID: run.SessionID,
			RunID:     run.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Metadata:  meta.encode(),
			CreatedAt: at.Add(time.Duration(i) * time.Microsecond),
		})
		if err != nil {
			log.Errorf("failed to store transcript message: run_id=%s err=%v", run.ID, err)
		}
	}
}
