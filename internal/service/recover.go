package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
)

// errRunnerRestarted ends runs whose process went away before they finished.
const errRunnerRestarted = "runner restarted"

// RecoverRuns fails every persisted run that is still marked running but is
// not in the registry. It is called once at start-up, before any run is
// submitted. Each such run gets a terminal error event appended after its
// last stored event.
func (s *Service) RecoverRuns(ctx context.Context) (int, error) {
	records, err := s.store.ListRunsByStatus(ctx, domain.RunStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to list running runs: %w", err)
	}

	recovered := 0
	for _, record := range records {
		if _, err := s.registry.Get(record.RunID); err == nil {
			continue
		}
		events, err := s.store.GetRunEvents(ctx, record.RunID)
		if err != nil {
			return recovered, fmt.Errorf("failed to get run events: %w", err)
		}
		seq := 0
		if n := len(events); n > 0 {
			seq = events[n-1].Seq + 1
		}
		now := time.Now()
		raw := domain.NewError(errRunnerRestarted)
		if err := s.store.AppendRunEvent(ctx, &domain.RunEvent{
			RunID:     record.RunID,
			Seq:       seq,
			At:        now,
			EventType: domain.EventTypeError,
			Raw:       raw,
		}); err != nil {
			return recovered, fmt.Errorf("failed to append error event: %w", err)
		}
		if err := s.store.UpdateRunCompleted(ctx, record.RunID, domain.RunStatusError, errRunnerRestarted, now); err != nil {
			return recovered, fmt.Errorf("failed to finalize run: %w", err)
		}
		log.Warnf("run failed on restart: run_id=%s events=%d", record.RunID, len(events))
		recovered++
	}
	return recovered, nil
}

// storedRun loads a run that is no longer in the registry. A record still
// marked running has no process behind it, so it is reported as failed.
func (s *Service) storedRun(ctx context.Context, runID string) (*domain.RunRecord, []json.RawMessage, error) {
	record, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.store.GetRunEvents(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get run events: %w", err)
	}
	raws := make([]json.RawMessage, 0, len(events)+1)
	for _, ev := range events {
		raws = append(raws, ev.Raw)
	}
	if !record.Status.IsTerminal() {
		record.Status = domain.RunStatusError
		record.Error = errRunnerRestarted
		raws = append(raws, domain.NewError(errRunnerRestarted))
	}
	return record, raws, nil
}
