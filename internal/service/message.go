package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

var validRoles = map[string]bool{
	domain.RoleUser:      true,
	domain.RoleAssistant: true,
	domain.RoleTool:      true,
	domain.RoleSystem:    true,
}

// AppendMessage stores a message in the session log.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, req *domain.AppendMessageRequest) (*domain.Message, error) {
	if !validRoles[req.Role] {
		return nil, &domain.ValidationError{Message: "role must be one of user, assistant, tool, system"}
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	msg := &domain.Message{
		MessageID: "msg_" + uuid.New().String(),
		SessionID: sessionID,
		RunID:     req.RunID,
		Role:      req.Role,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return msg, nil
}

// ListMessages returns session messages oldest first. A positive limit keeps
// the newest limit messages older than before.
func (s *Service) ListMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.store.GetMessages(ctx, sessionID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}
