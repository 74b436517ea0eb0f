package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

// CreateSession creates a session and its thread.
// POST /sessions
func (h *Handler) CreateSession(c echo.Context) error {
	var req domain.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	session, err := h.service.CreateSession(c.Request().Context(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// GetSession returns a session.
// GET /sessions/:session_id
func (h *Handler) GetSession(c echo.Context) error {
	session, err := h.service.GetSession(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// PromptSession submits a prompt on the session thread.
// POST /sessions/:session_id/prompt
func (h *Handler) PromptSession(c echo.Context) error {
	var req domain.PromptRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	run, err := h.service.PromptSession(c.Request().Context(), c.Param("session_id"), req.Prompt)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, domain.CreateRunResponse{RunID: run.ID, ThreadID: run.ThreadID})
}

// ListSessionRuns returns the persisted runs of a session.
// GET /sessions/:session_id/runs
func (h *Handler) ListSessionRuns(c echo.Context) error {
	records, err := h.service.ListSessionRuns(c.Request().Context(), c.Param("session_id"))
	if err != nil {
		return respondError(c, err)
	}
	if records == nil {
		records = []domain.RunRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": records,
	})
}

// AppendMessage stores a message in the session log.
// POST /sessions/:session_id/messages
func (h *Handler) AppendMessage(c echo.Context) error {
	var req domain.AppendMessageRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	msg, err := h.service.AppendMessage(c.Request().Context(), c.Param("session_id"), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// GetSessionMessages retrieves messages for a session.
// GET /sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	before := c.QueryParam("before")

	messages, err := h.service.ListMessages(c.Request().Context(), sessionID, limit, before)
	if err != nil {
		return respondError(c, err)
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"has_more": limit > 0 && len(messages) == limit,
	})
}
