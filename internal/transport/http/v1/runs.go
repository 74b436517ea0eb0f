package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zhongli1990/saas-codex/internal/domain"
)

// CreateThread starts a thread.
// POST /threads
func (h *Handler) CreateThread(c echo.Context) error {
	var req domain.CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	thread, err := h.service.CreateThread(c.Request().Context(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, domain.CreateThreadResponse{ThreadID: thread.ThreadID})
}

// CreateRun submits a prompt. The run proceeds in the background.
// POST /runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	run, err := h.service.CreateRun(c.Request().Context(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, domain.CreateRunResponse{RunID: run.ID})
}

// GetRun returns a run snapshot.
// GET /runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	snap, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// CancelRun cancels a running run.
// POST /runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	if err := h.service.CancelRun(c.Request().Context(), c.Param("run_id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// GetTranscript returns the normalized transcript of a run.
// GET /runs/:run_id/transcript
func (h *Handler) GetTranscript(c echo.Context) error {
	runID := c.Param("run_id")
	messages, err := h.service.Transcript(c.Request().Context(), runID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runId":    runID,
		"messages": messages,
	})
}
