// Package v1 provides the public HTTP handlers of the runner.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zhongli1990/saas-codex/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// SubscriberTracker counts connected stream subscribers.
type SubscriberTracker interface {
	SubscriberConnected(transport string) (disconnected func())
}

type nopTracker struct{}

func (nopTracker) SubscriberConnected(string) func() { return func() {} }

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	tracker SubscriberTracker
}

// NewHandler creates a new handler. tracker may be nil.
func NewHandler(service *service.Service, tracker SubscriberTracker) *Handler {
	if tracker == nil {
		tracker = nopTracker{}
	}
	return &Handler{
		service: service,
		tracker: tracker,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Threads and runs
	e.POST("/threads", h.CreateThread)
	e.POST("/runs", h.CreateRun)
	e.GET("/runs/:run_id", h.GetRun)
	e.GET("/runs/:run_id/events", h.StreamRunEvents)
	e.POST("/runs/:run_id/cancel", h.CancelRun)
	e.GET("/runs/:run_id/transcript", h.GetTranscript)

	// Sessions
	e.POST("/sessions", h.CreateSession)
	e.GET("/sessions/:session_id", h.GetSession)
	e.POST("/sessions/:session_id/prompt", h.PromptSession)
	e.GET("/sessions/:session_id/runs", h.ListSessionRuns)
	e.POST("/sessions/:session_id/messages", h.AppendMessage)
	e.GET("/sessions/:session_id/messages", h.GetSessionMessages)

	e.GET("/skills", h.ListSkills)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"runners": h.service.Runners(),
	})
}

// ListSkills returns the global skill catalog.
// GET /skills
func (h *Handler) ListSkills(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"skills": h.service.Skills(),
	})
}
