package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zhongli1990/saas-codex/internal/log"
)

// StreamRunEvents streams the events of a run via SSE.
// GET /runs/:run_id/events
//
// The history is replayed first. A finished run then gets a stream.closed
// marker and the response ends; a running run streams live events until it
// finishes or the client goes away. Disconnecting does not cancel the run.
func (h *Handler) StreamRunEvents(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	att, err := h.service.Attach(ctx, runID)
	if err != nil {
		return respondError(c, err)
	}
	defer att.Close()

	w := c.Response()
	flusher, ok := w.Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return nil
	}
	flusher.Flush()

	send := func(ev json.RawMessage) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", ev); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	for _, ev := range att.History {
		if err := send(ev); err != nil {
			return nil
		}
	}
	if !att.Live() {
		_ = send(att.Closed())
		return nil
	}

	done := h.tracker.SubscriberConnected("sse")
	defer done()
	for {
		ev, err := att.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Debugf("sse client gone: run_id=%s", runID)
			return nil
		}
		if err := send(ev); err != nil {
			log.Debugf("sse write failed: run_id=%s err=%v", runID, err)
			return nil
		}
	}
}
