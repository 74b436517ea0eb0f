// Package ws streams run events over WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
	"github.com/zhongli1990/saas-codex/internal/service"
)

// Config holds the connection timings.
type Config struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Tracker counts connected stream subscribers.
type Tracker interface {
	SubscriberConnected(transport string) (disconnected func())
}

// Server upgrades GET /runs/:run_id/ws and streams the run.
type Server struct {
	cfg      Config
	service  *service.Service
	tracker  Tracker
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server. tracker may be nil.
func NewServer(cfg Config, svc *service.Service, tracker Tracker) *Server {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &Server{
		cfg:     cfg,
		service: svc,
		tracker: tracker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// RegisterRoutes registers the WebSocket route.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/runs/:run_id/ws", s.HandleRun)
}

// HandleRun replays the run history and then streams live events, one text
// message per event. Unknown runs are rejected before the upgrade.
func (s *Server) HandleRun(c echo.Context) error {
	runID := c.Param("run_id")
	att, err := s.service.Attach(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer att.Close()

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warnf("failed to upgrade websocket: run_id=%s err=%v", runID, err)
		return nil
	}
	conn := &connection{conn: ws, cfg: s.cfg}
	defer conn.conn.Close()

	if s.tracker != nil {
		done := s.tracker.SubscriberConnected("ws")
		defer done()
	}

	// The request context is not cancelled when a hijacked client goes
	// away, so the read pump owns the lifetime of the connection.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.readPump(cancel)

	if err := conn.stream(ctx, att); err != nil {
		log.Debugf("websocket stream ended: run_id=%s err=%v", runID, err)
	}
	return nil
}

type connection struct {
	conn *websocket.Conn
	cfg  Config
}

// readPump discards client messages and cancels once the client closes the
// connection or stops answering pings.
func (c *connection) readPump(cancel context.CancelFunc) {
	defer cancel()
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debugf("websocket read error: %v", err)
			}
			return
		}
	}
}

// stream is the only writer on the connection.
func (c *connection) stream(ctx context.Context, att *service.Attachment) error {
	for _, ev := range att.History {
		if err := c.write(websocket.TextMessage, ev); err != nil {
			return err
		}
	}
	if !att.Live() {
		if err := c.write(websocket.TextMessage, att.Closed()); err != nil {
			return err
		}
		return c.close("run finished")
	}

	events := make(chan json.RawMessage)
	errc := make(chan error, 1)
	go func() {
		for {
			ev, err := att.Next(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-events:
			if err := c.write(websocket.TextMessage, ev); err != nil {
				return err
			}
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return c.close("run finished")
			}
			return err
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (c *connection) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *connection) close(reason string) error {
	return c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}
