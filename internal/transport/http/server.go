// Package http assembles the HTTP server of the runner.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/zhongli1990/saas-codex/internal/metrics"
	"github.com/zhongli1990/saas-codex/internal/service"
	v1 "github.com/zhongli1990/saas-codex/internal/transport/http/v1"
	"github.com/zhongli1990/saas-codex/internal/transport/ws"
)

// NewServer creates and configures the HTTP server. m may be nil, in which
// case /metrics is not served.
func NewServer(svc *service.Service, m *metrics.Metrics, wsCfg ws.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	var tracker v1.SubscriberTracker
	var wsTracker ws.Tracker
	if m != nil {
		tracker, wsTracker = m, m
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	v1.NewHandler(svc, tracker).RegisterRoutes(e)
	ws.NewServer(wsCfg, svc, wsTracker).RegisterRoutes(e)

	return e
}
