package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zhongli1990/saas-codex/internal/domain"
	"github.com/zhongli1990/saas-codex/internal/log"
)

// sentinels are reported by their own message, without the detail wrapped
// around them.
var sentinels = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidWorkspace, http.StatusBadRequest},
	{domain.ErrThreadNotFound, http.StatusNotFound},
	{domain.ErrRunNotFound, http.StatusNotFound},
	{domain.ErrSessionNotFound, http.StatusNotFound},
	{domain.ErrRunNotRunning, http.StatusConflict},
}

// errorStatus maps an error to its status code and client-facing message.
func errorStatus(err error) (int, string) {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.status, s.err.Error()
		}
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Message
	}
	if errors.Is(err, domain.ErrUnknownRunner) {
		return http.StatusBadRequest, err.Error()
	}
	var vendorErr *domain.VendorStreamError
	if errors.As(err, &vendorErr) {
		return http.StatusBadGateway, err.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func respondError(c echo.Context, err error) error {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Errorf("%s %s failed: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, map[string]string{"error": msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
