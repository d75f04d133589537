package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Health answers liveness probes.  It deliberately touches none of the
// backing services: a deploy with the broker or database down should still
// report the process itself as up, and dependency health is visible
// through /metrics instead.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}
