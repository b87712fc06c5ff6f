package http

import (
	"time"

	"github.com/labstack/echo/v4"

	xutil "SignalFuse/pkg/util"
)

// QueryLimit reads ?limit= clamped to [1, max].
func QueryLimit(c echo.Context, def, max int) int {
	return xutil.ParseIntClamp(c.QueryParam("limit"), def, 1, max)
}

// QueryTime reads a time query parameter; ok is false when absent or invalid.
func QueryTime(c echo.Context, name string) (time.Time, bool) {
	return xutil.ParseTime(c.QueryParam(name))
}
