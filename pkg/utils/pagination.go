package utils

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// CursorParams represents backward pagination parameters
type CursorParams struct {
	Before   *time.Time
	PageSize int
}

// GetCursorParams extracts ?before= and ?limit= from request.
// before accepts RFC3339 or unix milliseconds.
func GetCursorParams(c echo.Context, defaultSize int) CursorParams {
	pageSize, _ := strconv.Atoi(c.QueryParam("limit"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultSize
	}

	params := CursorParams{PageSize: pageSize}
	if before := c.QueryParam("before"); before != "" {
		if t, ok := ParseTimestamp(before); ok {
			params.Before = &t
		}
	}
	return params
}

func ParseTimestamp(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
