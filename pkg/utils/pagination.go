package utils

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const MaxMessagePageSize = 100

// MessagePageParams are the query parameters of a backward message page.
type MessagePageParams struct {
	Limit    int
	BeforeID string
}

// GetMessagePageParams reads limit and before from the request. A missing or
// invalid limit is left at zero so the service default applies.
func GetMessagePageParams(c echo.Context) MessagePageParams {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	return MessagePageParams{
		Limit:    ClampMessagePageSize(limit),
		BeforeID: c.QueryParam("before"),
	}
}

// ClampMessagePageSize bounds a requested page size to 0..MaxMessagePageSize.
// Zero means the service default.
func ClampMessagePageSize(limit int) int {
	if limit < 0 {
		return 0
	}
	if limit > MaxMessagePageSize {
		return MaxMessagePageSize
	}
	return limit
}
