package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/dental-clinic-admin/internal/chat"
)

// statusOf maps a chat error category to its HTTP status.
func statusOf(err error) int {
	switch chat.Kind(err) {
	case chat.ErrNotFound:
		return http.StatusNotFound
	case chat.ErrForbidden:
		return http.StatusForbidden
	case chat.ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case chat.ErrTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError answers with the fixed public text of err's category.  In
// development the raw cause is added as "detail".
func writeError(c echo.Context, err error, dev bool) error {
	body := echo.Map{"error": chat.PublicMessage(err)}
	if dev && !isBareKind(err) {
		body["detail"] = err.Error()
	}
	return c.JSON(statusOf(err), body)
}

func isBareKind(err error) bool {
	k := chat.Kind(err)
	return errors.Is(err, k) && err.Error() == k.Error()
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}
