package middleware

import "github.com/labstack/echo/v4"

// CurrentUserID returns the authenticated user's id stored by JWTAuth.
func CurrentUserID(c echo.Context) (string, bool) {
    s, ok := c.Get(CtxUserID).(string)
    return s, ok && s != ""
}

// userID is the rate limiter and request log variant: anonymous callers
// are reported as "anon".
func userID(c echo.Context) string {
    if s, ok := CurrentUserID(c); ok {
        return s
    }
    return "anon"
}
