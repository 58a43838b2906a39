package middleware // reusable HTTP middleware for the clinic API

import (
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/dental-clinic-admin/internal/utils"
)

// Context keys filled by JWTAuth.
const (
    CtxUserID = "user_id"
    CtxRole   = "role"
    CtxEmail  = "email"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and stores the subject, role and email claims in the request context.
// Handlers read them with CurrentUserID / c.Get("role").
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

            claims, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            c.Set(CtxUserID, claims.UserID)
            c.Set(CtxRole, claims.Role)
            c.Set(CtxEmail, claims.Email)
            return next(c)
        }
    }
}
