package middleware

import (
    "time"

    "github.com/labstack/echo/v4"
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

// RequestLogger writes one structured entry per request.  Server errors are
// logged at error level, client errors at warn.
func RequestLogger(log *zap.Logger) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            start := time.Now()
            err := next(c)
            if err != nil {
                // let echo's error handler pick the status before logging it
                c.Error(err)
            }

            req := c.Request()
            res := c.Response()
            status := res.Status
            level := zapcore.InfoLevel
            switch {
            case status >= 500:
                level = zapcore.ErrorLevel
            case status >= 400:
                level = zapcore.WarnLevel
            }

            fields := []zap.Field{
                zap.String("method", req.Method),
                zap.String("route", c.Path()),
                zap.String("uri", req.RequestURI),
                zap.Int("status", status),
                zap.Duration("latency", time.Since(start)),
                zap.String("ip", c.RealIP()),
                zap.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
                zap.String("user_id", userID(c)),
            }
            if err != nil {
                fields = append(fields, zap.Error(err))
            }
            if ce := log.Check(level, "request"); ce != nil {
                ce.Write(fields...)
            }
            return nil
        }
    }
}
