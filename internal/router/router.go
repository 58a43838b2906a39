package router // package router defines how HTTP routes are registered for the API

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/dental-clinic-admin/internal/config"
	"github.com/iliyamo/dental-clinic-admin/internal/handler"
	"github.com/iliyamo/dental-clinic-admin/internal/middleware"
	"github.com/iliyamo/dental-clinic-admin/internal/model"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Cfg           config.Config
	Auth          *handler.AuthHandler
	Patients      *handler.PatientHandler
	Chat          *handler.ChatHandler
	Status        *handler.StatusHandler
	Redis         *redis.Client // nil selects the in-process rate limiter
	RateLimit     config.RateLimitConfig
	AuthRateLimit config.RateLimitConfig
	ChatRateLimit config.RateLimitConfig
	Log           *zap.Logger
}

// New builds the Echo instance with the global middleware chain and every
// route registered.
func New(d Deps) *echo.Echo {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()

	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(d.Log))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     d.Cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, echo.HeaderAccept},
		ExposeHeaders:    []string{echo.HeaderXRequestID, "Retry-After"},
		AllowCredentials: true,
	}))
	e.Use(middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log))

	RegisterRoutes(e, d.Status)
	RegisterAuth(e, d.Auth, d.Cfg.JWTSecret, middleware.NewTokenBucket(d.AuthRateLimit, d.Redis, d.Log))
	RegisterPatients(e, d.Patients, d.Cfg.JWTSecret)
	RegisterChat(e, d.Chat, d.Cfg.JWTSecret, middleware.NewTokenBucket(d.ChatRateLimit, d.Redis, d.Log))
	return e
}

// RegisterRoutes registers the unauthenticated platform endpoints: the
// liveness probe, the status report and the Prometheus scrape target.
func RegisterRoutes(e *echo.Echo, s *handler.StatusHandler) {
	e.GET("/healthz", handler.Health)
	if s != nil {
		e.GET("/v1/health", s.Status)
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterAuth registers the session endpoints.  Register and login sit
// behind the stricter auth limiter; /me requires a valid access token.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register, limiter)
	g.POST("/login", a.Login, limiter)
	g.POST("/refresh", a.Refresh)
	// logout works with either a refresh token or a bearer, so no JWTAuth here
	g.POST("/logout", a.Logout)
	g.GET("/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// protected returns the middleware pair every signed-in route uses.
func protected(jwtSecret string) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin, model.RoleUser),
	}
}

// RegisterPatients registers the patient record endpoints under /v1/patients.
func RegisterPatients(e *echo.Echo, p *handler.PatientHandler, jwtSecret string) {
	g := e.Group("/v1/patients", protected(jwtSecret)...)
	g.POST("", p.Create)
	g.GET("", p.List)
	g.GET("/export", p.Export)
	g.GET("/:id", p.Get)
	g.PUT("/:id", p.Update)
	g.PATCH("/:id", p.Update)
	g.DELETE("/:id", p.Delete)
}

// RegisterChat registers the chat endpoints.  Only the two routes that
// start a turn are rate limited per user.
func RegisterChat(e *echo.Echo, ch *handler.ChatHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/chat", protected(jwtSecret)...)
	g.POST("", ch.Send, limiter)
	g.POST("/stream", ch.Stream, limiter)
	g.GET("/history/:patientId", ch.History)
}
