package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/api/handlers"
	"github.com/nhle/onebox/internal/store"
)

// RouterConfig holds the router's dependencies.
type RouterConfig struct {
	Store    store.Store
	Accounts handlers.AccountController
	Logger   *zap.Logger

	// Suggester may be nil, in which case the suggestion routes answer 503.
	Suggester handlers.ReplySuggester
}

// NewRouter creates the Echo router with all routes.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.Logger != nil {
		e.Use(RequestLogger(cfg.Logger))
	}

	healthHandler := handlers.NewHealthHandler(cfg.Store, cfg.Accounts)
	emailHandler := handlers.NewEmailHandler(cfg.Store)
	accountHandler := handlers.NewAccountHandler(cfg.Accounts)
	suggestHandler := handlers.NewSuggestHandler(cfg.Store, cfg.Suggester)

	e.GET("/health", healthHandler.Health)

	api := e.Group("/api")

	emails := api.Group("/emails")
	emails.GET("", emailHandler.List)
	emails.GET("/stats/categories", emailHandler.CategoryStats)
	emails.GET("/:id", emailHandler.Get)
	emails.PUT("/:id/category", emailHandler.UpdateCategory)
	emails.POST("/:id/suggest-reply", suggestHandler.SuggestReply)

	api.POST("/knowledge", suggestHandler.AddKnowledge)

	accounts := api.Group("/accounts")
	accounts.GET("", accountHandler.List)
	accounts.POST("/:id/restart", accountHandler.Restart)

	return e
}

// RequestLogger logs every request at info level.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
				zap.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}
