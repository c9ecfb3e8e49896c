package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"storefront/internal/session"
)

type RouterConfig struct {
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(h *OrderHandler, cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	limiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RateLimitRPS),
				Burst:     cfg.RateLimitBurst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(context echo.Context) (string, error) {
			return context.RealIP(), nil
		},
		ErrorHandler: func(context echo.Context, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
		DenyHandler: func(context echo.Context, identifier string, err error) error {
			return context.JSON(429, map[string]string{"error": "rate limit exceeded"})
		},
	}

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RateLimiterWithConfig(limiterConfig))

	e.GET("/api/health", func(c echo.Context) error {
		return c.JSON(200, map[string]interface{}{
			"status":  "ok",
			"service": "storefront",
			"time":    time.Now().Format(time.RFC3339),
		})
	})
	e.POST("/api/quote", h.Quote)

	authed := e.Group("/api", session.Middleware(cfg.JWTSecret))
	authed.POST("/create-payment-intent", h.CreatePaymentIntent)
	authed.POST("/create-order", h.CreateOrder)
	authed.PUT("/order", h.UpdateOrder)
	authed.PUT("/delete-order", h.DeleteOrder)
	authed.GET("/orders", h.ListMyOrders)
	authed.GET("/orders/:id", h.GetOrder)
	authed.GET("/admin/orders", h.ListOrders)

	return e
}
