// Package echo mounts the payment API on an Echo instance
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mihaimyh/clickpay/pkg/api"
)

// New returns an Echo instance serving the API routes.
func New(h *api.Handler, config api.RouterConfig) http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = api.DefaultAllowedOrigins
	}
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "Idempotence-Key"},
		MaxAge:       300,
	}))

	for _, route := range h.Routes() {
		path := route.Path
		if route.Param != "" {
			path += "/:" + route.Param
		}
		e.Add(route.Method, path, wrap(route))
	}
	if config.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(config.Metrics))
	}

	return api.AccessLog(h.Logger())(e)
}

func wrap(route api.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if route.Param != "" {
			req.SetPathValue(route.Param, c.Param(route.Param))
		}
		route.Handler.ServeHTTP(c.Response(), req)
		return nil
	}
}
