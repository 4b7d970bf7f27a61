// Package gin mounts the payment API on a Gin engine
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/clickpay/pkg/api"
)

// New returns a Gin engine serving the API routes, wrapped with CORS and the access log.
func New(h *api.Handler, config api.RouterConfig) http.Handler {
	engine := gongin.New()
	engine.Use(gongin.Recovery())
	engine.HandleMethodNotAllowed = true

	for _, route := range h.Routes() {
		path := route.Path
		if route.Param != "" {
			path += "/:" + route.Param
		}
		engine.Handle(route.Method, path, wrap(route))
	}
	if config.Metrics != nil {
		engine.GET("/metrics", gongin.WrapH(config.Metrics))
	}

	return api.AccessLog(h.Logger())(api.CORS(config.AllowedOrigins)(engine))
}

// wrap copies the Gin path parameter onto the request so api handlers can read it
func wrap(route api.Route) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		if route.Param != "" {
			c.Request.SetPathValue(route.Param, c.Param(route.Param))
		}
		route.Handler.ServeHTTP(c.Writer, c.Request)
	}
}
