// Package fiber mounts the payment API on a Fiber app
package fiber

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/mihaimyh/clickpay/pkg/api"
	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

// New returns a Fiber app serving the API routes. Fiber runs on fasthttp, so
// the caller starts it with Listen instead of an http.Server.
func New(h *api.Handler, config api.RouterConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Matches the webhook body cap plus headroom for the create-payment body
		BodyLimit: 512 * 1024,
	})

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = api.DefaultAllowedOrigins
	}
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(accessLog(h.Logger()))
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowMethods: strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ","),
		AllowHeaders: "Content-Type,Authorization,Idempotence-Key",
		MaxAge:       300,
	}))

	for _, route := range h.Routes() {
		path := route.Path
		if route.Param != "" {
			path += "/:" + route.Param
		}
		app.Add(route.Method, path, wrap(route))
	}
	if config.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(config.Metrics))
	}
	return app
}

func wrap(route api.Route) fiber.Handler {
	if route.Param == "" {
		return adaptor.HTTPHandler(route.Handler)
	}
	return func(c *fiber.Ctx) error {
		value := c.Params(route.Param)
		return adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.SetPathValue(route.Param, value)
			route.Handler.ServeHTTP(w, r)
		})(c)
	}
}

func accessLog(logger clickpay.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		fields := []clickpay.Field{
			{Key: "method", Value: c.Method()},
			{Key: "path", Value: c.Path()},
			{Key: "status", Value: status},
			{Key: "duration", Value: time.Since(start)},
		}
		if id, ok := c.Locals("requestid").(string); ok && id != "" {
			fields = append(fields, clickpay.Field{Key: "request_id", Value: id})
		}
		if err != nil {
			fields = append(fields, clickpay.Field{Key: "error", Value: err})
		}
		if status >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
		} else {
			logger.Info("http request", fields...)
		}
		return err
	}
}
