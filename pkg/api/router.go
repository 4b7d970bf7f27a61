package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

// Route describes one endpoint in a router-neutral form so every router
// adapter mounts the same table.
type Route struct {
	Method string
	// Path is the static prefix, e.g. "/api/check-payment"
	Path string
	// Param names a trailing path parameter; empty for none
	Param   string
	Handler http.Handler
}

// Routes returns the API endpoint table
func (h *Handler) Routes() []Route {
	return []Route{
		{Method: http.MethodPost, Path: "/api/create-payment", Handler: http.HandlerFunc(h.CreatePayment)},
		{Method: http.MethodGet, Path: "/api/check-payment", Param: ParamPaymentID, Handler: http.HandlerFunc(h.CheckPayment)},
		{Method: http.MethodPost, Path: "/api/webhook", Handler: h.WebhookHandler()},
		{Method: http.MethodGet, Path: "/api/health", Handler: http.HandlerFunc(h.Health)},
		{Method: http.MethodGet, Path: "/api/ready", Handler: http.HandlerFunc(h.Ready)},
		{Method: http.MethodGet, Path: "/api/balance", Param: ParamUserID, Handler: http.HandlerFunc(h.Balance)},
	}
}

// TrustsForwardedHeaders reports whether client IPs come from proxy headers
func (h *Handler) TrustsForwardedHeaders() bool {
	return h.config.TrustForwardedHeaders
}

// Logger returns the handler's logger for router adapters
func (h *Handler) Logger() clickpay.Logger {
	return h.logger
}

// RouterConfig holds settings for the HTTP routers
type RouterConfig struct {
	// AllowedOrigins for CORS; DefaultAllowedOrigins when empty
	AllowedOrigins []string

	// Metrics is mounted at /metrics when set (usually promhttp.HandlerFor)
	Metrics http.Handler
}

// NewRouter mounts the API on a chi router
func NewRouter(h *Handler, config RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if h.config.TrustForwardedHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(AccessLog(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(config.AllowedOrigins))

	for _, route := range h.Routes() {
		pattern := route.Path
		if route.Param != "" {
			pattern += "/{" + route.Param + "}"
		}
		r.Method(route.Method, pattern, route.Handler)
	}
	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}
	return r
}
