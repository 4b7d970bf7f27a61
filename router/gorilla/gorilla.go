// Package gorilla mounts the payment API on a gorilla/mux router
package gorilla

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/mux"

	"github.com/mihaimyh/clickpay/pkg/api"
)

// New returns a gorilla/mux router serving the API routes.
func New(h *api.Handler, config api.RouterConfig) http.Handler {
	r := mux.NewRouter()

	for _, route := range h.Routes() {
		path := route.Path
		if route.Param != "" {
			path += "/{" + route.Param + "}"
		}
		r.Handle(path, wrap(route)).Methods(route.Method)
	}
	if config.Metrics != nil {
		r.Handle("/metrics", config.Metrics).Methods(http.MethodGet)
	}

	var handler http.Handler = r
	handler = api.CORS(config.AllowedOrigins)(handler)
	handler = middleware.Recoverer(handler)
	return api.AccessLog(h.Logger())(handler)
}

func wrap(route api.Route) http.Handler {
	if route.Param == "" {
		return route.Handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.SetPathValue(route.Param, mux.Vars(r)[route.Param])
		route.Handler.ServeHTTP(w, r)
	})
}
