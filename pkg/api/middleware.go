package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
)

// DefaultAllowedOrigins are the browser origins allowed when none are configured
var DefaultAllowedOrigins = []string{"https://colony-tap.ru", "http://localhost:3000"}

// CORS returns a middleware allowing the game client origins to call the API
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = DefaultAllowedOrigins
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", headerIdempotenceKey},
		MaxAge:         300,
	})
}

// AccessLog logs one line per request with its status and duration
func AccessLog(logger clickpay.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = &clickpay.NoopLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []clickpay.Field{
				{Key: "method", Value: r.Method},
				{Key: "path", Value: r.URL.Path},
				{Key: "status", Value: status},
				{Key: "bytes", Value: ww.BytesWritten()},
				{Key: "duration", Value: time.Since(start)},
			}
			if id := middleware.GetReqID(r.Context()); id != "" {
				fields = append(fields, clickpay.Field{Key: "request_id", Value: id})
			}
			if status >= http.StatusInternalServerError {
				logger.Warn("http request", fields...)
				return
			}
			logger.Info("http request", fields...)
		})
	}
}
