package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	gofiber "github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/clickpay/internal/config"
	"github.com/mihaimyh/clickpay/pkg/api"
	echorouter "github.com/mihaimyh/clickpay/router/echo"
	fiberrouter "github.com/mihaimyh/clickpay/router/fiber"
	ginrouter "github.com/mihaimyh/clickpay/router/gin"
	gorillarouter "github.com/mihaimyh/clickpay/router/gorilla"
)

// server is the lifecycle shared by net/http and Fiber
type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type fiberServer struct {
	app  *gofiber.App
	addr string
}

func (s *fiberServer) ListenAndServe() error {
	return s.app.Listen(s.addr)
}

func (s *fiberServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func newServer(cfg *config.Config, h *api.Handler, routerConfig api.RouterConfig) (server, error) {
	var handler http.Handler
	switch cfg.HTTPRouter {
	case "chi":
		handler = api.NewRouter(h, routerConfig)
	case "gin":
		if !cfg.IsDev() {
			gin.SetMode(gin.ReleaseMode)
		}
		handler = ginrouter.New(h, routerConfig)
	case "echo":
		handler = echorouter.New(h, routerConfig)
	case "gorilla":
		handler = gorillarouter.New(h, routerConfig)
	case "fiber":
		return &fiberServer{app: fiberrouter.New(h, routerConfig), addr: cfg.Addr()}, nil
	default:
		return nil, fmt.Errorf("unknown router %q", cfg.HTTPRouter)
	}

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}
