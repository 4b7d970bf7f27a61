package echo

import (
	"testing"

	"github.com/mihaimyh/clickpay/pkg/api"
	"github.com/mihaimyh/clickpay/pkg/api/apitest"
)

func TestRouter(t *testing.T) {
	apitest.RunRouterSuite(t, func(h *api.Handler, config api.RouterConfig) apitest.DoFunc {
		return apitest.ServeHTTP(New(h, config))
	})
}
