// Package apitest provides an in-memory gateway and a shared conformance
// suite for the router adapters.
package apitest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/clickpay/pkg/api"
	"github.com/mihaimyh/clickpay/pkg/clickpay"
	"github.com/mihaimyh/clickpay/pkg/gateway"
	"github.com/mihaimyh/clickpay/storage/memory"
)

// Gateway is an in-memory gateway.Gateway. Created payments start pending.
type Gateway struct {
	mu       sync.Mutex
	payments map[string]*gateway.Payment
	seq      int
}

// NewGateway creates an empty in-memory gateway
func NewGateway() *Gateway {
	return &Gateway{payments: make(map[string]*gateway.Payment)}
}

// CreatePayment records a pending payment carrying the request metadata
func (g *Gateway) CreatePayment(_ context.Context, req *gateway.PaymentRequest) (*gateway.Payment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	id := fmt.Sprintf("pay_%d", g.seq)
	metadata := map[string]json.RawMessage{
		"userId":   mustJSON(req.UserID),
		"clicks":   mustJSON(strconv.FormatInt(req.Clicks, 10)),
		"username": mustJSON(req.Username),
	}
	raw, _ := json.Marshal(map[string]any{
		"id":          id,
		"status":      gateway.StatusPending,
		"amount":      map[string]string{"value": req.Amount.String(), "currency": "RUB"},
		"description": req.DescriptionOrDefault(),
		"metadata":    metadata,
	})
	p := &gateway.Payment{
		ID:                id,
		Status:            gateway.StatusPending,
		Amount:            req.Amount,
		Currency:          "RUB",
		Description:       req.DescriptionOrDefault(),
		ConfirmationToken: "ct-" + id,
		Metadata:          metadata,
		Raw:               raw,
	}
	g.payments[id] = p
	return p, nil
}

// GetPayment returns a recorded payment or a 404 gateway error
func (g *Gateway) GetPayment(_ context.Context, paymentID string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.payments[paymentID]
	if !ok {
		return nil, &gateway.Error{
			Op:         "get_payment",
			StatusCode: http.StatusNotFound,
			Err:        gateway.ErrPaymentNotFound,
		}
	}
	return p, nil
}

func mustJSON(v string) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// SucceededWebhook renders a payment.succeeded notification body
func SucceededWebhook(paymentID, userID string, clicks int64) string {
	return fmt.Sprintf(`{"type":"notification","event":"payment.succeeded","object":`+
		`{"id":%q,"status":"succeeded","paid":true,"metadata":{"userId":%q,"clicks":"%d"}}}`,
		paymentID, userID, clicks)
}

// NewHandler builds an api.Handler over memory storage and an in-memory gateway
func NewHandler(tb testing.TB) (*api.Handler, *memory.Storage, *Gateway) {
	tb.Helper()

	store := memory.New()
	processor, err := clickpay.NewProcessor(store, nil)
	require.NoError(tb, err)

	gw := NewGateway()
	h, err := api.NewHandler(api.Config{Ledger: processor, Gateway: gw})
	require.NoError(tb, err)
	return h, store, gw
}

// DoFunc executes a request against a mounted router
type DoFunc func(req *http.Request) (*http.Response, error)

// ServeHTTP adapts an http.Handler into a DoFunc
func ServeHTTP(handler http.Handler) DoFunc {
	return func(req *http.Request) (*http.Response, error) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result(), nil
	}
}

// RunRouterSuite checks that a router adapter exposes every API route with
// path parameters, CORS and the metrics endpoint.
func RunRouterSuite(t *testing.T, mount func(h *api.Handler, config api.RouterConfig) DoFunc) {
	t.Helper()

	h, store, _ := NewHandler(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "clickpay_up 1\n")
	})
	do := mount(h, api.RouterConfig{Metrics: metrics})

	call := func(t *testing.T, method, path, body string, headers ...string) (int, http.Header, []byte) {
		t.Helper()
		var reader io.Reader = http.NoBody
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		resp, err := do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, resp.Header, data
	}

	var paymentID string
	t.Run("create and check payment", func(t *testing.T) {
		code, _, body := call(t, http.MethodPost, "/api/create-payment",
			`{"amount": 149.5, "userId": "u1", "clicks": 10, "username": "alice"}`)
		require.Equal(t, http.StatusOK, code, string(body))

		var created api.CreatePaymentResponse
		require.NoError(t, json.Unmarshal(body, &created))
		assert.True(t, created.Success)
		require.NotEmpty(t, created.PaymentID)
		paymentID = created.PaymentID

		code, _, body = call(t, http.MethodGet, "/api/check-payment/"+paymentID, "")
		require.Equal(t, http.StatusOK, code, string(body))
		var checked api.CheckPaymentResponse
		require.NoError(t, json.Unmarshal(body, &checked))
		assert.Equal(t, gateway.StatusPending, checked.Status)
		assert.Contains(t, string(checked.Payment), paymentID)
	})

	t.Run("check unknown payment", func(t *testing.T) {
		code, _, _ := call(t, http.MethodGet, "/api/check-payment/unknown", "")
		assert.Equal(t, http.StatusInternalServerError, code)
	})

	t.Run("webhook credits once", func(t *testing.T) {
		webhook := SucceededWebhook("pay_router_1", "u1", 10)
		for i := 0; i < 2; i++ {
			code, _, body := call(t, http.MethodPost, "/api/webhook", webhook)
			require.Equal(t, http.StatusOK, code, string(body))
		}
		balance, err := store.GetBalance(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(10), balance)
	})

	t.Run("webhook rejects other methods", func(t *testing.T) {
		code, _, _ := call(t, http.MethodGet, "/api/webhook", "")
		assert.NotEqual(t, http.StatusOK, code)
	})

	t.Run("balance", func(t *testing.T) {
		code, _, body := call(t, http.MethodGet, "/api/balance/u1", "")
		require.Equal(t, http.StatusOK, code, string(body))
		var balance api.BalanceResponse
		require.NoError(t, json.Unmarshal(body, &balance))
		assert.Equal(t, "u1", balance.UserID)
		assert.Equal(t, int64(10), balance.Clicks)
		assert.Equal(t, int64(10), balance.Global)
	})

	t.Run("health and ready", func(t *testing.T) {
		code, _, body := call(t, http.MethodGet, "/api/health", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), `"status":"ok"`)

		code, _, _ = call(t, http.MethodGet, "/api/ready", "")
		assert.Equal(t, http.StatusOK, code)
	})

	t.Run("cors", func(t *testing.T) {
		_, headers, _ := call(t, http.MethodGet, "/api/health", "", "Origin", "https://colony-tap.ru")
		assert.Equal(t, "https://colony-tap.ru", headers.Get("Access-Control-Allow-Origin"))
	})

	t.Run("metrics", func(t *testing.T) {
		code, _, body := call(t, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, string(body), "clickpay_up 1")
	})
}
