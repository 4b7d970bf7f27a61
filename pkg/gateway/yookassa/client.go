package yookassa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/clickpay/pkg/clickpay"
	"github.com/mihaimyh/clickpay/pkg/gateway"
)

const (
	// DefaultBaseURL is the production YooKassa REST API
	DefaultBaseURL = "https://api.yookassa.ru/v3"

	defaultHTTPTimeout   = 10 * time.Second
	defaultCurrency      = "RUB"
	maxResponseBytes     = 1 << 20
	opCreatePayment      = "create_payment"
	opGetPayment         = "get_payment"
	confirmationEmbedded = "embedded"
	confirmationRedirect = "redirect"
	headerIdempotenceKey = "Idempotence-Key"
	contentTypeJSON      = "application/json"
)

// Config holds the shop credentials and client options.
type Config struct {
	// ShopID and SecretKey authenticate every call (HTTP Basic)
	ShopID    string
	SecretKey string

	// BaseURL overrides the API root (default: DefaultBaseURL)
	BaseURL string

	// Currency is attached to every created payment (default: RUB)
	Currency string

	// ConfirmationType is "embedded" (widget token, default) or "redirect"
	ConfirmationType string

	// ReturnURL is where the payer lands after a redirect confirmation
	ReturnURL string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with Timeout (default 10s) is used.
	HTTPClient *http.Client
	Timeout    time.Duration

	// Logger is optional; NoopLogger is used when nil
	Logger clickpay.Logger

	// Metrics is optional; NoopMetrics is used when nil
	Metrics gateway.Metrics
}

// Client implements gateway.Gateway against the YooKassa v3 API.
type Client struct {
	baseURL          string
	authorization    string
	currency         string
	confirmationType string
	returnURL        string
	httpClient       *http.Client
	logger           clickpay.Logger
	metrics          gateway.Metrics
	lookups          singleflight.Group
}

var _ gateway.Gateway = (*Client)(nil)

// NewClient creates a YooKassa client. Missing credentials fail with gateway.ErrNotConfigured.
func NewClient(config Config) (*Client, error) {
	shopID := strings.TrimSpace(config.ShopID)
	secret := strings.TrimSpace(config.SecretKey)
	if shopID == "" || secret == "" {
		return nil, fmt.Errorf("%w: shop id and secret key are required", gateway.ErrNotConfigured)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: invalid base url: %v", gateway.ErrNotConfigured, err)
	}

	confirmation := strings.TrimSpace(config.ConfirmationType)
	switch confirmation {
	case "":
		confirmation = confirmationEmbedded
	case confirmationEmbedded:
	case confirmationRedirect:
		if strings.TrimSpace(config.ReturnURL) == "" {
			return nil, fmt.Errorf("%w: redirect confirmation requires a return url", gateway.ErrNotConfigured)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported confirmation type %q", gateway.ErrNotConfigured, confirmation)
	}

	currency := strings.ToUpper(strings.TrimSpace(config.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = &clickpay.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &gateway.NoopMetrics{}
	}

	return &Client{
		baseURL:          baseURL,
		authorization:    "Basic " + base64.StdEncoding.EncodeToString([]byte(shopID+":"+secret)),
		currency:         currency,
		confirmationType: confirmation,
		returnURL:        strings.TrimSpace(config.ReturnURL),
		httpClient:       httpClient,
		logger:           logger,
		metrics:          metrics,
	}, nil
}

// CreatePayment registers a one-stage (auto-captured) payment.
func (c *Client) CreatePayment(ctx context.Context, req *gateway.PaymentRequest) (*gateway.Payment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload := createPaymentRequest{
		Amount:      amountBody{Value: req.Amount.String(), Currency: c.currency},
		Capture:     true,
		Description: req.DescriptionOrDefault(),
		Metadata: metadataBody{
			UserID:   req.UserID,
			Clicks:   req.Clicks,
			Username: req.Username,
		},
	}
	payload.Confirmation.Type = c.confirmationType
	if c.confirmationType == confirmationRedirect {
		payload.Confirmation.ReturnURL = c.returnURL
	}

	idempotenceKey := strings.TrimSpace(req.IdempotenceKey)
	if idempotenceKey == "" {
		idempotenceKey = uuid.NewString()
	}

	c.logger.Info("creating payment",
		clickpay.Field{Key: "user_id", Value: req.UserID},
		clickpay.Field{Key: "username", Value: req.Username},
		clickpay.Field{Key: "clicks", Value: req.Clicks},
		clickpay.Field{Key: "amount", Value: req.Amount.String()})

	body, err := c.do(ctx, opCreatePayment, http.MethodPost, "/payments", payload, idempotenceKey)
	if err != nil {
		c.logger.Error("payment creation failed",
			clickpay.Field{Key: "user_id", Value: req.UserID},
			clickpay.Field{Key: "error", Value: err})
		return nil, err
	}

	payment, err := decodePayment(opCreatePayment, body)
	if err != nil {
		return nil, err
	}
	c.logger.Info("payment created",
		clickpay.Field{Key: "payment_id", Value: payment.ID},
		clickpay.Field{Key: "status", Value: payment.Status})
	return payment, nil
}

// GetPayment fetches a payment. Concurrent lookups of the same id share one API call.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*gateway.Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", gateway.ErrInvalidRequest)
	}

	ch := c.lookups.DoChan(paymentID, func() (interface{}, error) {
		// Detached so one caller's cancellation does not fail the others sharing the call
		lookupCtx := context.WithoutCancel(ctx)
		if c.httpClient.Timeout <= 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(lookupCtx, defaultHTTPTimeout)
			defer cancel()
		}
		body, err := c.do(lookupCtx, opGetPayment, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, "")
		if err != nil {
			return nil, err
		}
		return decodePayment(opGetPayment, body)
	})

	select {
	case <-ctx.Done():
		return nil, &gateway.Error{Op: opGetPayment, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gateway.Payment), nil
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any, idempotenceKey string) ([]byte, error) {
	start := time.Now()
	status := "error"
	defer func() {
		c.metrics.RecordAPICall(op, status)
		c.metrics.RecordAPICallDuration(op, time.Since(start))
	}()

	reqBody := io.Reader(http.NoBody)
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, &gateway.Error{Op: op, Err: fmt.Errorf("failed to encode request: %w", err)}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, &gateway.Error{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", c.authorization)
	req.Header.Set("Accept", contentTypeJSON)
	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}
	if idempotenceKey != "" {
		req.Header.Set(headerIdempotenceKey, idempotenceKey)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &gateway.Error{Op: op, Err: err}
	}
	defer res.Body.Close()
	status = strconv.Itoa(res.StatusCode)

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, &gateway.Error{Op: op, StatusCode: res.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		gwErr := &gateway.Error{Op: op, StatusCode: res.StatusCode, Err: gateway.ErrGateway}
		if res.StatusCode == http.StatusNotFound {
			gwErr.Err = gateway.ErrPaymentNotFound
		}
		var apiErr errorResponse
		if json.Unmarshal(body, &apiErr) == nil {
			gwErr.Code = apiErr.Code
			gwErr.Description = apiErr.Description
		}
		return nil, gwErr
	}
	return body, nil
}

func decodePayment(op string, body []byte) (*gateway.Payment, error) {
	var res paymentResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, &gateway.Error{Op: op, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if res.ID == "" {
		return nil, &gateway.Error{Op: op, Err: errors.New("response carries no payment id")}
	}

	payment := &gateway.Payment{
		ID:          res.ID,
		Status:      res.Status,
		Paid:        res.Paid,
		Currency:    res.Amount.Currency,
		Description: res.Description,
		CreatedAt:   res.CreatedAt,
		Metadata:    res.Metadata,
		Raw:         json.RawMessage(body),
	}
	if res.Amount.Value != "" {
		amount, err := gateway.ParseAmount(res.Amount.Value)
		if err != nil {
			return nil, &gateway.Error{Op: op, Err: fmt.Errorf("invalid amount in response: %w", err)}
		}
		payment.Amount = amount
	}
	if res.Confirmation != nil {
		payment.ConfirmationToken = res.Confirmation.ConfirmationToken
		payment.ConfirmationURL = res.Confirmation.ConfirmationURL
	}
	return payment, nil
}
