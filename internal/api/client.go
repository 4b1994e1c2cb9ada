package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	csrfCookieName = "csrftoken"
	csrfHeaderName = "X-CSRFToken"
	deviceHeader   = "X-Device-ID"

	defaultAuthTimeout = 5 * time.Second
	defaultSendTimeout = 3 * time.Second
)

// ClientConfig describes how to reach the order-tracking server.
type ClientConfig struct {
	BaseURL     string
	DeviceID    string
	AuthTimeout time.Duration
	SendTimeout time.Duration
	Logger      *zap.Logger
}

// Client is a session-bearing HTTP client for the order-tracking API. The
// underlying resty client keeps the session cookie jar; the CSRF token captured
// at login is attached to every mutating request.
type Client struct {
	http        *resty.Client
	authTimeout time.Duration
	sendTimeout time.Duration
	logger      *zap.Logger

	mu        sync.Mutex
	csrfToken string
}

// NewClient constructs a Client bound to one base endpoint.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api: base url is required")
	}

	authTimeout := cfg.AuthTimeout
	if authTimeout <= 0 {
		authTimeout = defaultAuthTimeout
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	restyClient := resty.New()
	restyClient.
		SetBaseURL(baseURL + "/api/v2").
		SetHeader("Content-Type", "application/json")
	if cfg.DeviceID != "" {
		restyClient.SetHeader(deviceHeader, cfg.DeviceID)
	}

	return &Client{
		http:        restyClient,
		authTimeout: authTimeout,
		sendTimeout: sendTimeout,
		logger:      logger,
	}, nil
}

// CSRFToken returns the token captured from the most recent login.
func (c *Client) CSRFToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrfToken
}

// SetCSRFToken restores a previously captured token, e.g. from persisted
// session state.
func (c *Client) SetCSRFToken(token string) {
	c.mu.Lock()
	c.csrfToken = token
	c.mu.Unlock()
}

// Login authenticates with username and password and captures the CSRF token
// from the response cookies.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	return c.doLogin(ctx, "/accounts/login", map[string]string{
		"username": username,
		"password": password,
	})
}

// LoginByToken authenticates with a pre-issued login token.
func (c *Client) LoginByToken(ctx context.Context, token string) (User, error) {
	return c.doLogin(ctx, "/accounts/login/token", map[string]string{
		"token": token,
	})
}

func (c *Client) doLogin(ctx context.Context, path string, payload map[string]string) (User, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	var user User
	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(payload).
		SetResult(&user).
		Post(path)
	if err != nil {
		return User{}, c.networkError("login", err)
	}
	if resp.IsError() {
		return User{}, &AuthError{Detail: detailFromBody(resp.Body())}
	}

	c.captureCSRF(resp)
	c.logger.Debug("login succeeded", zap.String("username", user.Username))
	return user, nil
}

// Orders lists the orders available for barcode scanning, newest name first.
func (c *Client) Orders(ctx context.Context) ([]Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	var orders []Order
	resp, err := c.http.R().
		SetContext(callCtx).
		SetQueryParams(map[string]string{
			"order_by":      "-name",
			"using_barcode": "true",
		}).
		SetResult(&orders).
		Get("/orders/orders-filters-for-scaner")
	if err != nil {
		return nil, c.networkError("orders", err)
	}
	if resp.IsError() {
		return nil, &ServerError{StatusCode: resp.StatusCode(), Detail: detailFromBody(resp.Body())}
	}
	return orders, nil
}

// ProcessType fetches one process type with its ordered stage list.
func (c *Client) ProcessType(ctx context.Context, id int64) (ProcessType, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	var processType ProcessType
	resp, err := c.http.R().
		SetContext(callCtx).
		SetResult(&processType).
		Get(fmt.Sprintf("/orders/process-types/%d", id))
	if err != nil {
		return ProcessType{}, c.networkError("process type", err)
	}
	if resp.IsError() {
		return ProcessType{}, &ServerError{StatusCode: resp.StatusCode(), Detail: detailFromBody(resp.Body())}
	}
	return processType, nil
}

// OrderByID fetches a single order.
func (c *Client) OrderByID(ctx context.Context, id int64) (Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	var order Order
	resp, err := c.http.R().
		SetContext(callCtx).
		SetResult(&order).
		Get(fmt.Sprintf("/orders/%d", id))
	if err != nil {
		return Order{}, c.networkError("order", err)
	}
	if resp.IsError() {
		return Order{}, &ServerError{StatusCode: resp.StatusCode(), Detail: detailFromBody(resp.Body())}
	}
	return order, nil
}

// CreateBarcode submits one record. Transport and HTTP failures are converted
// into a failed Outcome; this call never returns an error value.
func (c *Client) CreateBarcode(ctx context.Context, record ImportRecord) Outcome {
	return c.submit(ctx, "/barcode/import-barcode", record)
}

// SendBarcodes submits multiple records in one request, with the same
// result-returning contract as CreateBarcode.
func (c *Client) SendBarcodes(ctx context.Context, records []ImportRecord) Outcome {
	return c.submit(ctx, "/barcode/import-barcodes", records)
}

func (c *Client) submit(ctx context.Context, path string, body any) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	var outcome Outcome
	resp, err := c.http.R().
		SetContext(callCtx).
		SetHeader(csrfHeaderName, c.CSRFToken()).
		SetBody(body).
		SetResult(&outcome).
		Post(path)
	if err != nil {
		netErr := c.networkError("import", err)
		c.logger.Warn("barcode submission failed", zap.Error(netErr))
		return Outcome{Success: false, Error: netErr.Error()}
	}
	if resp.IsError() {
		serverErr := &ServerError{StatusCode: resp.StatusCode(), Detail: detailFromBody(resp.Body())}
		c.logger.Warn("barcode submission rejected", zap.Error(serverErr))
		return Outcome{Success: false, Error: serverErr.Error()}
	}
	return outcome
}

func (c *Client) captureCSRF(resp *resty.Response) {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == csrfCookieName {
			c.SetCSRFToken(cookie.Value)
			return
		}
	}
}

func (c *Client) networkError(op string, err error) error {
	timeout := errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if !timeout && errors.As(err, &netErr) {
		timeout = netErr.Timeout()
	}
	return &NetworkError{Op: op, Timeout: timeout, Err: err}
}

func detailFromBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return string(body)
}
