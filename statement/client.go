// Package statement drives SQL statements through the warehouse's
// asynchronous execution API: submit, poll until a terminal state, return the
// outcome. Results are exposed as raw protocol snapshots (ExecuteRaw), typed
// slices (ExecuteTyped) or an in-order row stream (ExecuteStream).
package statement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"github.com/lakequery/lakequery/internal/observability"
)

const statementsPath = "/api/2.0/sql/statements"

// transportRetryLimit bounds retries per transport call; with it exhausted
// the 4th consecutive failure surfaces as *TransportError.
const transportRetryLimit = 3

// HeaderSource supplies the Authorization header value for each request.
// auth.Resolver satisfies it.
type HeaderSource interface {
	AuthorizationHeader(ctx context.Context) (string, error)
}

type Config struct {
	// Endpoint is the warehouse base URL, e.g. https://adb-123.azuredatabricks.net.
	Endpoint string
	// WarehouseID is the compute target statements execute on.
	WarehouseID string
	// Auth supplies bearer credentials per request.
	Auth HeaderSource
	// Transport defaults to an HTTPTransport with a 30s request timeout.
	Transport Transport
	// PollInterval is the sleep between status polls. Default 10s.
	PollInterval time.Duration
	// StatementTimeout is sent to the server as timeout_seconds. Default 600s.
	// The client itself enforces no wall clock; cancel the context instead.
	StatementTimeout time.Duration
	// RowLimit caps returned rows; 0 means unlimited.
	RowLimit int
	// Disposition selects inline results or external links; empty keeps the
	// server default.
	Disposition string
	Logger      *slog.Logger
}

// Client is safe for concurrent use; concurrent executions share nothing but
// the transport's connection pool.
type Client struct {
	endpoint         string
	warehouseID      string
	auth             HeaderSource
	transport        Transport
	pollInterval     time.Duration
	statementTimeout time.Duration
	rowLimit         int
	disposition      string
	logger           *slog.Logger

	// sleep is the single suspension point for poll waits and retry delays;
	// tests replace it to observe the schedule.
	sleep func(ctx context.Context, d time.Duration) error

	newRequestID func() string
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidArgument)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: endpoint must be an https:// URL, got %q", ErrInvalidArgument, endpoint)
	}
	if strings.TrimSpace(cfg.WarehouseID) == "" {
		return nil, fmt.Errorf("%w: warehouse id is required", ErrInvalidArgument)
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("%w: auth header source is required", ErrInvalidArgument)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(30 * time.Second)
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	statementTimeout := cfg.StatementTimeout
	if statementTimeout <= 0 {
		statementTimeout = 600 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:         strings.TrimRight(endpoint, "/"),
		warehouseID:      strings.TrimSpace(cfg.WarehouseID),
		auth:             cfg.Auth,
		transport:        transport,
		pollInterval:     pollInterval,
		statementTimeout: statementTimeout,
		rowLimit:         cfg.RowLimit,
		disposition:      cfg.Disposition,
		logger:           logger,
		sleep:            sleepContext,
		newRequestID:     uuid.NewString,
	}, nil
}

// ExecuteRaw submits query and polls until the statement reaches a terminal
// state, which it returns without judging: FAILED and CANCELED come back as
// snapshots, not errors. Cancelling ctx aborts the in-flight call or poll
// sleep and returns the context error.
func (c *Client) ExecuteRaw(ctx context.Context, query string, params map[string]string) (*Response, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be blank", ErrInvalidArgument)
	}

	request := Request{
		Statement:      query,
		WarehouseID:    c.warehouseID,
		Parameters:     bindParameters(params),
		TimeoutSeconds: int(c.statementTimeout / time.Second),
		RowLimit:       c.rowLimit,
		Disposition:    c.disposition,
	}
	requestID := c.newRequestID()
	logger := c.logger.With(slog.String("request_id", requestID))

	start := time.Now()
	resp, err := c.submit(ctx, request, requestID)
	if err != nil {
		return nil, err
	}
	logger.Debug("statement submitted",
		slog.String("statement_id", resp.StatementID),
		slog.String("state", string(resp.State)))

	// Poll loop: one GET per iteration, no request while sleeping, exit only
	// on a terminal state or cancellation.
	for !resp.State.Terminal() {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}
		resp, err = c.poll(ctx, resp.StatementID, requestID)
		if err != nil {
			return nil, err
		}
		observability.IncrementPoll()
	}

	observability.ObserveStatement(string(resp.State), time.Since(start))
	logger.Info("statement finished",
		slog.String("statement_id", resp.StatementID),
		slog.String("state", string(resp.State)),
		slog.String("duration", time.Since(start).String()))
	return resp, nil
}

// Cancel asks the warehouse to cancel a running statement. The statement may
// still finish; callers observe the outcome through their own poll loop.
func (c *Client) Cancel(ctx context.Context, statementID string) error {
	if strings.TrimSpace(statementID) == "" {
		return fmt.Errorf("%w: statement id must not be blank", ErrInvalidArgument)
	}
	headers, err := c.headers(ctx, "")
	if err != nil {
		return err
	}
	target := c.endpoint + statementsPath + "/" + url.PathEscape(statementID) + "/cancel"
	status, body, err := c.doWithRetry(ctx, "cancel statement", "POST", target, headers, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return apiError(status, body)
	}
	return nil
}

// FetchExternalRows downloads one external result link. Links are presigned,
// so no Authorization header is attached.
func (c *Client) FetchExternalRows(ctx context.Context, link ExternalLink) ([][]any, error) {
	if strings.TrimSpace(link.FileLink) == "" {
		return nil, fmt.Errorf("%w: external link is empty", ErrInvalidArgument)
	}
	status, body, err := c.doWithRetry(ctx, "fetch external rows", "GET", link.FileLink, map[string]string{"Accept": "application/json"}, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, apiError(status, body)
	}
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode external rows: %w", err)
	}
	return rows, nil
}

func (c *Client) submit(ctx context.Context, request Request, requestID string) (*Response, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal statement request: %w", err)
	}
	headers, err := c.headers(ctx, requestID)
	if err != nil {
		return nil, err
	}
	status, respBody, err := c.doWithRetry(ctx, "submit statement", "POST", c.endpoint+statementsPath, headers, body)
	if err != nil {
		return nil, err
	}
	return parseResponse(status, respBody)
}

func (c *Client) poll(ctx context.Context, statementID, requestID string) (*Response, error) {
	headers, err := c.headers(ctx, requestID)
	if err != nil {
		return nil, err
	}
	target := c.endpoint + statementsPath + "/" + url.PathEscape(statementID)
	status, respBody, err := c.doWithRetry(ctx, "poll statement", "GET", target, headers, nil)
	if err != nil {
		return nil, err
	}
	return parseResponse(status, respBody)
}

// doWithRetry retries transport-level failures up to transportRetryLimit
// times with 2s/4s/8s delays. Application-level responses (any HTTP status)
// return immediately; so do auth errors and cancellation.
func (c *Client) doWithRetry(ctx context.Context, op, method, target string, headers map[string]string, body []byte) (int, []byte, error) {
	delays := &backoff.Backoff{Min: 2 * time.Second, Max: 8 * time.Second, Factor: 2}

	var lastErr error
	for attempt := 0; attempt <= transportRetryLimit; attempt++ {
		if attempt > 0 {
			observability.IncrementTransportRetry()
			if err := c.sleep(ctx, delays.Duration()); err != nil {
				return 0, nil, err
			}
		}
		status, respBody, err := c.transport.RoundTrip(ctx, method, target, headers, body)
		if err == nil {
			return status, respBody, nil
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		lastErr = err
		c.logger.Warn("transport failure",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	return 0, nil, &TransportError{Op: op, Attempts: transportRetryLimit + 1, Err: lastErr}
}

func (c *Client) headers(ctx context.Context, requestID string) (map[string]string, error) {
	authorization, err := c.auth.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{
		"Authorization": authorization,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	if requestID != "" {
		headers["X-Request-Id"] = requestID
	}
	return headers, nil
}

func parseResponse(status int, body []byte) (*Response, error) {
	if status >= 300 {
		return nil, apiError(status, body)
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode statement response: %w", err)
	}
	return &resp, nil
}

func apiError(status int, body []byte) error {
	var parsed struct {
		Message   string `json:"message"`
		ErrorCode string `json:"error_code"`
	}
	_ = json.Unmarshal(body, &parsed)
	if parsed.Message == "" {
		parsed.Message = strings.TrimSpace(string(body))
	}
	return &APIError{StatusCode: status, Code: parsed.ErrorCode, Message: parsed.Message}
}

// bindParameters turns the caller's map into string-typed named parameters in
// a stable order.
func bindParameters(params map[string]string) []Parameter {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	bound := make([]Parameter, 0, len(names))
	for _, name := range names {
		bound = append(bound, Parameter{Name: name, Value: params[name], Type: "STRING"})
	}
	return bound
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
