package statement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

type staticAuth struct{}

func (staticAuth) AuthorizationHeader(context.Context) (string, error) {
	return "Bearer test-token", nil
}

type recordedCall struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

type scriptedReply struct {
	status int
	body   string
	err    error
}

// scriptedTransport plays back replies in order and records every request.
type scriptedTransport struct {
	calls   []recordedCall
	replies []scriptedReply
}

func (t *scriptedTransport) RoundTrip(_ context.Context, method, url string, headers map[string]string, body []byte) (int, []byte, error) {
	t.calls = append(t.calls, recordedCall{method: method, url: url, headers: headers, body: body})
	if len(t.replies) == 0 {
		return 0, nil, fmt.Errorf("scripted transport exhausted after %d calls", len(t.calls))
	}
	reply := t.replies[0]
	t.replies = t.replies[1:]
	if reply.err != nil {
		return 0, nil, reply.err
	}
	return reply.status, []byte(reply.body), nil
}

func newTestClient(t *testing.T, transport Transport) (*Client, *[]time.Duration) {
	t.Helper()
	client, err := New(Config{
		Endpoint:     "https://warehouse.example.com/",
		WarehouseID:  "wh-123",
		Auth:         staticAuth{},
		Transport:    transport,
		PollInterval: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	client.logger = slog.New(slog.DiscardHandler)
	client.newRequestID = func() string { return "req-1" }

	sleeps := &[]time.Duration{}
	client.sleep = func(ctx context.Context, d time.Duration) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		*sleeps = append(*sleeps, d)
		return nil
	}
	return client, sleeps
}

func stateBody(id string, state State) string {
	return fmt.Sprintf(`{"statement_id":%q,"state":%q}`, id, state)
}

func TestExecuteRawRejectsBlankQuery(t *testing.T) {
	transport := &scriptedTransport{}
	client, _ := newTestClient(t, transport)

	_, err := client.ExecuteRaw(context.Background(), "   ", nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ExecuteRaw() error = %v, want ErrInvalidArgument", err)
	}
	if len(transport.calls) != 0 {
		t.Fatalf("transport calls = %d, want 0", len(transport.calls))
	}
}

func TestExecuteRawPollsUntilTerminal(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{status: 200, body: stateBody("st-1", StatePending)},
		{status: 200, body: stateBody("st-1", StateRunning)},
		{status: 200, body: `{"statement_id":"st-1","state":"SUCCEEDED","result":{"row_count":0}}`},
	}}
	client, sleeps := newTestClient(t, transport)

	resp, err := client.ExecuteRaw(context.Background(), "SELECT 1", nil)
	if err != nil {
		t.Fatalf("ExecuteRaw() error = %v", err)
	}
	if resp.State != StateSucceeded {
		t.Fatalf("State = %q, want SUCCEEDED", resp.State)
	}
	if len(transport.calls) != 3 {
		t.Fatalf("transport calls = %d, want 3 (1 submit + 2 polls)", len(transport.calls))
	}
	if transport.calls[0].method != "POST" {
		t.Fatalf("first call method = %q, want POST", transport.calls[0].method)
	}
	for _, call := range transport.calls[1:] {
		if call.method != "GET" {
			t.Fatalf("poll method = %q, want GET", call.method)
		}
		if call.url != "https://warehouse.example.com/api/2.0/sql/statements/st-1" {
			t.Fatalf("poll url = %q", call.url)
		}
	}
	// One sleep per poll, none after the terminal state.
	if len(*sleeps) != 2 {
		t.Fatalf("sleeps = %v, want 2 poll-interval sleeps", *sleeps)
	}
	for _, d := range *sleeps {
		if d != 10*time.Second {
			t.Fatalf("poll sleep = %s, want 10s", d)
		}
	}
}

func TestExecuteRawStopsAtImmediateTerminalState(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{status: 200, body: stateBody("st-2", StateSucceeded)},
	}}
	client, sleeps := newTestClient(t, transport)

	resp, err := client.ExecuteRaw(context.Background(), "SELECT 1", nil)
	if err != nil {
		t.Fatalf("ExecuteRaw() error = %v", err)
	}
	if resp.State != StateSucceeded {
		t.Fatalf("State = %q", resp.State)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("transport calls = %d, want 1 (no poll after terminal submit)", len(transport.calls))
	}
	if len(*sleeps) != 0 {
		t.Fatalf("sleeps = %v, want none", *sleeps)
	}
}

func TestExecuteRawReturnsFailedStateWithoutError(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{status: 200, body: `{"statement_id":"st-3","state":"FAILED","error_message":"syntax error","error_code":"SYNTAX"}`},
	}}
	client, _ := newTestClient(t, transport)

	resp, err := client.ExecuteRaw(context.Background(), "SELEC 1", nil)
	if err != nil {
		t.Fatalf("ExecuteRaw() error = %v, want nil for terminal FAILED", err)
	}
	if resp.State != StateFailed {
		t.Fatalf("State = %q, want FAILED", resp.State)
	}
	if resp.ErrorMessage != "syntax error" {
		t.Fatalf("ErrorMessage = %q", resp.ErrorMessage)
	}
}

func TestRetryRecoversAfterTransportFailures(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{err: errors.New("connection reset")},
		{err: errors.New("connection reset")},
		{status: 200, body: stateBody("st-4", StateSucceeded)},
	}}
	client, sleeps := newTestClient(t, transport)

	resp, err := client.ExecuteRaw(context.Background(), "SELECT 1", nil)
	if err != nil {
		t.Fatalf("ExecuteRaw() error = %v", err)
	}
	if resp.State != StateSucceeded {
		t.Fatalf("State = %q", resp.State)
	}
	if len(transport.calls) != 3 {
		t.Fatalf("transport calls = %d, want 3", len(transport.calls))
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("retry sleeps = %v, want %v", *sleeps, want)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Fatalf("retry sleep %d = %s, want %s", i, (*sleeps)[i], d)
		}
	}
}

func TestRetryBudgetExhaustedReturnsTransportError(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{err: errors.New("boom")},
		{err: errors.New("boom")},
		{err: errors.New("boom")},
		{err: errors.New("boom")},
	}}
	client, sleeps := newTestClient(t, transport)

	_, err := client.ExecuteRaw(context.Background(), "SELECT 1", nil)
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("ExecuteRaw() error = %v, want *TransportError", err)
	}
	if transportErr.Attempts != 4 {
		t.Fatalf("Attempts = %d, want 4", transportErr.Attempts)
	}
	if len(transport.calls) != 4 {
		t.Fatalf("transport calls = %d, want 4", len(transport.calls))
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("retry sleeps = %v, want %v", *sleeps, want)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Fatalf("retry sleep %d = %s, want %s", i, (*sleeps)[i], d)
		}
	}
}

func TestAPIErrorIsNotRetried(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{status: 400, body: `{"message":"bad warehouse","error_code":"INVALID_PARAMETER_VALUE"}`},
	}}
	client, sleeps := newTestClient(t, transport)

	_, err := client.ExecuteRaw(context.Background(), "SELECT 1", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ExecuteRaw() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Code != "INVALID_PARAMETER_VALUE" {
		t.Fatalf("APIError = %+v", apiErr)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("transport calls = %d, want 1 (no retry on application error)", len(transport.calls))
	}
	if len(*sleeps) != 0 {
		t.Fatalf("sleeps = %v, want none", *sleeps)
	}
}

func TestExecuteRawPropagatesCancellationFromPollSleep(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{status: 200, body: stateBody("st-5", StateRunning)},
	}}
	client, _ := newTestClient(t, transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.ExecuteRaw(ctx, "SELECT 1", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ExecuteRaw() error = %v, want context.Canceled", err)
	}
	if len(transport.calls) != 1 {
		t.Fatalf("transport calls = %d, want 1 (no poll after cancellation)", len(transport.calls))
	}
}

func TestSubmitSendsAuthAndRequestHeaders(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{status: 200, body: stateBody("st-6", StateSucceeded)},
	}}
	client, _ := newTestClient(t, transport)

	if _, err := client.ExecuteRaw(context.Background(), "SELECT 1", map[string]string{"b": "2", "a": "1"}); err != nil {
		t.Fatalf("ExecuteRaw() error = %v", err)
	}
	call := transport.calls[0]
	if call.headers["Authorization"] != "Bearer test-token" {
		t.Fatalf("Authorization = %q", call.headers["Authorization"])
	}
	if call.headers["X-Request-Id"] != "req-1" {
		t.Fatalf("X-Request-Id = %q", call.headers["X-Request-Id"])
	}

	var request Request
	if err := json.Unmarshal(call.body, &request); err != nil {
		t.Fatalf("unmarshal submit body: %v", err)
	}
	if request.WarehouseID != "wh-123" {
		t.Fatalf("WarehouseID = %q", request.WarehouseID)
	}
	if request.TimeoutSeconds != 600 {
		t.Fatalf("TimeoutSeconds = %d, want 600", request.TimeoutSeconds)
	}
	if len(request.Parameters) != 2 {
		t.Fatalf("Parameters = %+v", request.Parameters)
	}
	// Bound in name order, all string typed.
	if request.Parameters[0].Name != "a" || request.Parameters[1].Name != "b" {
		t.Fatalf("parameter order = %+v", request.Parameters)
	}
	for _, p := range request.Parameters {
		if p.Type != "STRING" {
			t.Fatalf("parameter type = %q, want STRING", p.Type)
		}
	}
}

func TestCancelPostsToCancelEndpoint(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{status: 200, body: `{}`},
	}}
	client, _ := newTestClient(t, transport)

	if err := client.Cancel(context.Background(), "st-7"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	call := transport.calls[0]
	if call.method != "POST" {
		t.Fatalf("method = %q", call.method)
	}
	if call.url != "https://warehouse.example.com/api/2.0/sql/statements/st-7/cancel" {
		t.Fatalf("url = %q", call.url)
	}
}

func TestFetchExternalRows(t *testing.T) {
	transport := &scriptedTransport{replies: []scriptedReply{
		{status: 200, body: `[["1","alice"],["2","bob"]]`},
	}}
	client, _ := newTestClient(t, transport)

	rows, err := client.FetchExternalRows(context.Background(), ExternalLink{FileLink: "https://storage.example.com/chunk-0?sig=abc"})
	if err != nil {
		t.Fatalf("FetchExternalRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if auth := transport.calls[0].headers["Authorization"]; auth != "" {
		t.Fatalf("external link fetch sent Authorization = %q, want none", auth)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	base := Config{
		Endpoint:    "https://warehouse.example.com",
		WarehouseID: "wh-123",
		Auth:        staticAuth{},
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty endpoint", func(c *Config) { c.Endpoint = "" }},
		{"insecure endpoint", func(c *Config) { c.Endpoint = "http://warehouse.example.com" }},
		{"empty warehouse id", func(c *Config) { c.WarehouseID = " " }},
		{"missing auth", func(c *Config) { c.Auth = nil }},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if _, err := New(cfg); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s: New() error = %v, want ErrInvalidArgument", tc.name, err)
		}
	}

	client, err := New(base)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.endpoint != "https://warehouse.example.com" {
		t.Fatalf("endpoint = %q", client.endpoint)
	}
}
