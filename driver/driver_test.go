package driver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/lakequery/lakequery/statement"
)

type fakeAuth struct{}

func (fakeAuth) AuthorizationHeader(context.Context) (string, error) {
	return "Bearer test-token", nil
}

type fakeTransport struct {
	replies []string
	bodies  [][]byte
}

func (t *fakeTransport) RoundTrip(_ context.Context, _, _ string, _ map[string]string, body []byte) (int, []byte, error) {
	t.bodies = append(t.bodies, body)
	if len(t.replies) == 0 {
		return 0, nil, fmt.Errorf("fake transport exhausted")
	}
	reply := t.replies[0]
	t.replies = t.replies[1:]
	return 200, []byte(reply), nil
}

func newDB(t *testing.T, transport statement.Transport) *sql.DB {
	t.Helper()
	client, err := statement.New(statement.Config{
		Endpoint:     "https://warehouse.example.com",
		WarehouseID:  "wh-123",
		Auth:         fakeAuth{},
		Transport:    transport,
		PollInterval: time.Millisecond,
		Logger:       slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("statement.New() error = %v", err)
	}
	return sql.OpenDB(NewConnector(client))
}

func TestQueryContextScansRows(t *testing.T) {
	transport := &fakeTransport{replies: []string{`{
		"statement_id": "st-1",
		"state": "SUCCEEDED",
		"result": {
			"result_columns": [
				{"name": "id", "type_text": "INT", "position": 0},
				{"name": "name", "type_text": "STRING", "position": 1}
			],
			"data_array": [[1, "alice"], [2, "bob"]],
			"row_count": 2
		}
	}`}}
	db := newDB(t, transport)
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(context.Background(), "SELECT id, name FROM users WHERE org = :org", sql.Named("org", "acme"))
	if err != nil {
		t.Fatalf("QueryContext() error = %v", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		t.Fatalf("Columns() error = %v", err)
	}
	if len(columns) != 2 || columns[0] != "id" || columns[1] != "name" {
		t.Fatalf("Columns() = %v", columns)
	}

	var ids []int
	var names []string
	for rows.Next() {
		var id int
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		ids = append(ids, id)
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows.Err() = %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("ids = %v", ids)
	}
	if names[0] != "alice" || names[1] != "bob" {
		t.Fatalf("names = %v", names)
	}
}

func TestQueryContextRejectsPositionalArgs(t *testing.T) {
	db := newDB(t, &fakeTransport{})
	defer func() { _ = db.Close() }()

	_, err := db.QueryContext(context.Background(), "SELECT * FROM t WHERE id = ?", 5)
	if err == nil {
		t.Fatal("QueryContext() error = nil, want rejection of positional args")
	}
}

func TestQueryContextSurfacesExecutionFailure(t *testing.T) {
	transport := &fakeTransport{replies: []string{
		`{"statement_id":"st-2","state":"FAILED","error_message":"table not found","error_code":"TABLE_NOT_FOUND"}`,
	}}
	db := newDB(t, transport)
	defer func() { _ = db.Close() }()

	_, err := db.QueryContext(context.Background(), "SELECT * FROM missing")
	var execErr *statement.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("QueryContext() error = %v, want *statement.ExecutionError", err)
	}
	if execErr.Code != "TABLE_NOT_FOUND" {
		t.Fatalf("Code = %q", execErr.Code)
	}
}

func TestExecContext(t *testing.T) {
	transport := &fakeTransport{replies: []string{
		`{"statement_id":"st-3","state":"SUCCEEDED"}`,
	}}
	db := newDB(t, transport)
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(context.Background(), "CREATE TABLE t (id INT)"); err != nil {
		t.Fatalf("ExecContext() error = %v", err)
	}
}

func TestTransactionsUnsupported(t *testing.T) {
	db := newDB(t, &fakeTransport{})
	defer func() { _ = db.Close() }()

	if _, err := db.Begin(); err == nil {
		t.Fatal("Begin() error = nil, want unsupported")
	}
}
