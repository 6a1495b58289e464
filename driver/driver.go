// Package driver exposes a statement.Client through database/sql. There is
// no DSN form; build a client first and open a handle with sql.OpenDB:
//
//	client, _ := statement.New(statement.Config{...})
//	db := sql.OpenDB(driver.NewConnector(client))
//	rows, err := db.QueryContext(ctx, "SELECT * FROM t WHERE id = :id",
//		sql.Named("id", "42"))
//
// The warehouse API binds parameters by name only, so positional arguments
// are rejected. Transactions and prepared server-side statements are not
// supported by the wire protocol and return errors.
package driver

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lakequery/lakequery/statement"
)

type Connector struct {
	client *statement.Client
}

func NewConnector(client *statement.Client) *Connector {
	return &Connector{client: client}
}

func (c *Connector) Connect(context.Context) (driver.Conn, error) {
	return &conn{client: c.client}, nil
}

func (c *Connector) Driver() driver.Driver {
	return warehouseDriver{}
}

type warehouseDriver struct{}

func (warehouseDriver) Open(string) (driver.Conn, error) {
	return nil, fmt.Errorf("lakequery: DSN connections are not supported; use driver.NewConnector with sql.OpenDB")
}

type conn struct {
	client *statement.Client
}

var (
	_ driver.QueryerContext = (*conn)(nil)
	_ driver.ExecerContext  = (*conn)(nil)
)

func (c *conn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("lakequery: prepared statements are not supported")
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("lakequery: transactions are not supported")
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	params, err := namedParams(args)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.ExecuteRaw(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if resp.State != statement.StateSucceeded {
		return nil, &statement.ExecutionError{
			StatementID: resp.StatementID,
			State:       resp.State,
			Message:     resp.ErrorMessage,
			Code:        resp.ErrorCode,
		}
	}
	return newRows(resp.Result), nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	params, err := namedParams(args)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.ExecuteRaw(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if resp.State != statement.StateSucceeded {
		return nil, &statement.ExecutionError{
			StatementID: resp.StatementID,
			State:       resp.State,
			Message:     resp.ErrorMessage,
			Code:        resp.ErrorCode,
		}
	}
	return driver.ResultNoRows, nil
}

func namedParams(args []driver.NamedValue) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(args))
	for _, arg := range args {
		if arg.Name == "" {
			return nil, fmt.Errorf("lakequery: positional parameters are not supported; use sql.Named")
		}
		params[arg.Name] = fmt.Sprint(arg.Value)
	}
	return params, nil
}

type rows struct {
	columns []string
	data    [][]any
	index   int
}

func newRows(payload *statement.ResultPayload) *rows {
	r := &rows{}
	if payload != nil {
		r.columns = payload.ColumnNames()
		r.data = payload.Rows
	}
	return r
}

func (r *rows) Columns() []string { return r.columns }

func (r *rows) Close() error { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.index >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.index]
	r.index++
	for i := range dest {
		if i >= len(row) {
			dest[i] = nil
			continue
		}
		dest[i] = asDriverValue(row[i])
	}
	return nil
}

// asDriverValue keeps scalars as-is and renders composite values as JSON
// text, mirroring how the wire format carries nested results.
func asDriverValue(value any) driver.Value {
	switch v := value.(type) {
	case nil, bool, float64, int64, string, []byte:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
}
