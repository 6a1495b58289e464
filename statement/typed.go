package statement

import (
	"context"
	"log/slog"

	"github.com/lakequery/lakequery/decode"
	"github.com/lakequery/lakequery/internal/observability"
)

// ExecuteTyped runs query and decodes every result row into T, preserving row
// order. A terminal state other than SUCCEEDED returns *ExecutionError. Rows
// that cannot be decoded are logged and skipped rather than failing the
// query; a malformed row costs that row, never the result set.
func ExecuteTyped[T any](ctx context.Context, c *Client, query string, params map[string]string) ([]T, error) {
	items := []T{}
	err := ExecuteStream(ctx, c, query, params, func(item T) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ExecuteStream runs query and invokes onRow once per decoded row, in row
// order, one at a time: each callback returns before the next row is decoded.
// An error from onRow stops the stream and is returned as-is. Failure
// semantics match ExecuteTyped, including the skip of undecodable rows.
func ExecuteStream[T any](ctx context.Context, c *Client, query string, params map[string]string, onRow func(T) error) error {
	resp, err := c.ExecuteRaw(ctx, query, params)
	if err != nil {
		return err
	}
	if resp.State != StateSucceeded {
		return &ExecutionError{
			StatementID: resp.StatementID,
			State:       resp.State,
			Message:     resp.ErrorMessage,
			Code:        resp.ErrorCode,
		}
	}
	if resp.Result == nil || len(resp.Result.Rows) == 0 {
		return nil
	}

	columns := resp.Result.ColumnNames()
	for index, row := range resp.Result.Rows {
		record, err := decode.Row[T](columns, row)
		if err != nil {
			observability.IncrementRowSkipped()
			c.logger.Warn("skipping undecodable row",
				slog.String("statement_id", resp.StatementID),
				slog.Int("row", index),
				slog.Any("error", err))
			continue
		}
		if record == nil {
			observability.IncrementRowSkipped()
			continue
		}
		observability.AddRowsDecoded(1)
		if err := onRow(*record); err != nil {
			return err
		}
	}
	return nil
}
