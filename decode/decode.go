// Package decode converts untyped result rows into caller-defined record
// types. A row is paired with its column names positionally to form a
// name-keyed map, which is then round-tripped through JSON into the target
// type. encoding/json supplies the matching rules: exact or case-insensitive
// field-name matches, with `json:"..."` tags as explicit overrides. Columns
// with no matching field are ignored and fields with no matching column keep
// their zero value.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error reports a row that could not be assembled into the target type at
// all. Individual field type mismatches that JSON decoding can absorb are
// not errors; callers are expected to treat an Error as "skip this row".
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode row: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode row: %s", e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RowMap pairs row values with column names positionally. The row and column
// lists must be the same length.
func RowMap(columns []string, row []any) (map[string]any, error) {
	if len(columns) != len(row) {
		return nil, &Error{Reason: fmt.Sprintf("row has %d values but %d columns", len(row), len(columns))}
	}
	record := make(map[string]any, len(columns))
	for i, name := range columns {
		record[name] = row[i]
	}
	return record, nil
}

// Row decodes one row into T. A nil result with a nil error means the row
// carried nothing usable (every value null); callers drop such rows.
func Row[T any](columns []string, row []any) (*T, error) {
	record, err := RowMap(columns, row)
	if err != nil {
		return nil, err
	}
	if allNull(row) {
		return nil, nil
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return nil, &Error{Reason: "row is not representable as JSON", Err: err}
	}

	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		// A type mismatch on one field leaves the rest of the record
		// decoded; keep the partial result rather than losing the row.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return out, nil
		}
		return nil, &Error{Reason: "row does not fit target type", Err: err}
	}
	return out, nil
}

func allNull(row []any) bool {
	for _, value := range row {
		if value != nil {
			return false
		}
	}
	return len(row) > 0
}
