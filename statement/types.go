package statement

// State is the lifecycle state of a submitted statement. PENDING and RUNNING
// both mean "keep polling"; the remaining states are terminal and absorbing.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateSucceeded State = "SUCCEEDED"
	StateFailed    State = "FAILED"
	StateCanceled  State = "CANCELED"
)

func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// Parameter is one named, typed statement binding.
type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Type  string `json:"type"`
}

// Request is the statement submission body. Built fresh per call and never
// mutated after submission.
type Request struct {
	Statement      string      `json:"statement"`
	WarehouseID    string      `json:"warehouse_id"`
	Parameters     []Parameter `json:"parameters,omitempty"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	RowLimit       int         `json:"row_limit,omitempty"`
	Disposition    string      `json:"disposition,omitempty"`
}

// Response is one immutable snapshot of a statement. Each poll produces a new
// snapshot; a snapshot handed to a caller is never modified afterwards.
type Response struct {
	StatementID  string         `json:"statement_id"`
	State        State          `json:"state"`
	Result       *ResultPayload `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
}

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name     string `json:"name"`
	TypeText string `json:"type_text"`
	Position int    `json:"position"`
}

// ExternalLink points at an oversized result chunk stored outside the
// response. The link is presigned; fetching it needs no Authorization header.
type ExternalLink struct {
	FileLink       string `json:"fileLink"`
	ExpirationTime string `json:"expirationTime"`
	FilePath       string `json:"filePath"`
	FileSize       int64  `json:"fileSize"`
}

// Stats carries server-side execution statistics when the warehouse reports
// them.
type Stats struct {
	ExecutionDurationMs int64 `json:"executionDurationMs"`
	RowsRead            int64 `json:"rowsRead"`
	RowsWritten         int64 `json:"rowsWritten"`
	BytesRead           int64 `json:"bytesRead"`
	BytesWritten        int64 `json:"bytesWritten"`
}

// ResultPayload holds inline rows and/or external links. When both columns
// and rows are present every row has exactly one value per column.
type ResultPayload struct {
	Columns       []ColumnInfo   `json:"result_columns,omitempty"`
	Rows          [][]any        `json:"data_array,omitempty"`
	RowCount      int64          `json:"row_count,omitempty"`
	ExternalLinks []ExternalLink `json:"external_links,omitempty"`
	Stats         *Stats         `json:"statementStats,omitempty"`
}

// ColumnNames returns column names in declared order.
func (p *ResultPayload) ColumnNames() []string {
	names := make([]string, len(p.Columns))
	for i, column := range p.Columns {
		names[i] = column.Name
	}
	return names
}
