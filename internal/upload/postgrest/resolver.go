package postgrest

import (
	"encoding/json"
	"fmt"
)

// ResumeResolver computes where uploading should continue after a restart.
//
// It queries the remote table for the newest row belonging to this device
// and combines the answer with the configured start date and the oldest
// locally available record. The result is floored to the upload interval
// so the first new row lands on an interval boundary.
type ResumeResolver struct {
	schema     string
	table      string
	deviceName string
	startDate  int64
	interval   int64
}

// NewResumeResolver creates a resolver.
//
// Parameters:
//   - schema: PostgreSQL schema, empty for the default exposed schema
//   - table: Target table name
//   - deviceName: Resolved device name used in the row filter
//   - startDate: Configured earliest upload epoch, 0 for none
//   - interval: Upload interval in seconds
func NewResumeResolver(schema, table, deviceName string, startDate, interval int64) *ResumeResolver {
	return &ResumeResolver{
		schema:     schema,
		table:      table,
		deviceName: deviceName,
		startDate:  startDate,
		interval:   interval,
	}
}

// EndpointPath returns the request path for the table endpoint.
//
// The default "public" schema is addressed without a prefix; any other
// schema is addressed as "schema.table".
func (r *ResumeResolver) EndpointPath() string {
	if r.schema == "" || r.schema == "public" {
		return "/" + r.table
	}
	return "/" + r.schema + "." + r.table
}

// QueryPath returns the request path that fetches the newest row for this
// device: only the timestamp column, newest first, at most one row.
func (r *ResumeResolver) QueryPath() string {
	return fmt.Sprintf("%s?select=timestamp&device=eq.%s&order=timestamp.desc&limit=1",
		r.EndpointPath(), r.deviceName)
}

// Resolve derives the resume point from a query response body.
//
// The body is expected to be a JSON array with zero or one element
// carrying a "timestamp" member. An empty array, a malformed body or an
// unparseable timestamp all degrade to "no remote history" rather than
// an error; the resolver then falls back to the start date and the
// oldest local record. The result is floored to the upload interval.
//
// Parameters:
//   - body: Response body of the query request
//   - firstKey: Oldest key available in the local datalog
//
// Returns:
//   - int64: Epoch to resume from, aligned to the upload interval
func (r *ResumeResolver) Resolve(body []byte, firstKey int64) int64 {
	var rows []struct {
		Timestamp string `json:"timestamp"`
	}

	var parsed int64
	if err := json.Unmarshal(body, &rows); err == nil && len(rows) > 0 {
		parsed = ParseTimestamp(rows[0].Timestamp)
	}

	resume := parsed
	if r.startDate > resume {
		resume = r.startDate
	}
	if firstKey > resume {
		resume = firstKey
	}
	if r.interval > 0 {
		resume -= resume % r.interval
	}
	return resume
}
