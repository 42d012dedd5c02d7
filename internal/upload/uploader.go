package upload

import (
	"context"
	"time"

	"github.com/wattline/wattline-core/internal/datalog"
)

// Log is the read-only view of the local datalog that uploaders consume.
//
// FirstKey and LastKey return 0 when the log is empty. ReadAt may
// interpolate between stored records; see datalog.Store.
type Log interface {
	ReadAt(ctx context.Context, key int64) (datalog.Snapshot, error)
	FirstKey() int64
	LastKey() int64
}

// Status is the latest human-readable state of an uploader, retained for
// external observability. Message holds the most recent failure detail
// (code plus truncated response body) and clears on success.
type Status struct {
	// State names the uploader's current state machine state.
	State string `json:"state"`

	// LastSent is the resume cursor: data at or before this epoch second
	// is assumed durably stored remotely. 0 before resolution.
	LastSent int64 `json:"last_sent"`

	// Message is the latest failure detail, empty when healthy.
	Message string `json:"message,omitempty"`

	// UpdatedAt is when this status was produced.
	UpdatedAt time.Time `json:"updated_at"`
}

// Uploader is one upload backend instance.
//
// Tick is the cooperative entry point: it runs one slice of work and
// returns how long the caller should wait before the next invocation.
// Stop requests a cooperative shutdown; the state machine observes it at
// state boundaries and releases resources, it does not interrupt an
// in-flight request.
type Uploader interface {
	// ID identifies the backend ("postgrest", "influxdb").
	ID() string

	// Tick runs one state machine step and returns the delay until the
	// next step.
	Tick(ctx context.Context) time.Duration

	// Stop requests cooperative shutdown.
	Stop()

	// Stopped reports whether the state machine has halted.
	Stopped() bool

	// Status returns the latest retained status.
	Status() Status
}
