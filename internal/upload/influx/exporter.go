package influx

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/wattline/wattline-core/internal/datalog"
	"github.com/wattline/wattline-core/internal/infrastructure/logging"
	"github.com/wattline/wattline-core/internal/measure"
	"github.com/wattline/wattline-core/internal/upload"
)

// Tick pacing.
const (
	// yieldDelay is the delay between productive ticks.
	yieldDelay = 10 * time.Millisecond

	// idleDelay is used when there is no new data to export yet.
	idleDelay = time.Second
)

// Writer is the point sink the exporter writes to.
//
// *Client satisfies it; tests substitute recording fakes.
type Writer interface {
	WriteRate(device, sensor string, unit measure.Unit, value float64, ts time.Time)
	Flush()
}

// Config carries the resolved settings for one Exporter instance.
//
// StartDate is the configured cutoff as epoch seconds, 0 for none.
type Config struct {
	DeviceName string
	Interval   int64
	BulkSend   int64
	StartDate  int64
}

// Exporter drives the InfluxDB backend as a cooperative uploader.
//
// The cursor is in-memory only: it seeds from the later of the start
// date and the oldest local record, and advances as points are handed
// to the writer. Delivery is the writer's responsibility; replayed
// points after a restart overwrite identically-tagged points at the
// same timestamp, so the weaker cursor does not corrupt the store.
//
// Thread Safety: Tick must be called from a single goroutine. Stop,
// Stopped and Status are safe from any goroutine.
type Exporter struct {
	cfg          Config
	log          upload.Log
	measurements []measure.Measurement
	writer       Writer
	logger       *logging.Logger

	// Owned by the Tick goroutine.
	resolved bool
	cursor   int64
	oldSnap  datalog.Snapshot

	// Shared with observer goroutines.
	mu      sync.Mutex
	stopReq bool
	halted  bool
	message string
	status  upload.Status
}

// NewExporter creates an InfluxDB exporter.
//
// Parameters:
//   - cfg: Resolved backend settings
//   - log: Read-only datalog view
//   - measurements: Measurement collection to export
//   - w: Point sink, usually *Client
//   - logger: Structured logger; nil uses the default
//
// Returns:
//   - *Exporter: Exporter ready for ticking
func NewExporter(cfg Config, log upload.Log, measurements []measure.Measurement, w Writer, logger *logging.Logger) *Exporter {
	if cfg.BulkSend <= 0 {
		cfg.BulkSend = 1
	}
	if logger == nil {
		logger = logging.Default()
	}

	sorted := make([]measure.Measurement, len(measurements))
	copy(sorted, measurements)
	measure.Sort(sorted)

	e := &Exporter{
		cfg:          cfg,
		log:          log,
		measurements: sorted,
		writer:       w,
		logger:       logger.With("component", "influxdb"),
	}
	e.publishStatus()
	return e
}

// ID identifies the backend.
func (e *Exporter) ID() string { return "influxdb" }

// Stop requests cooperative shutdown. Pending points are flushed when
// the machine halts at the next tick boundary.
func (e *Exporter) Stop() {
	e.mu.Lock()
	e.stopReq = true
	e.mu.Unlock()
}

// Stopped reports whether the exporter has halted.
func (e *Exporter) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Status returns the latest retained status.
func (e *Exporter) Status() upload.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// RecordWriteError retains an async write failure in the status.
//
// Intended as the client's error callback:
//
//	client.SetOnError(exporter.RecordWriteError)
func (e *Exporter) RecordWriteError(err error) {
	e.mu.Lock()
	e.message = fmt.Sprintf("write failed: %v", err)
	e.mu.Unlock()
	e.logger.Warn("async write failed", "error", err)
}

// Tick runs one export step.
//
// Returns:
//   - time.Duration: Delay until the next tick; 0 once stopped
func (e *Exporter) Tick(ctx context.Context) time.Duration {
	e.mu.Lock()
	stop := e.stopReq
	e.mu.Unlock()

	if stop {
		if !e.Stopped() {
			e.halt()
		}
		return 0
	}

	if !e.resolved {
		return e.tickResolve(ctx)
	}
	return e.tickExport(ctx)
}

// tickResolve seeds the cursor once the log has data.
func (e *Exporter) tickResolve(ctx context.Context) time.Duration {
	firstKey := e.log.FirstKey()
	if firstKey == 0 {
		return idleDelay
	}

	cursor := e.cfg.StartDate
	if firstKey > cursor {
		cursor = firstKey
	}
	if e.cfg.Interval > 0 {
		cursor -= cursor % e.cfg.Interval
	}

	old, err := e.log.ReadAt(ctx, cursor)
	if err != nil {
		e.setMessage(fmt.Sprintf("datalog read failed: %v", err))
		return idleDelay
	}

	e.cursor = cursor
	e.oldSnap = old
	e.resolved = true
	e.publishStatus()
	e.logger.Info("export cursor seeded", "cursor", cursor)
	return yieldDelay
}

// tickExport writes up to one bulk window of points.
func (e *Exporter) tickExport(ctx context.Context) time.Duration {
	if e.log.LastKey() < e.cursor+e.cfg.Interval {
		return idleDelay
	}

	for n := int64(0); n < e.cfg.BulkSend; n++ {
		next := e.cursor + e.cfg.Interval
		if next > e.log.LastKey() {
			break
		}

		snap, err := e.log.ReadAt(ctx, next)
		if err != nil {
			e.setMessage(fmt.Sprintf("datalog read failed: %v", err))
			return idleDelay
		}

		if snap.LogHours > e.oldSnap.LogHours {
			ts := time.Unix(next, 0).UTC()
			for _, m := range e.measurements {
				value := m.Run(e.oldSnap, snap)
				if math.IsNaN(value) {
					continue
				}
				e.writer.WriteRate(e.cfg.DeviceName, m.Name(), m.Unit(), value, ts)
			}
		}

		e.oldSnap = snap
		e.cursor = next
	}

	e.publishStatus()
	return yieldDelay
}

// halt flushes pending points and moves to the terminal state.
func (e *Exporter) halt() {
	e.writer.Flush()

	e.mu.Lock()
	e.halted = true
	e.mu.Unlock()
	e.publishStatus()

	e.logger.Info("stopped", "cursor", e.cursor)
}

func (e *Exporter) setMessage(msg string) {
	e.mu.Lock()
	e.message = msg
	e.mu.Unlock()
	e.publishStatus()
}

// publishStatus snapshots the current state into the retained status.
func (e *Exporter) publishStatus() {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := "exporting"
	if e.halted {
		state = "stopped"
	} else if !e.resolved {
		state = "resolving"
	}

	e.status = upload.Status{
		State:     state,
		LastSent:  e.cursor,
		Message:   e.message,
		UpdatedAt: time.Now(),
	}
}
