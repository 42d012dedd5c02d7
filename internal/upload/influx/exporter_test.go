package influx

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/wattline/wattline-core/internal/datalog"
	"github.com/wattline/wattline-core/internal/measure"
)

// staticMeasurement reports a constant value regardless of the window.
type staticMeasurement struct {
	name  string
	unit  measure.Unit
	value float64
}

func (m staticMeasurement) Name() string                      { return m.name }
func (m staticMeasurement) Unit() measure.Unit                { return m.unit }
func (m staticMeasurement) Precision() int                    { return 2 }
func (m staticMeasurement) Run(_, _ datalog.Snapshot) float64 { return m.value }

// recordedPoint is one WriteRate call.
type recordedPoint struct {
	device string
	sensor string
	unit   measure.Unit
	value  float64
	ts     time.Time
}

// fakeWriter records every point and flush.
type fakeWriter struct {
	points  []recordedPoint
	flushes int
}

func (w *fakeWriter) WriteRate(device, sensor string, unit measure.Unit, value float64, ts time.Time) {
	w.points = append(w.points, recordedPoint{device, sensor, unit, value, ts})
}

func (w *fakeWriter) Flush() { w.flushes++ }

// fakeLog serves synthetic snapshots for any key in [first, last].
type fakeLog struct {
	first, last int64
	hoursAt     func(key int64) float64
}

func (l *fakeLog) ReadAt(_ context.Context, key int64) (datalog.Snapshot, error) {
	return datalog.Snapshot{UNIXTime: key, LogHours: l.hoursAt(key)}, nil
}

func (l *fakeLog) FirstKey() int64 { return l.first }
func (l *fakeLog) LastKey() int64  { return l.last }

var base = time.Date(2023, 10, 15, 14, 30, 0, 0, time.UTC).Unix()

func tickN(e *Exporter, n int) {
	for i := 0; i < n; i++ {
		e.Tick(context.Background())
	}
}

// =============================================================================
// Cursor seeding
// =============================================================================

func TestExporter_SeedsCursorFromFirstKey(t *testing.T) {
	log := &fakeLog{first: base + 25, last: base + 25, hoursAt: func(int64) float64 { return 0 }}
	e := NewExporter(Config{DeviceName: "house", Interval: 60}, log, nil, &fakeWriter{}, nil)

	e.Tick(context.Background())

	// base+25 floors to base.
	if got := e.Status().LastSent; got != base {
		t.Errorf("cursor = %d, want %d", got, base)
	}
	if got := e.Status().State; got != "exporting" {
		t.Errorf("state = %q, want exporting", got)
	}
}

func TestExporter_StartDateOverridesOlderData(t *testing.T) {
	log := &fakeLog{first: base - 86400, last: base, hoursAt: func(int64) float64 { return 0 }}
	e := NewExporter(Config{DeviceName: "house", Interval: 60, StartDate: base}, log, nil, &fakeWriter{}, nil)

	e.Tick(context.Background())

	if got := e.Status().LastSent; got != base {
		t.Errorf("cursor = %d, want start date %d", got, base)
	}
}

func TestExporter_WaitsForNonEmptyLog(t *testing.T) {
	log := &fakeLog{hoursAt: func(int64) float64 { return 0 }}
	e := NewExporter(Config{DeviceName: "house", Interval: 60}, log, nil, &fakeWriter{}, nil)

	if got := e.Tick(context.Background()); got != idleDelay {
		t.Errorf("delay on empty log = %v, want %v", got, idleDelay)
	}
	if got := e.Status().State; got != "resolving" {
		t.Errorf("state = %q, want resolving", got)
	}
}

// =============================================================================
// Export
// =============================================================================

func TestExporter_WritesPointPerMeasurement(t *testing.T) {
	log := &fakeLog{
		first:   base,
		last:    base + 60,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	w := &fakeWriter{}
	measurements := []measure.Measurement{
		staticMeasurement{name: "main", unit: measure.UnitWatts, value: 1500},
		staticMeasurement{name: "main", unit: measure.UnitVolts, value: 240},
	}
	e := NewExporter(Config{DeviceName: "house", Interval: 60}, log, measurements, w, nil)

	tickN(e, 2)

	if len(w.points) != 2 {
		t.Fatalf("points = %d, want 2", len(w.points))
	}
	wantTS := time.Unix(base+60, 0).UTC()
	for _, p := range w.points {
		if p.device != "house" || p.sensor != "main" {
			t.Errorf("point tags = %s/%s, want house/main", p.device, p.sensor)
		}
		if !p.ts.Equal(wantTS) {
			t.Errorf("point ts = %v, want %v", p.ts, wantTS)
		}
	}
	if w.points[0].unit != measure.UnitWatts || w.points[0].value != 1500 {
		t.Errorf("first point = %+v, want Watts 1500", w.points[0])
	}
	if got := e.Status().LastSent; got != base+60 {
		t.Errorf("cursor = %d, want %d", got, base+60)
	}
}

func TestExporter_SkipsNaN(t *testing.T) {
	log := &fakeLog{
		first:   base,
		last:    base + 60,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	w := &fakeWriter{}
	measurements := []measure.Measurement{
		staticMeasurement{name: "main", unit: measure.UnitWatts, value: math.NaN()},
		staticMeasurement{name: "main", unit: measure.UnitVolts, value: 240},
	}
	e := NewExporter(Config{DeviceName: "house", Interval: 60}, log, measurements, w, nil)

	tickN(e, 2)

	if len(w.points) != 1 {
		t.Fatalf("points = %d, want 1", len(w.points))
	}
	if w.points[0].unit != measure.UnitVolts {
		t.Errorf("point unit = %v, want Volts", w.points[0].unit)
	}
}

func TestExporter_BulkSendBoundsWorkPerTick(t *testing.T) {
	log := &fakeLog{
		first:   base,
		last:    base + 600,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	w := &fakeWriter{}
	measurements := []measure.Measurement{
		staticMeasurement{name: "main", unit: measure.UnitWatts, value: 100},
	}
	e := NewExporter(Config{DeviceName: "house", Interval: 60, BulkSend: 3}, log, measurements, w, nil)

	tickN(e, 2) // resolve + first export tick
	if len(w.points) != 3 {
		t.Errorf("points after one export tick = %d, want 3", len(w.points))
	}

	tickN(e, 4)
	if len(w.points) != 10 {
		t.Errorf("points after catch-up = %d, want 10", len(w.points))
	}
	if got := e.Status().LastSent; got != base+600 {
		t.Errorf("cursor = %d, want %d", got, base+600)
	}
}

func TestExporter_SkipsWindowWithNoLoggedTime(t *testing.T) {
	log := &fakeLog{
		first:   base,
		last:    base + 120,
		hoursAt: func(int64) float64 { return 42 },
	}
	w := &fakeWriter{}
	measurements := []measure.Measurement{
		staticMeasurement{name: "main", unit: measure.UnitWatts, value: 100},
	}
	e := NewExporter(Config{DeviceName: "house", Interval: 60, BulkSend: 5}, log, measurements, w, nil)

	tickN(e, 3)

	if len(w.points) != 0 {
		t.Errorf("points = %d, want 0 for an empty window", len(w.points))
	}
	if got := e.Status().LastSent; got != base+120 {
		t.Errorf("cursor = %d, want %d past the empty window", got, base+120)
	}
}

// =============================================================================
// Shutdown and error retention
// =============================================================================

func TestExporter_StopFlushesAndHalts(t *testing.T) {
	log := &fakeLog{first: base, last: base, hoursAt: func(int64) float64 { return 0 }}
	w := &fakeWriter{}
	e := NewExporter(Config{DeviceName: "house", Interval: 60}, log, nil, w, nil)

	e.Tick(context.Background())
	e.Stop()

	if got := e.Tick(context.Background()); got != 0 {
		t.Errorf("Tick after Stop = %v, want 0", got)
	}
	if !e.Stopped() {
		t.Error("Stopped() = false after halt")
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
	if got := e.Status().State; got != "stopped" {
		t.Errorf("state = %q, want stopped", got)
	}
}

func TestExporter_RetainsAsyncWriteError(t *testing.T) {
	log := &fakeLog{first: base, last: base, hoursAt: func(int64) float64 { return 0 }}
	e := NewExporter(Config{DeviceName: "house", Interval: 60}, log, nil, &fakeWriter{}, nil)

	e.RecordWriteError(context.DeadlineExceeded)
	e.Tick(context.Background())

	if msg := e.Status().Message; msg == "" {
		t.Error("Message empty after async write error")
	}
}
