package postgrest

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/wattline/wattline-core/internal/datalog"
	"github.com/wattline/wattline-core/internal/measure"
)

// nullLiteral marks an absent value column.
const nullLiteral = "NULL"

// RowEncoder serializes measurements for interval ticks into fixed-schema
// CSV rows.
//
// The measurement list is sorted once at construction (by name, then unit
// ordinal) so that same-named measurements are contiguous and unit
// columns come out in canonical order. The active unit set derived from
// the sorted list fixes the value-column width of every row: each row
// carries exactly one column per active unit, NULL where the sensor has
// no value for that unit.
//
// The encoder is purely a text producer; it has no knowledge of transport
// or retry, and encoding the same window twice yields byte-identical
// output.
type RowEncoder struct {
	measurements []measure.Measurement
	active       measure.ActiveUnits
	deviceName   string
	header       string
}

// NewRowEncoder creates an encoder over the supplied measurements.
//
// The list is copied and sorted; the caller's slice is not modified.
//
// Parameters:
//   - measurements: Externally supplied measurement collection
//   - deviceName: Resolved device name for the device column
//
// Returns:
//   - *RowEncoder: Encoder ready for use
func NewRowEncoder(measurements []measure.Measurement, deviceName string) *RowEncoder {
	sorted := make([]measure.Measurement, len(measurements))
	copy(sorted, measurements)
	measure.Sort(sorted)

	active := measure.DeriveActiveUnits(sorted)

	var header strings.Builder
	header.WriteString("timestamp,device,sensor")
	for _, unit := range active.Units() {
		header.WriteByte(',')
		header.WriteString(unit.String())
	}

	return &RowEncoder{
		measurements: sorted,
		active:       active,
		deviceName:   deviceName,
		header:       header.String(),
	}
}

// Header returns the CSV header row (no trailing newline).
func (e *RowEncoder) Header() string {
	return e.header
}

// ActiveUnitCount returns the fixed number of value columns per row.
func (e *RowEncoder) ActiveUnitCount() int {
	return e.active.Count()
}

// EncodeTick appends the rows for one interval tick to buf.
//
// It evaluates every measurement over the snapshot pair and multiplexes
// the results into one row per (timestamp, sensor) pair. A measurement
// evaluating to NaN is skipped entirely: no column is written and the
// unit index does not advance. A duplicate unit for the same sensor is
// silently dropped; the schema has one column per unit.
//
// Each row is written as "\n" + data; the caller owns the header and any
// trailing newline.
//
// Parameters:
//   - buf: Batch buffer to append to
//   - timestamp: Pre-formatted timestamp for the rows
//   - old: Snapshot at the start of the tick window
//   - new: Snapshot at the end of the tick window
func (e *RowEncoder) EncodeTick(buf *bytes.Buffer, timestamp string, old, new datalog.Snapshot) {
	if len(e.measurements) == 0 {
		return
	}

	// Open the first row under the first measurement's sensor name.
	sensor := e.measurements[0].Name()
	e.openRow(buf, timestamp, sensor)
	unitIndex := 0

	for _, m := range e.measurements {
		value := m.Run(old, new)
		if math.IsNaN(value) {
			continue
		}

		// A new sensor name closes the current row and opens the next.
		if m.Name() != sensor {
			unitIndex = e.fillNull(buf, unitIndex, measure.UnitCount)
			sensor = m.Name()
			e.openRow(buf, timestamp, sensor)
			unitIndex = 0
		}

		// NULL-fill active units the sensor skips before this one.
		unitIndex = e.fillNull(buf, unitIndex, int(m.Unit()))

		// Write the value unless this unit was already written for the
		// row (duplicate units are unsupported by the schema).
		if unitIndex == int(m.Unit()) {
			fmt.Fprintf(buf, ",%.*f", m.Precision(), value)
			unitIndex++
		}
	}

	// Close the final row.
	e.fillNull(buf, unitIndex, measure.UnitCount)
}

// openRow writes a row prefix: newline, timestamp, device, sensor.
func (e *RowEncoder) openRow(buf *bytes.Buffer, timestamp, sensor string) {
	buf.WriteByte('\n')
	buf.WriteString(timestamp)
	buf.WriteByte(',')
	buf.WriteString(e.deviceName)
	buf.WriteByte(',')
	buf.WriteString(sensor)
}

// fillNull writes NULL for every active unit with ordinal in [from, to)
// and returns the advanced unit index.
func (e *RowEncoder) fillNull(buf *bytes.Buffer, from, to int) int {
	for ; from < to; from++ {
		if e.active[from] {
			buf.WriteByte(',')
			buf.WriteString(nullLiteral)
		}
	}
	return from
}
