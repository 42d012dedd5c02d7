package measure

import (
	"sort"

	"github.com/wattline/wattline-core/internal/datalog"
)

// Measurement evaluates one named, unit-tagged value over a pair of
// datalog snapshots.
//
// Implementations must be stateless with respect to evaluation: Run may
// be called repeatedly for the same window (failed uploads re-encode)
// and must return the same value.
type Measurement interface {
	// Name is the sensor identity the value is reported under.
	Name() string

	// Unit is the measurement's unit category.
	Unit() Unit

	// Precision is the number of decimal places for display output.
	Precision() int

	// Run evaluates the measurement over the window [old, new].
	// It returns NaN when there is nothing to report for this window.
	Run(old, new datalog.Snapshot) float64
}

// Sort orders measurements by name, then unit ordinal.
//
// This makes same-named measurements contiguous and gives unit columns a
// deterministic order, which tabular uploaders rely on to combine
// multiple units of one sensor into a single row. Sorting is stable and
// performed in place.
func Sort(list []Measurement) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Name() != list[j].Name() {
			return list[i].Name() < list[j].Name()
		}
		return list[i].Unit() < list[j].Unit()
	})
}

// ActiveUnits is the set of unit categories that appear in output at all.
// It is derived once from the sorted measurement list and fixes the
// value-column width of every row.
type ActiveUnits [UnitCount]bool

// DeriveActiveUnits computes the active unit set for a measurement list.
func DeriveActiveUnits(list []Measurement) ActiveUnits {
	var active ActiveUnits
	for _, m := range list {
		if m.Unit().Valid() {
			active[m.Unit()] = true
		}
	}
	return active
}

// Count returns the number of active unit categories.
func (a ActiveUnits) Count() int {
	n := 0
	for _, on := range a {
		if on {
			n++
		}
	}
	return n
}

// Units returns the active unit categories in canonical order.
func (a ActiveUnits) Units() []Unit {
	units := make([]Unit, 0, a.Count())
	for i, on := range a {
		if on {
			units = append(units, Unit(i))
		}
	}
	return units
}
