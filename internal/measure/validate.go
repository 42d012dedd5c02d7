package measure

// Warner receives configuration-time warnings.
// Compatible with logging.Logger and slog.Logger.
type Warner interface {
	Warn(msg string, args ...any)
}

// Validate checks a sorted measurement list for configuration problems.
//
// A duplicated (sensor, unit) pair is not an error — tabular uploaders
// keep the first value and silently drop later ones, because the schema
// has one column per unit — but it almost always means a misconfigured
// output. Validate surfaces it once, at configuration time, instead of
// letting the loss stay silent.
//
// Parameters:
//   - list: Measurement list, already ordered by Sort
//   - warn: Warning sink (may be nil)
//
// Returns:
//   - int: Number of duplicate (sensor, unit) pairs found
func Validate(list []Measurement, warn Warner) int {
	duplicates := 0
	for i := 1; i < len(list); i++ {
		prev, cur := list[i-1], list[i]
		if cur.Name() == prev.Name() && cur.Unit() == prev.Unit() {
			duplicates++
			if warn != nil {
				warn.Warn("duplicate unit for sensor, later value will be dropped",
					"sensor", cur.Name(),
					"unit", cur.Unit().String(),
				)
			}
		}
	}
	return duplicates
}
