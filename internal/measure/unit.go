package measure

// Unit is a measurement unit category.
//
// The ordinal order below is canonical: it fixes the column order of
// every tabular upload row and must not be rearranged.
type Unit int

// Known unit categories, in canonical column order.
const (
	UnitWatts Unit = iota
	UnitAmps
	UnitPF
	UnitVA
	UnitVAR
	UnitVolts
	UnitHz

	// UnitCount is the number of known unit categories.
	UnitCount = int(UnitHz) + 1
)

// unitNames maps ordinals to the column names used on the wire.
var unitNames = [UnitCount]string{
	"Watts",
	"Amps",
	"PF",
	"VA",
	"VAR",
	"Volts",
	"Hz",
}

// String returns the wire name of the unit ("Watts", "Amps", ...).
func (u Unit) String() string {
	if u < 0 || int(u) >= UnitCount {
		return "unknown"
	}
	return unitNames[u]
}

// Valid reports whether the unit is one of the known categories.
func (u Unit) Valid() bool {
	return u >= 0 && int(u) < UnitCount
}

// ParseUnit resolves a wire name ("Watts", "Amps", ...) to its unit.
//
// Returns:
//   - Unit: The matching unit, undefined when ok is false
//   - bool: Whether the name matched a known category
func ParseUnit(name string) (Unit, bool) {
	for i, n := range unitNames {
		if n == name {
			return Unit(i), true
		}
	}
	return 0, false
}
