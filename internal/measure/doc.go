// Package measure defines the measurement capability consumed by uploaders.
//
// A Measurement names a sensor, carries a unit category and display
// precision, and knows how to evaluate itself over a pair of datalog
// snapshots. Evaluation returns NaN when the measurement has nothing to
// report for that window; uploaders treat NaN as "skip", never as an
// error.
//
// Measurements are supplied externally as an ordered collection. Sort
// orders them by sensor name and then unit ordinal so that same-named
// measurements are contiguous and unit columns come out in a
// deterministic order. DeriveActiveUnits then fixes which unit
// categories appear in output at all, which in turn fixes the width of
// every row a tabular uploader emits.
package measure
