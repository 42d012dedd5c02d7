package datalog

import "errors"

// Sentinel errors for datalog operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, datalog.ErrEmpty) {
//	    // No records yet, nothing to upload
//	}
var (
	// ErrEmpty indicates the log contains no records.
	ErrEmpty = errors.New("datalog: log is empty")

	// ErrOutOfOrder indicates an append with a key at or before the last record.
	ErrOutOfOrder = errors.New("datalog: record key must advance")

	// ErrBadInterval indicates a configured interval that is not positive.
	ErrBadInterval = errors.New("datalog: interval must be positive")
)
