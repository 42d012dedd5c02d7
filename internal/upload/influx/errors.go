package influx

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influx.ErrDisabled) {
//	    // Backend not configured; skip wiring
//	}
var (
	// ErrDisabled indicates the InfluxDB backend is disabled in config.
	ErrDisabled = errors.New("influx: disabled in configuration")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influx: connection failed")

	// ErrNotConnected indicates the client is not connected.
	ErrNotConnected = errors.New("influx: not connected")
)
