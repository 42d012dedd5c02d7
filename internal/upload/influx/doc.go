// Package influx implements the InfluxDB upload backend.
//
// Unlike the PostgREST backend it does not resume from remote state:
// InfluxDB writes are idempotent per (measurement, tags, timestamp), so
// the exporter keeps an in-memory cursor seeded from the configured
// start date and the oldest local record, and relies on the client
// library's batching and retry for delivery.
//
// Each exported rate becomes one point: the configured measurement
// name, device and sensor tags, and one field per unit.
package influx
