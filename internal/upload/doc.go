// Package upload defines the contract shared by upload backends.
//
// A backend is a cooperative state machine: each Tick performs a bounded
// amount of synchronous work (or polls an in-flight request) and returns
// the delay until it wants to run again. Backends never block a tick on
// the network; transport exchanges are started asynchronously and polled
// on later ticks.
//
// Backends are interchangeable: the device runs zero or more of them
// side by side, each owning its own resume cursor, batch, and in-flight
// request. The local datalog is shared read-only through the Log view.
package upload
