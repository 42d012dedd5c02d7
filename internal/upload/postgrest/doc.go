// Package postgrest implements the PostgREST upload backend.
//
// It periodically exports measurement windows from the local datalog as
// CSV batches POSTed to a PostgREST table endpoint, resuming correctly
// after restarts without gaps. Delivery is at-least-once: a failed POST
// leaves the resume cursor unchanged and the same window is re-encoded
// and re-sent, so duplicates are possible but silent gaps are not.
//
// Expected database schema:
//
//	CREATE TABLE <table> (
//	  timestamp TIMESTAMPTZ NOT NULL,
//	  device    TEXT NOT NULL,
//	  sensor    TEXT NOT NULL,
//	  -- one or more of:
//	  Watts DOUBLE PRECISION,
//	  Amps  DOUBLE PRECISION,
//	  PF    DOUBLE PRECISION,
//	  VA    DOUBLE PRECISION,
//	  VAR   DOUBLE PRECISION,
//	  Volts DOUBLE PRECISION,
//	  Hz    DOUBLE PRECISION
//	);
//
// The backend is a cooperative state machine (see Scheduler); it never
// blocks a tick and keeps at most one request in flight. Failures of
// every kind degrade to bounded retry with backoff; the latest failure
// detail is retained in the uploader status rather than raised as an
// error.
package postgrest
