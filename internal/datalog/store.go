package datalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Snapshot is one point-in-time view of the log's accumulators.
//
// Snapshots returned by ReadAt may be interpolated between stored records
// when the requested key falls between two samples.
type Snapshot struct {
	// UNIXTime is the snapshot's timestamp in epoch seconds.
	UNIXTime int64

	// LogHours is the device's cumulative operating hours at this point.
	// Two snapshots with equal LogHours span no operating time and
	// therefore yield no measurement values.
	LogHours float64

	// Accum maps channel names to cumulative accumulator values.
	Accum map[string]float64
}

// Config contains datalog settings.
type Config struct {
	// Interval is the spacing, in seconds, between successive records.
	Interval int
}

// Store provides access to the append-only measurement log backed by SQLite.
//
// Thread Safety: all methods are safe for concurrent use. First/last keys
// are cached in memory and maintained on append and prune, so the hot
// read path for uploaders never touches the database for bounds checks.
type Store struct {
	db       *sql.DB
	interval int64

	mu       sync.RWMutex
	firstKey int64
	lastKey  int64
}

// Open creates a Store over an existing database connection and loads the
// current key bounds.
//
// Parameters:
//   - ctx: Context for the bounds query
//   - db: Open SQLite connection with the datalog table bootstrapped
//   - cfg: Datalog configuration
//
// Returns:
//   - *Store: Store ready for use
//   - error: If cfg is invalid or the bounds query fails
func Open(ctx context.Context, db *sql.DB, cfg Config) (*Store, error) {
	if cfg.Interval <= 0 {
		return nil, ErrBadInterval
	}

	s := &Store{
		db:       db,
		interval: int64(cfg.Interval),
	}

	row := db.QueryRowContext(ctx,
		"SELECT COALESCE(MIN(unixtime), 0), COALESCE(MAX(unixtime), 0) FROM datalog")
	if err := row.Scan(&s.firstKey, &s.lastKey); err != nil {
		return nil, fmt.Errorf("loading datalog bounds: %w", err)
	}

	return s, nil
}

// Interval returns the record spacing in seconds.
func (s *Store) Interval() int64 {
	return s.interval
}

// FirstKey returns the timestamp of the earliest retained record, or 0 if
// the log is empty.
func (s *Store) FirstKey() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstKey
}

// LastKey returns the timestamp of the most recent record, or 0 if the
// log is empty.
func (s *Store) LastKey() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastKey
}

// Append stores a new record. Keys must strictly advance; appends at or
// before the current last key are rejected.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - snap: Record to store (UNIXTime is the key)
//
// Returns:
//   - error: ErrOutOfOrder, or the underlying database error
func (s *Store) Append(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastKey != 0 && snap.UNIXTime <= s.lastKey {
		return fmt.Errorf("%w: key %d, last %d", ErrOutOfOrder, snap.UNIXTime, s.lastKey)
	}

	accum := snap.Accum
	if accum == nil {
		accum = map[string]float64{}
	}
	accumJSON, err := json.Marshal(accum)
	if err != nil {
		return fmt.Errorf("marshalling accumulators: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO datalog (unixtime, log_hours, accum) VALUES (?, ?, ?)",
		snap.UNIXTime, snap.LogHours, string(accumJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting datalog record: %w", err)
	}

	if s.firstKey == 0 {
		s.firstKey = snap.UNIXTime
	}
	s.lastKey = snap.UNIXTime

	return nil
}

// ReadAt returns the snapshot for the given key.
//
// If the key falls between two stored records, accumulators and log hours
// are linearly interpolated. Keys before the first record clamp to the
// first record; keys after the last clamp to the last. The returned
// snapshot always carries the requested key as its UNIXTime.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - key: Requested timestamp in epoch seconds
//
// Returns:
//   - Snapshot: Snapshot at (or interpolated at) the key
//   - error: ErrEmpty if the log has no records, or a database error
func (s *Store) ReadAt(ctx context.Context, key int64) (Snapshot, error) {
	s.mu.RLock()
	first, last := s.firstKey, s.lastKey
	s.mu.RUnlock()

	if last == 0 {
		return Snapshot{}, ErrEmpty
	}
	if key <= first {
		snap, err := s.readExact(ctx, first)
		if err != nil {
			return Snapshot{}, err
		}
		snap.UNIXTime = key
		return snap, nil
	}
	if key >= last {
		snap, err := s.readExact(ctx, last)
		if err != nil {
			return Snapshot{}, err
		}
		snap.UNIXTime = key
		return snap, nil
	}

	// Nearest record at or before the key.
	before, err := s.readBound(ctx,
		"SELECT unixtime, log_hours, accum FROM datalog WHERE unixtime <= ? ORDER BY unixtime DESC LIMIT 1", key)
	if err != nil {
		return Snapshot{}, err
	}
	if before.UNIXTime == key {
		return before, nil
	}

	// Nearest record after the key; interpolate between the two.
	after, err := s.readBound(ctx,
		"SELECT unixtime, log_hours, accum FROM datalog WHERE unixtime > ? ORDER BY unixtime ASC LIMIT 1", key)
	if err != nil {
		return Snapshot{}, err
	}

	return interpolate(before, after, key), nil
}

// Prune deletes records with keys strictly before the cutoff, preserving
// at least the most recent record.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - before: Cutoff timestamp in epoch seconds
//
// Returns:
//   - int64: Number of records deleted
//   - error: nil on success, otherwise the database error
func (s *Store) Prune(ctx context.Context, before int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastKey == 0 {
		return 0, nil
	}
	if before > s.lastKey {
		before = s.lastKey
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM datalog WHERE unixtime < ?", before)
	if err != nil {
		return 0, fmt.Errorf("pruning datalog: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning datalog: %w", err)
	}

	if deleted > 0 {
		row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MIN(unixtime), 0) FROM datalog")
		if err := row.Scan(&s.firstKey); err != nil {
			return deleted, fmt.Errorf("reloading datalog bounds: %w", err)
		}
	}

	return deleted, nil
}

// readExact reads the record stored at exactly the given key.
func (s *Store) readExact(ctx context.Context, key int64) (Snapshot, error) {
	return s.readBound(ctx,
		"SELECT unixtime, log_hours, accum FROM datalog WHERE unixtime = ?", key)
}

// readBound runs a single-row snapshot query.
func (s *Store) readBound(ctx context.Context, query string, key int64) (Snapshot, error) {
	var snap Snapshot
	var accumJSON string

	row := s.db.QueryRowContext(ctx, query, key)
	if err := row.Scan(&snap.UNIXTime, &snap.LogHours, &accumJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, ErrEmpty
		}
		return Snapshot{}, fmt.Errorf("reading datalog record: %w", err)
	}

	if err := json.Unmarshal([]byte(accumJSON), &snap.Accum); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshalling accumulators: %w", err)
	}

	return snap, nil
}

// interpolate produces a snapshot between two stored records.
func interpolate(before, after Snapshot, key int64) Snapshot {
	span := float64(after.UNIXTime - before.UNIXTime)
	frac := float64(key-before.UNIXTime) / span

	accum := make(map[string]float64, len(before.Accum))
	for name, v := range before.Accum {
		accum[name] = v + (after.Accum[name]-v)*frac
	}

	return Snapshot{
		UNIXTime: key,
		LogHours: before.LogHours + (after.LogHours-before.LogHours)*frac,
		Accum:    accum,
	}
}
