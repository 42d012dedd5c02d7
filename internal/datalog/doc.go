// Package datalog implements the local append-only measurement log.
//
// The log holds one record per sampling interval, keyed by unix time.
// Each record carries the device's cumulative operating hours and a set
// of named per-channel accumulators (watt-hours, amp-hours and the like).
// The difference between two snapshots divided by their elapsed hours
// yields the average rate over that window, which is how uploaders turn
// the log into per-interval measurement values.
//
// Records are immutable once appended. Uploaders access the log strictly
// read-only through ReadAt/FirstKey/LastKey; only the sampling loop
// appends, and only retention pruning deletes.
//
// # Usage
//
//	store, err := datalog.Open(ctx, db, datalog.Config{Interval: 5})
//	if err != nil {
//	    return err
//	}
//
//	old, _ := store.ReadAt(ctx, cursor)
//	new_, _ := store.ReadAt(ctx, cursor+60)
//	rate := (new_.Accum["main_wh"] - old.Accum["main_wh"]) /
//	    (new_.LogHours - old.LogHours)
package datalog
