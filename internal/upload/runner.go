package upload

import (
	"context"
	"time"
)

// minTickDelay floors the delay between ticks so a misbehaving backend
// cannot spin the loop.
const minTickDelay = 10 * time.Millisecond

// StatusSink receives uploader status updates as they change.
type StatusSink func(id string, status Status)

// Run drives an uploader's tick loop until the context is cancelled or
// the uploader stops itself.
//
// The loop is strictly sequential: one Tick at a time, separated by the
// delay the uploader asked for. On context cancellation Run requests a
// cooperative stop and keeps ticking until the state machine reports
// Stopped, so an in-flight request gets observed rather than abandoned
// mid-flight.
//
// Parameters:
//   - ctx: Context whose cancellation triggers shutdown
//   - u: Uploader to drive
//   - sink: Optional status sink, invoked when the status changes
func Run(ctx context.Context, u Uploader, sink StatusSink) {
	var last Status
	notify := func() {
		if sink == nil {
			return
		}
		st := u.Status()
		if st.State != last.State || st.LastSent != last.LastSent || st.Message != last.Message {
			last = st
			sink(u.ID(), st)
		}
	}

	stopRequested := false

	for {
		delay := u.Tick(ctx)
		notify()

		if u.Stopped() {
			return
		}

		if delay < minTickDelay {
			delay = minTickDelay
		}

		if stopRequested {
			// Cap the delay so the stop is observed promptly, then keep
			// ticking until the machine halts.
			if delay > time.Second {
				delay = time.Second
			}
			time.Sleep(delay)
			continue
		}

		select {
		case <-ctx.Done():
			u.Stop()
			stopRequested = true
		case <-time.After(delay):
		}
	}
}
