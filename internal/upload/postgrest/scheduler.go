package postgrest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wattline/wattline-core/internal/datalog"
	"github.com/wattline/wattline-core/internal/infrastructure/logging"
	"github.com/wattline/wattline-core/internal/measure"
	"github.com/wattline/wattline-core/internal/transport"
	"github.com/wattline/wattline-core/internal/upload"
)

// Tick pacing and retry delays.
const (
	// pollDelay paces polling of an in-flight request.
	pollDelay = 50 * time.Millisecond

	// yieldDelay is the delay between productive ticks.
	yieldDelay = 10 * time.Millisecond

	// idleDelay is used when there is no new data to upload yet.
	idleDelay = time.Second

	// connectRetryDelay is used while connectivity is down.
	connectRetryDelay = time.Second

	// queryRetryDelay backs off a failed resume query.
	queryRetryDelay = 5 * time.Second

	// postRetryDelay backs off a failed batch POST.
	postRetryDelay = 10 * time.Second

	// cpuBudget bounds the work done in a single encoding tick.
	cpuBudget = 20 * time.Millisecond

	// maxMessageBody caps how much response body is kept in a status
	// message.
	maxMessageBody = 128
)

// defaultBufferLimit bounds the CSV batch size when none is configured.
const defaultBufferLimit = 4000

// state identifies a Scheduler state machine state.
type state int

const (
	stateResolving state = iota
	stateAwaitingResolve
	stateEncoding
	statePosting
	stateAwaitingPost
	stateStopped
)

var stateNames = [...]string{
	"resolving",
	"awaiting_resolve",
	"encoding",
	"posting",
	"awaiting_post",
	"stopped",
}

func (s state) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Handle is a pollable in-flight HTTP exchange.
//
// *transport.Request satisfies it; tests substitute scripted handles.
type Handle interface {
	Ready() bool
	StatusCode() int
	Body() []byte
	Err() error
}

// Transport starts non-blocking HTTP exchanges for the scheduler.
type Transport interface {
	Get(path string, headers map[string]string) Handle
	Post(path, contentType string, body []byte, headers map[string]string) Handle
}

// httpTransport adapts *transport.Client to the Transport interface.
type httpTransport struct {
	client *transport.Client
}

// NewHTTPTransport wraps a transport client for scheduler use.
func NewHTTPTransport(c *transport.Client) Transport {
	return httpTransport{client: c}
}

func (t httpTransport) Get(path string, headers map[string]string) Handle {
	return t.client.Get(path, headers)
}

func (t httpTransport) Post(path, contentType string, body []byte, headers map[string]string) Handle {
	return t.client.Post(path, contentType, body, headers)
}

// Clock supplies the current time. Substituted in tests.
type Clock interface {
	Now() time.Time
}

// systemClock is the wall clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config carries the resolved settings for one Scheduler instance.
//
// DeviceName must already have its $device token substituted; StartDate
// is the configured cutoff as epoch seconds, 0 for none.
type Config struct {
	Table       string
	Schema      string
	DeviceName  string
	JWTToken    string
	Interval    int64
	BulkSend    int64
	BufferLimit int
	StartDate   int64
}

// Scheduler drives the PostgREST backend as a cooperative state machine.
//
// Each Tick runs one bounded slice of work and returns the delay until
// the next tick; no tick blocks on the network. The machine moves
// through:
//
//	resolving        start the resume query
//	awaiting_resolve poll it, derive the resume cursor
//	encoding         build a CSV batch from the datalog, budgeted
//	posting          start the batch POST
//	awaiting_post    poll it, advance the cursor on 201
//	stopped          terminal
//
// The resume cursor (lastSent) only ever advances after a confirmed 201,
// so a crash or failed POST re-sends rather than skips. Re-encoding a
// window is deterministic, so a retried batch is byte-identical to the
// failed one. The one deliberate exception: a window spanning no logged
// operating time yields no rows, so the cursor steps past it without a
// POST; there is nothing for the remote to confirm and no data to lose.
//
// Thread Safety: Tick must be called from a single goroutine. Stop,
// Stopped and Status are safe from any goroutine.
type Scheduler struct {
	cfg       config
	log       upload.Log
	encoder   *RowEncoder
	resolver  *ResumeResolver
	transport Transport
	probe     func() bool
	clock     Clock
	logger    *logging.Logger

	// Owned by the Tick goroutine.
	state    state
	req      Handle
	batch    *bytes.Buffer
	cursor   int64
	oldSnap  datalog.Snapshot
	winEnd   int64
	lastPost int64

	// Shared with observer goroutines.
	mu       sync.Mutex
	stopReq  bool
	halted   bool
	lastSent int64
	message  string
	status   upload.Status
}

// config is the validated, defaulted form of Config.
type config Config

// NewScheduler creates a PostgREST upload scheduler.
//
// Parameters:
//   - cfg: Resolved backend settings
//   - log: Read-only datalog view
//   - measurements: Measurement collection to export
//   - tr: HTTP transport
//   - probe: Connectivity probe; nil means always connected
//   - clock: Time source; nil uses the wall clock
//   - logger: Structured logger; nil uses the default
//
// Returns:
//   - *Scheduler: Scheduler in the resolving state
func NewScheduler(cfg Config, log upload.Log, measurements []measure.Measurement, tr Transport, probe func() bool, clock Clock, logger *logging.Logger) *Scheduler {
	if cfg.BulkSend <= 0 {
		cfg.BulkSend = 1
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = defaultBufferLimit
	}
	if probe == nil {
		probe = func() bool { return true }
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Scheduler{
		cfg:       config(cfg),
		log:       log,
		encoder:   NewRowEncoder(measurements, cfg.DeviceName),
		resolver:  NewResumeResolver(cfg.Schema, cfg.Table, cfg.DeviceName, cfg.StartDate, cfg.Interval),
		transport: tr,
		probe:     probe,
		clock:     clock,
		logger:    logger.With("component", "postgrest"),
		state:     stateResolving,
	}
	s.publishStatus()
	return s
}

// ID identifies the backend.
func (s *Scheduler) ID() string { return "postgrest" }

// Stop requests cooperative shutdown. The machine halts at a tick
// boundary; an in-flight request is polled to completion and its
// outcome observed first, never interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopReq = true
	s.mu.Unlock()
}

// Stopped reports whether the state machine has halted.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Status returns the latest retained status.
func (s *Scheduler) Status() upload.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Tick runs one state machine step.
//
// Returns:
//   - time.Duration: Delay until the next tick; 0 once stopped
func (s *Scheduler) Tick(ctx context.Context) time.Duration {
	s.mu.Lock()
	stop := s.stopReq
	s.mu.Unlock()

	if stop && s.state != stateStopped {
		// Drain an in-flight exchange before halting: keep polling until
		// it completes, observe the outcome (a confirmed 201 still
		// advances the cursor), then stop.
		if s.req != nil {
			if !s.req.Ready() {
				return pollDelay
			}
			switch s.state {
			case stateAwaitingResolve:
				s.tickAwaitResolve()
			case stateAwaitingPost:
				s.tickAwaitPost()
			}
		}
		s.halt()
		return 0
	}

	switch s.state {
	case stateResolving:
		return s.tickResolve()
	case stateAwaitingResolve:
		return s.tickAwaitResolve()
	case stateEncoding:
		return s.tickEncode(ctx)
	case statePosting:
		return s.tickPost()
	case stateAwaitingPost:
		return s.tickAwaitPost()
	default:
		return 0
	}
}

// tickResolve starts the resume query once connectivity is up.
func (s *Scheduler) tickResolve() time.Duration {
	if !s.probe() {
		s.setMessage("waiting for connectivity")
		return connectRetryDelay
	}

	s.req = s.transport.Get(s.resolver.QueryPath(), s.headers())
	s.transition(stateAwaitingResolve)
	return pollDelay
}

// tickAwaitResolve polls the resume query and derives the cursor.
func (s *Scheduler) tickAwaitResolve() time.Duration {
	if !s.req.Ready() {
		return pollDelay
	}
	req := s.req
	s.req = nil

	if err := req.Err(); err != nil {
		s.setMessage(fmt.Sprintf("resume query failed: %v", err))
		s.transition(stateResolving)
		return queryRetryDelay
	}
	if code := req.StatusCode(); code != 200 {
		s.setMessage(failureMessage("resume query failed", code, req.Body()))
		s.transition(stateResolving)
		return queryRetryDelay
	}

	resume := s.resolver.Resolve(req.Body(), s.log.FirstKey())
	s.setLastSent(resume)
	s.setMessage("")
	s.logger.Info("resume point resolved",
		"last_sent", resume,
		"timestamp", FormatTimestamp(resume))
	s.transition(stateEncoding)
	return yieldDelay
}

// tickEncode builds the CSV batch, bounded by the CPU budget per tick.
func (s *Scheduler) tickEncode(ctx context.Context) time.Duration {
	lastSent := s.getLastSent()

	if s.batch == nil {
		// Wait until a full bulk window of data exists.
		if s.log.LastKey() < lastSent+s.cfg.Interval*s.cfg.BulkSend {
			return idleDelay
		}

		old, err := s.log.ReadAt(ctx, lastSent)
		if err != nil {
			s.setMessage(fmt.Sprintf("datalog read failed: %v", err))
			return idleDelay
		}

		s.batch = &bytes.Buffer{}
		s.batch.WriteString(s.encoder.Header())
		s.cursor = lastSent
		s.oldSnap = old
		s.winEnd = lastSent + s.cfg.Interval*s.cfg.BulkSend
	}

	started := s.clock.Now()
	for {
		next := s.cursor + s.cfg.Interval
		if s.batch.Len() >= s.cfg.BufferLimit || next > s.winEnd || next > s.log.LastKey() {
			break
		}

		snap, err := s.log.ReadAt(ctx, next)
		if err != nil {
			s.setMessage(fmt.Sprintf("datalog read failed: %v", err))
			s.resetBatch()
			return idleDelay
		}

		// A window with no logged time carries no rates to report; the
		// cursor still advances past it.
		if snap.LogHours > s.oldSnap.LogHours {
			s.encoder.EncodeTick(s.batch, FormatTimestamp(next), s.oldSnap, snap)
		}
		s.oldSnap = snap
		s.cursor = next

		if s.clock.Now().Sub(started) >= cpuBudget {
			// Yield; encoding resumes where it left off next tick.
			return yieldDelay
		}
	}

	if s.batch.Len() == len(s.encoder.Header()) {
		// Whole window was empty of reportable data; skip it without a POST.
		s.setLastSent(s.cursor)
		s.resetBatch()
		return yieldDelay
	}

	s.batch.WriteByte('\n')
	s.lastPost = s.cursor
	s.transition(statePosting)
	return yieldDelay
}

// tickPost starts the batch POST once connectivity is up.
func (s *Scheduler) tickPost() time.Duration {
	if !s.probe() {
		s.setMessage("waiting for connectivity")
		return connectRetryDelay
	}

	s.req = s.transport.Post(s.resolver.EndpointPath(), "text/csv", s.batch.Bytes(), s.postHeaders())
	s.transition(stateAwaitingPost)
	return pollDelay
}

// tickAwaitPost polls the POST and advances the cursor on success.
//
// Only 201 Created confirms durable storage; every other outcome leaves
// the cursor where it was and re-encodes the same window after backoff.
func (s *Scheduler) tickAwaitPost() time.Duration {
	if !s.req.Ready() {
		return pollDelay
	}
	req := s.req
	s.req = nil

	if err := req.Err(); err != nil {
		s.setMessage(fmt.Sprintf("POST failed: %v", err))
		s.resetBatch()
		s.transition(stateEncoding)
		return postRetryDelay
	}
	if code := req.StatusCode(); code != 201 {
		s.setMessage(failureMessage("POST failed", code, req.Body()))
		s.resetBatch()
		s.transition(stateEncoding)
		return postRetryDelay
	}

	s.setLastSent(s.lastPost)
	s.setMessage("")
	s.logger.Debug("batch posted", "last_sent", s.lastPost)
	s.resetBatch()
	s.transition(stateEncoding)
	return yieldDelay
}

// halt moves the machine to its terminal state.
func (s *Scheduler) halt() {
	s.req = nil
	s.resetBatch()
	s.state = stateStopped

	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	s.publishStatus()

	s.logger.Info("stopped", "last_sent", s.getLastSent())
}

// resetBatch discards any partially or fully encoded batch.
func (s *Scheduler) resetBatch() {
	s.batch = nil
	s.winEnd = 0
	s.lastPost = 0
}

// transition moves to the next state and republishes status.
func (s *Scheduler) transition(next state) {
	s.state = next
	s.publishStatus()
}

// headers returns the resume query headers.
func (s *Scheduler) headers() map[string]string {
	if s.cfg.JWTToken == "" {
		return nil
	}
	return map[string]string{
		"Authorization": "Bearer " + s.cfg.JWTToken,
	}
}

// postHeaders returns the batch POST headers.
//
// Prefer: return=minimal asks the server for an empty 201 body; only
// the status code matters here. The resume query does not send it.
func (s *Scheduler) postHeaders() map[string]string {
	h := map[string]string{
		"Prefer": "return=minimal",
	}
	if s.cfg.JWTToken != "" {
		h["Authorization"] = "Bearer " + s.cfg.JWTToken
	}
	return h
}

func (s *Scheduler) getLastSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSent
}

func (s *Scheduler) setLastSent(v int64) {
	s.mu.Lock()
	s.lastSent = v
	s.mu.Unlock()
	s.publishStatus()
}

func (s *Scheduler) setMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
	s.publishStatus()
}

// publishStatus snapshots the current state into the retained status.
func (s *Scheduler) publishStatus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = upload.Status{
		State:     s.state.String(),
		LastSent:  s.lastSent,
		Message:   s.message,
		UpdatedAt: s.clock.Now(),
	}
}

// failureMessage renders an HTTP failure with a truncated response body.
func failureMessage(prefix string, code int, body []byte) string {
	if len(body) == 0 {
		return fmt.Sprintf("%s, code %d", prefix, code)
	}
	if len(body) > maxMessageBody {
		body = body[:maxMessageBody]
	}
	return fmt.Sprintf("%s, code %d, response: %s", prefix, code, body)
}
