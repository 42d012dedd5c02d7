package postgrest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wattline/wattline-core/internal/datalog"
	"github.com/wattline/wattline-core/internal/measure"
)

// fakeClock is a static time source, so the encoding budget never
// expires mid-test unless a test advances it.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

// fakeHandle is a pre-scripted request outcome.
type fakeHandle struct {
	ready bool
	code  int
	body  []byte
	err   error
}

func (h *fakeHandle) Ready() bool     { return h.ready }
func (h *fakeHandle) StatusCode() int { return h.code }
func (h *fakeHandle) Body() []byte    { return h.body }
func (h *fakeHandle) Err() error      { return h.err }

// transportCall records one exchange the scheduler started.
type transportCall struct {
	path        string
	contentType string
	body        []byte
	headers     map[string]string
}

// fakeTransport hands out scripted handles and records every call.
type fakeTransport struct {
	gets      []transportCall
	posts     []transportCall
	getQueue  []*fakeHandle
	postQueue []*fakeHandle
}

func (t *fakeTransport) Get(path string, headers map[string]string) Handle {
	t.gets = append(t.gets, transportCall{path: path, headers: headers})
	return t.pop(&t.getQueue)
}

func (t *fakeTransport) Post(path, contentType string, body []byte, headers map[string]string) Handle {
	recorded := make([]byte, len(body))
	copy(recorded, body)
	t.posts = append(t.posts, transportCall{path: path, contentType: contentType, body: recorded, headers: headers})
	return t.pop(&t.postQueue)
}

func (t *fakeTransport) pop(queue *[]*fakeHandle) Handle {
	if len(*queue) == 0 {
		return &fakeHandle{ready: true, code: 200, body: []byte(`[]`)}
	}
	h := (*queue)[0]
	*queue = (*queue)[1:]
	return h
}

// fakeLog serves synthetic snapshots for any key in [first, last].
type fakeLog struct {
	first, last int64
	hoursAt     func(key int64) float64
}

func (l *fakeLog) ReadAt(_ context.Context, key int64) (datalog.Snapshot, error) {
	return datalog.Snapshot{
		UNIXTime: key,
		LogHours: l.hoursAt(key),
		Accum:    map[string]float64{"main": float64(key)},
	}, nil
}

func (l *fakeLog) FirstKey() int64 { return l.first }
func (l *fakeLog) LastKey() int64  { return l.last }

// base is 2023-10-15 14:30:00 UTC, aligned to a 60 s interval.
var base = time.Date(2023, 10, 15, 14, 30, 0, 0, time.UTC).Unix()

func newTestScheduler(cfg Config, log *fakeLog, tr *fakeTransport, probe func() bool) *Scheduler {
	measurements := []measure.Measurement{
		fixedMeasurement{name: "main", unit: measure.UnitWatts, precision: 0, value: 100},
	}
	return NewScheduler(cfg, log, measurements, tr, probe, &fakeClock{t: time.Unix(base, 0)}, nil)
}

func testConfig() Config {
	return Config{
		Table:       "readings",
		Schema:      "public",
		DeviceName:  "house",
		Interval:    60,
		BulkSend:    5,
		BufferLimit: 4000,
	}
}

// tickUntil drives the scheduler until pred holds, failing after max ticks.
func tickUntil(t *testing.T, s *Scheduler, max int, pred func() bool) {
	t.Helper()
	for i := 0; i < max; i++ {
		if pred() {
			return
		}
		s.Tick(context.Background())
	}
	t.Fatalf("condition not reached after %d ticks (state %s)", max, s.Status().State)
}

// =============================================================================
// Resolve and upload
// =============================================================================

func TestScheduler_ResolvesAndUploadsWindow(t *testing.T) {
	log := &fakeLog{
		first:   base - 3600,
		last:    base + 600,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	tr := &fakeTransport{
		getQueue:  []*fakeHandle{{ready: true, code: 200, body: []byte(`[{"timestamp":"2023-10-15T14:30:25Z"}]`)}},
		postQueue: []*fakeHandle{{ready: true, code: 201}},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	tickUntil(t, s, 20, func() bool { return len(tr.posts) == 1 && s.Status().LastSent > base })

	if got := len(tr.gets); got != 1 {
		t.Fatalf("resume queries = %d, want 1", got)
	}
	wantQuery := "/readings?select=timestamp&device=eq.house&order=timestamp.desc&limit=1"
	if got := tr.gets[0].path; got != wantQuery {
		t.Errorf("query path = %q, want %q", got, wantQuery)
	}

	post := tr.posts[0]
	if post.path != "/readings" {
		t.Errorf("post path = %q, want /readings", post.path)
	}
	if post.contentType != "text/csv" {
		t.Errorf("content type = %q, want text/csv", post.contentType)
	}
	if got := post.headers["Prefer"]; got != "return=minimal" {
		t.Errorf("Prefer header = %q, want return=minimal", got)
	}
	if got := tr.gets[0].headers["Prefer"]; got != "" {
		t.Errorf("resume query sent Prefer header %q, want none", got)
	}

	// 14:30:25 floors to 14:30; a bulk window of 5 yields 14:31..14:35.
	var want bytes.Buffer
	want.WriteString("timestamp,device,sensor,Watts")
	for i := int64(1); i <= 5; i++ {
		want.WriteString("\n" + FormatTimestamp(base+i*60) + ",house,main,100")
	}
	want.WriteByte('\n')
	if !bytes.Equal(post.body, want.Bytes()) {
		t.Errorf("post body = %q, want %q", post.body, want.Bytes())
	}

	// Cursor lands on the last posted row.
	if got := s.Status().LastSent; got != base+300 {
		t.Errorf("LastSent = %d, want %d", got, base+300)
	}
	if msg := s.Status().Message; msg != "" {
		t.Errorf("Message = %q, want empty", msg)
	}
}

func TestScheduler_UploadsSuccessiveWindows(t *testing.T) {
	log := &fakeLog{
		first:   base - 3600,
		last:    base + 600,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	tr := &fakeTransport{
		getQueue: []*fakeHandle{{ready: true, code: 200, body: []byte(`[{"timestamp":"2023-10-15T14:30:00Z"}]`)}},
		postQueue: []*fakeHandle{
			{ready: true, code: 201},
			{ready: true, code: 201},
		},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	tickUntil(t, s, 40, func() bool { return len(tr.posts) == 2 && s.Status().LastSent == base+600 })

	// Second batch continues where the first ended: 14:36..14:40.
	second := string(tr.posts[1].body)
	if !strings.Contains(second, FormatTimestamp(base+360)) {
		t.Errorf("second batch missing first row %s:\n%s", FormatTimestamp(base+360), second)
	}
	if !strings.Contains(second, FormatTimestamp(base+600)) {
		t.Errorf("second batch missing last row %s:\n%s", FormatTimestamp(base+600), second)
	}
	if strings.Contains(second, FormatTimestamp(base+300)) {
		t.Errorf("second batch re-sends already confirmed row:\n%s", second)
	}
}

// =============================================================================
// Failure handling
// =============================================================================

func TestScheduler_FailedPostRetriesIdentically(t *testing.T) {
	log := &fakeLog{
		first:   base - 3600,
		last:    base + 600,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	tr := &fakeTransport{
		getQueue: []*fakeHandle{{ready: true, code: 200, body: []byte(`[{"timestamp":"2023-10-15T14:30:00Z"}]`)}},
		postQueue: []*fakeHandle{
			{ready: true, code: 400, body: []byte("permission denied")},
			{ready: true, code: 201},
		},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	// First POST fails; cursor must not move and the failure is retained.
	tickUntil(t, s, 20, func() bool { return len(tr.posts) == 1 && s.Status().Message != "" })

	if got := s.Status().LastSent; got != base {
		t.Errorf("LastSent after failed POST = %d, want %d", got, base)
	}
	msg := s.Status().Message
	if !strings.Contains(msg, "code 400") || !strings.Contains(msg, "permission denied") {
		t.Errorf("Message = %q, want code and response detail", msg)
	}

	// The retry re-encodes the same window byte for byte.
	tickUntil(t, s, 20, func() bool { return len(tr.posts) == 2 })
	if !bytes.Equal(tr.posts[0].body, tr.posts[1].body) {
		t.Errorf("retry body differs:\nfirst  %q\nsecond %q", tr.posts[0].body, tr.posts[1].body)
	}

	tickUntil(t, s, 5, func() bool { return s.Status().LastSent == base+300 })
}

func TestScheduler_Non201IsNotSuccess(t *testing.T) {
	log := &fakeLog{
		first:   base,
		last:    base + 600,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	tr := &fakeTransport{
		getQueue:  []*fakeHandle{{ready: true, code: 200, body: []byte(`[]`)}},
		postQueue: []*fakeHandle{{ready: true, code: 200}},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	tickUntil(t, s, 20, func() bool { return len(tr.posts) == 1 && s.Status().Message != "" })

	if got := s.Status().LastSent; got != base {
		t.Errorf("LastSent after 200 response = %d, want %d", got, base)
	}
}

func TestScheduler_PostFailureBacksOff(t *testing.T) {
	log := &fakeLog{
		first:   base,
		last:    base + 600,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	tr := &fakeTransport{
		getQueue:  []*fakeHandle{{ready: true, code: 200, body: []byte(`[]`)}},
		postQueue: []*fakeHandle{{ready: true, code: 500}},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	var delay time.Duration
	tickUntil(t, s, 20, func() bool { return len(tr.posts) == 1 })
	delay = s.Tick(context.Background())

	if delay != postRetryDelay {
		t.Errorf("delay after failed POST = %v, want %v", delay, postRetryDelay)
	}
}

func TestScheduler_QueryFailureBacksOffAndRetries(t *testing.T) {
	log := &fakeLog{
		first:   base,
		last:    base,
		hoursAt: func(int64) float64 { return 0 },
	}
	tr := &fakeTransport{
		getQueue: []*fakeHandle{
			{ready: true, code: 503, body: []byte("unavailable")},
			{ready: true, code: 200, body: []byte(`[]`)},
		},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	s.Tick(context.Background()) // start query
	delay := s.Tick(context.Background())

	if delay != queryRetryDelay {
		t.Errorf("delay after failed query = %v, want %v", delay, queryRetryDelay)
	}
	if msg := s.Status().Message; !strings.Contains(msg, "code 503") {
		t.Errorf("Message = %q, want code detail", msg)
	}

	tickUntil(t, s, 10, func() bool { return len(tr.gets) == 2 })
	tickUntil(t, s, 10, func() bool { return s.Status().State == "encoding" })
}

// =============================================================================
// Connectivity and data gating
// =============================================================================

func TestScheduler_DefersWhileDisconnected(t *testing.T) {
	log := &fakeLog{first: base, last: base, hoursAt: func(int64) float64 { return 0 }}
	tr := &fakeTransport{}

	connected := false
	s := newTestScheduler(testConfig(), log, tr, func() bool { return connected })

	if got := s.Tick(context.Background()); got != connectRetryDelay {
		t.Errorf("delay while disconnected = %v, want %v", got, connectRetryDelay)
	}
	if len(tr.gets) != 0 {
		t.Fatal("query issued while disconnected")
	}

	connected = true
	s.Tick(context.Background())
	if len(tr.gets) != 1 {
		t.Error("query not issued after connectivity returned")
	}
}

func TestScheduler_IdlesUntilWindowAvailable(t *testing.T) {
	// Only two intervals of data exist; a bulk window of 5 is not yet full.
	log := &fakeLog{
		first:   base,
		last:    base + 120,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	tr := &fakeTransport{
		getQueue: []*fakeHandle{{ready: true, code: 200, body: []byte(`[]`)}},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	tickUntil(t, s, 10, func() bool { return s.Status().State == "encoding" })

	if got := s.Tick(context.Background()); got != idleDelay {
		t.Errorf("delay with incomplete window = %v, want %v", got, idleDelay)
	}
	if len(tr.posts) != 0 {
		t.Error("POST issued without a full window")
	}
}

func TestScheduler_SkipsWindowWithNoLoggedTime(t *testing.T) {
	// Log hours never advance across the window: nothing to report, but
	// the cursor must still move past it without a POST.
	log := &fakeLog{
		first:   base,
		last:    base + 300,
		hoursAt: func(int64) float64 { return 42 },
	}
	tr := &fakeTransport{
		getQueue: []*fakeHandle{{ready: true, code: 200, body: []byte(`[]`)}},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	tickUntil(t, s, 20, func() bool { return s.Status().LastSent == base+300 })

	if len(tr.posts) != 0 {
		t.Errorf("posts = %d, want 0 for an empty window", len(tr.posts))
	}
}

// =============================================================================
// Authentication and shutdown
// =============================================================================

func TestScheduler_SendsBearerToken(t *testing.T) {
	log := &fakeLog{first: base, last: base, hoursAt: func(int64) float64 { return 0 }}
	tr := &fakeTransport{}

	cfg := testConfig()
	cfg.JWTToken = "secret-token"
	s := newTestScheduler(cfg, log, tr, nil)

	s.Tick(context.Background())
	if len(tr.gets) != 1 {
		t.Fatal("no query issued")
	}
	if got := tr.gets[0].headers["Authorization"]; got != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want bearer token", got)
	}
}

func TestScheduler_StopDrainsInFlightPost(t *testing.T) {
	log := &fakeLog{
		first:   base,
		last:    base + 600,
		hoursAt: func(key int64) float64 { return float64(key) / 3600 },
	}
	post := &fakeHandle{code: 201}
	tr := &fakeTransport{
		getQueue:  []*fakeHandle{{ready: true, code: 200, body: []byte(`[]`)}},
		postQueue: []*fakeHandle{post},
	}
	s := newTestScheduler(testConfig(), log, tr, nil)

	tickUntil(t, s, 20, func() bool { return len(tr.posts) == 1 })
	s.Stop()

	// The exchange is still in flight; the machine keeps polling instead
	// of halting.
	if got := s.Tick(context.Background()); got != pollDelay {
		t.Errorf("delay while draining = %v, want %v", got, pollDelay)
	}
	if s.Stopped() {
		t.Fatal("halted with an exchange still in flight")
	}

	// Once the exchange completes its outcome is observed before the halt.
	post.ready = true
	if got := s.Tick(context.Background()); got != 0 {
		t.Errorf("Tick after drain = %v, want 0", got)
	}
	if !s.Stopped() {
		t.Error("Stopped() = false after drain")
	}
	if got := s.Status().LastSent; got != base+300 {
		t.Errorf("LastSent = %d, want %d (confirmed upload observed)", got, base+300)
	}
}

func TestScheduler_StopHaltsAtTickBoundary(t *testing.T) {
	log := &fakeLog{first: base, last: base, hoursAt: func(int64) float64 { return 0 }}
	s := newTestScheduler(testConfig(), log, &fakeTransport{}, nil)

	s.Tick(context.Background())
	s.Stop()

	if got := s.Tick(context.Background()); got != 0 {
		t.Errorf("Tick after Stop = %v, want 0", got)
	}
	if !s.Stopped() {
		t.Error("Stopped() = false after halt")
	}
	if got := s.Status().State; got != "stopped" {
		t.Errorf("state = %q, want stopped", got)
	}
}
