package stores

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delays = append(t.delays, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

func (t *recordingTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

// eventRecorder collects published events.
type eventRecorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *eventRecorder) record(e telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) has(eventType string) bool {
	for _, t := range r.types() {
		if t == eventType {
			return true
		}
	}
	return false
}

// testTelemetry returns telemetry with synchronous events delivered to rec.
func testTelemetry(t *testing.T, rec *eventRecorder) *telemetry.Telemetry {
	t.Helper()
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 16})
	if err != nil {
		t.Fatalf("NewEventPublisher() error = %v", err)
	}
	events.Subscribe(rec.record, nil)

	tel := telemetry.Nop()
	tel.Events = events
	return tel
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		BaseDelay:      10 * time.Millisecond,
		Multiplier:     2,
		AttemptTimeout: 5 * time.Second,
	}
}

func sqliteConfig(path string) ConnectionConfig {
	return ConnectionConfig{Driver: DriverSQLite, Database: path}
}

type testStore struct {
	*Store
	dir       string
	localPath string
	timer     *recordingTimer
	events    *eventRecorder
}

// newTestStore builds a sqlite-backed store in a temp dir and connects it.
func newTestStore(t *testing.T, strict bool, opts ...Option) *testStore {
	t.Helper()
	ts := newUnconnectedStore(t, strict, opts...)
	if err := ts.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return ts
}

func newUnconnectedStore(t *testing.T, strict bool, opts ...Option) *testStore {
	t.Helper()
	dir := t.TempDir()
	ts := &testStore{
		dir:       dir,
		localPath: filepath.Join(dir, "local.db"),
		timer:     &recordingTimer{},
		events:    &eventRecorder{},
	}

	cfg := DefaultConfig()
	cfg.Local = sqliteConfig(ts.localPath)
	cfg.Strict = strict
	cfg.Retry = testRetryPolicy()

	all := append([]Option{
		WithTimer(ts.timer),
		WithTelemetry(testTelemetry(t, ts.events)),
	}, opts...)
	ts.Store = New(cfg, all...)
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}

func (ts *testStore) externalPath() string {
	return filepath.Join(ts.dir, "external.db")
}

// openRaw opens a sqlite file outside the store for assertions.
func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := DefaultDialer(sqliteConfig(path))
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

const insertCall = `INSERT INTO calls (call_sid, from_number, to_number, direction, status, start_time)
	VALUES (?, '+15550001', '+15550002', 'inbound', ?, '2024-01-01 00:00:00')`
