package stores

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// withStoreConfig edits the configuration before the store connects.
func withStoreConfig(fn func(*Config)) Option {
	return func(s *Store) { fn(&s.cfg) }
}

// reverseSealer is a reversible stand-in that never stores the plaintext.
type reverseSealer struct{}

func (reverseSealer) Seal(p []byte) (string, error) {
	out := make([]byte, len(p))
	for i, b := range p {
		out[len(p)-1-i] = b
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func (reverseSealer) Open(s string) ([]byte, error) {
	p, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(p))
	for i, b := range p {
		out[len(p)-1-i] = b
	}
	return out, nil
}

func (ts *testStore) enableExternal(t *testing.T) {
	t.Helper()
	ok, err := ts.SwitchToExternal(context.Background(), true, &ConnectionConfig{Database: ts.externalPath()})
	if err != nil || !ok {
		t.Fatalf("SwitchToExternal(true) = %v, %v", ok, err)
	}
	if !ts.Status().UsingExternal {
		t.Fatal("external store not active after a successful switch")
	}
}

// mustExecute runs query and fails the test on error.
func (ts *testStore) mustExecute(t *testing.T, query string, args ...any) []Row {
	t.Helper()
	rows, err := ts.Execute(context.Background(), query, args, false)
	if err != nil {
		t.Fatalf("Execute(%q) error = %v", query, err)
	}
	return rows
}

// wantStoreError asserts err is a *StoreError of kind.
func wantStoreError(t *testing.T, err error, kind ErrorKind) *StoreError {
	t.Helper()
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StoreError", err)
	}
	if se.Kind != kind {
		t.Errorf("Kind = %s, want %s", se.Kind, kind)
	}
	return se
}

func TestStore_ExecuteSelectOne(t *testing.T) {
	ts := newTestStore(t, true)

	rows := ts.mustExecute(t, "SELECT 1")
	if len(rows) != 1 || rows[0]["1"] != int64(1) {
		t.Fatalf("rows = %v, want [{1: 1}]", rows)
	}

	st := ts.Status()
	if !st.Connected || st.UsingExternal || st.ExternalConfig != nil {
		t.Errorf("Status() = %+v, want connected to local only", st)
	}
	for _, typ := range []string{telemetry.EventTypeStoreConnected, telemetry.EventTypeSchemaProvisioned} {
		if !ts.events.has(typ) {
			t.Errorf("missing %s event", typ)
		}
	}
}

func TestStore_WriteReturnsEmptyRows(t *testing.T) {
	ts := newTestStore(t, true)

	rows := ts.mustExecute(t, insertCall, "CA1", "queued")
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %#v, want an empty non-nil slice", rows)
	}
}

func TestStore_ExecuteReturnsRowsOfAnyStatement(t *testing.T) {
	ts := newTestStore(t, true)
	ts.mustExecute(t, insertCall, "CA1", "queued")

	tests := []struct {
		name   string
		query  string
		args   []any
		column string
		want   any
	}{
		{
			name:   "common table expression",
			query:  "WITH c AS (SELECT call_sid FROM calls) SELECT call_sid FROM c",
			column: "call_sid",
			want:   "CA1",
		},
		{
			name:   "insert returning",
			query:  insertCall + " RETURNING call_sid",
			args:   []any{"CA2", "queued"},
			column: "call_sid",
			want:   "CA2",
		},
		{
			name:   "values",
			query:  "VALUES (7)",
			column: "column1",
			want:   int64(7),
		},
		{
			name:   "pragma",
			query:  "PRAGMA user_version",
			column: "user_version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := ts.mustExecute(t, tt.query, tt.args...)
			if len(rows) != 1 {
				t.Fatalf("rows = %v, want exactly one", rows)
			}
			got, ok := rows[0][tt.column]
			if !ok {
				t.Fatalf("row %v has no %s column", rows[0], tt.column)
			}
			if tt.want != nil && got != tt.want {
				t.Errorf("%s = %#v, want %#v", tt.column, got, tt.want)
			}
		})
	}

	if n := countRows(t, openRaw(t, ts.localPath), "SELECT COUNT(*) FROM calls"); n != 2 {
		t.Errorf("calls = %d, want the returning insert applied once", n)
	}
}

func TestStore_ReturningWriteIsMirrored(t *testing.T) {
	ts := newTestStore(t, true)
	ts.enableExternal(t)

	rows := ts.mustExecute(t, insertCall+" RETURNING status", "CA7", "queued")
	if len(rows) != 1 || rows[0]["status"] != "queued" {
		t.Fatalf("rows = %v, want the inserted status", rows)
	}
	rows = ts.mustExecute(t, "WITH c AS (SELECT call_sid FROM calls) SELECT COUNT(*) AS n FROM c")
	if len(rows) != 1 || rows[0]["n"] != int64(1) {
		t.Fatalf("rows = %v, want n=1", rows)
	}

	ts.WaitReplication()
	if got := ts.ReplicationStats(); got != (ReplicationStats{Mirrored: 1}) {
		t.Errorf("Stats() = %+v, want only the insert mirrored", got)
	}
	if n := countRows(t, openRaw(t, ts.localPath), "SELECT COUNT(*) FROM calls WHERE call_sid = 'CA7'"); n != 1 {
		t.Errorf("local calls = %d, want the mirrored row", n)
	}
}

func TestStore_ExternalRoundTrip(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t, true)
	ts.enableExternal(t)

	st := ts.Status()
	if st.ExternalConfig == nil || st.ExternalConfig.Database != ts.externalPath() {
		t.Fatalf("ExternalConfig = %+v, want %s", st.ExternalConfig, ts.externalPath())
	}
	if ts.Mode() != ModeActive {
		t.Errorf("Mode() = %s, want active", ts.Mode())
	}

	ts.mustExecute(t, insertCall, "CA123", "in-progress")
	ts.mustExecute(t, "UPDATE calls SET status=? WHERE call_sid=?", "done", "CA123")
	ts.WaitReplication()

	local := openRaw(t, ts.localPath)
	external := openRaw(t, ts.externalPath())
	const done = "SELECT COUNT(*) FROM calls WHERE call_sid = ? AND status = 'done'"
	if n := countRows(t, external, done, "CA123"); n != 1 {
		t.Errorf("external rows = %d, want 1", n)
	}
	if n := countRows(t, local, done, "CA123"); n != 1 {
		t.Errorf("local rows = %d, want 1", n)
	}
	if got := ts.ReplicationStats(); got != (ReplicationStats{Mirrored: 2}) {
		t.Errorf("Stats() = %+v, want 2 mirrored", got)
	}

	rows := ts.mustExecute(t, "SELECT status FROM calls WHERE call_sid = ?", "CA123")
	if len(rows) != 1 || rows[0]["status"] != "done" {
		t.Errorf("rows = %v, want status done", rows)
	}

	ok, err := ts.SwitchToExternal(ctx, false, nil)
	if err != nil || !ok {
		t.Fatalf("SwitchToExternal(false) = %v, %v", ok, err)
	}
	if st := ts.Status(); st.UsingExternal || st.ExternalConfig != nil {
		t.Errorf("Status() = %+v after disable", st)
	}

	ts.mustExecute(t, insertCall, "CA456", "queued")
	ts.WaitReplication()

	if n := countRows(t, local, "SELECT COUNT(*) FROM calls WHERE call_sid = 'CA456'"); n != 1 {
		t.Errorf("local CA456 = %d, want 1", n)
	}
	if n := countRows(t, external, "SELECT COUNT(*) FROM calls WHERE call_sid = 'CA456'"); n != 0 {
		t.Errorf("external CA456 = %d, want 0", n)
	}
	if got := ts.ReplicationStats().Mirrored; got != 2 {
		t.Errorf("Mirrored = %d, local writes must not be mirrored", got)
	}
}

func TestStore_IdentityStaysLocal(t *testing.T) {
	ts := newTestStore(t, true)
	ts.enableExternal(t)

	ts.mustExecute(t, "INSERT INTO users (username, password_hash) VALUES (?, ?)", "admin", "x")

	rows := ts.mustExecute(t, "SELECT username FROM users")
	if len(rows) != 1 || rows[0]["username"] != "admin" {
		t.Fatalf("rows = %v, want admin", rows)
	}

	ts.WaitReplication()
	if got := ts.ReplicationStats(); got != (ReplicationStats{}) {
		t.Errorf("Stats() = %+v, identity writes are never mirrored", got)
	}

	external := openRaw(t, ts.externalPath())
	if n := countRows(t, external, "SELECT COUNT(*) FROM sqlite_master WHERE name = 'users'"); n != 0 {
		t.Error("identity table provisioned on the external store")
	}
}

func TestStore_ForceLocal(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t, true)
	ts.enableExternal(t)

	if _, err := ts.Execute(ctx, insertCall, []any{"CA9", "queued"}, true); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	ts.WaitReplication()

	if n := countRows(t, openRaw(t, ts.localPath), "SELECT COUNT(*) FROM calls"); n != 1 {
		t.Errorf("local calls = %d, want 1", n)
	}
	if n := countRows(t, openRaw(t, ts.externalPath()), "SELECT COUNT(*) FROM calls"); n != 0 {
		t.Errorf("external calls = %d, want 0", n)
	}
	if got := ts.ReplicationStats().Mirrored; got != 0 {
		t.Errorf("Mirrored = %d, want 0", got)
	}
}

func TestStore_MirrorFailureDoesNotFailWrite(t *testing.T) {
	ts := newTestStore(t, true)
	ts.enableExternal(t)

	if _, err := openRaw(t, ts.externalPath()).Exec("CREATE TABLE external_only (id INTEGER)"); err != nil {
		t.Fatalf("create external_only: %v", err)
	}

	if rows := ts.mustExecute(t, "INSERT INTO external_only (id) VALUES (?)", 1); len(rows) != 0 {
		t.Errorf("rows = %v, want none", rows)
	}

	ts.WaitReplication()
	if got := ts.ReplicationStats(); got != (ReplicationStats{Failed: 1}) {
		t.Errorf("Stats() = %+v, want 1 failed", got)
	}
	if !ts.events.has(telemetry.EventTypeReplicationFailed) {
		t.Error("missing replication failure event")
	}
	if !ts.Status().UsingExternal {
		t.Error("a mirror failure must not detach the external store")
	}
}

func TestStore_TransactionIsAtomic(t *testing.T) {
	batch := []Statement{
		{SQL: insertCall, Args: []any{"CA1", "queued"}},
		{SQL: "INSERT INTO missing_table VALUES (1)"},
	}

	t.Run("strict", func(t *testing.T) {
		ts := newTestStore(t, true)

		ok, err := ts.ExecuteTransaction(context.Background(), batch, false)
		if ok {
			t.Error("ExecuteTransaction() = true for a failing batch")
		}
		se := wantStoreError(t, err, KindTransaction)
		if se.Target != TargetLocal {
			t.Errorf("Target = %s, want local", se.Target)
		}
		if d := ts.timer.Delays(); len(d) != 2 {
			t.Errorf("delays = %v, want the batch replayed twice", d)
		}
		if n := countRows(t, openRaw(t, ts.localPath), "SELECT COUNT(*) FROM calls"); n != 0 {
			t.Errorf("calls = %d after rollback, want 0", n)
		}
	})

	t.Run("permissive", func(t *testing.T) {
		ts := newTestStore(t, false)

		ok, err := ts.ExecuteTransaction(context.Background(), batch, false)
		if ok || err != nil {
			t.Errorf("ExecuteTransaction() = %v, %v; want false, nil", ok, err)
		}
		if n := countRows(t, openRaw(t, ts.localPath), "SELECT COUNT(*) FROM calls"); n != 0 {
			t.Errorf("calls = %d after rollback, want 0", n)
		}
	})
}

func TestStore_TransactionMirrorsAsUnit(t *testing.T) {
	ts := newTestStore(t, true)
	ts.enableExternal(t)

	ok, err := ts.ExecuteTransaction(context.Background(), []Statement{
		{SQL: insertCall, Args: []any{"CA1", "queued"}},
		{SQL: insertCall, Args: []any{"CA2", "queued"}},
	}, false)
	if err != nil || !ok {
		t.Fatalf("ExecuteTransaction() = %v, %v", ok, err)
	}

	ts.WaitReplication()
	if got := ts.ReplicationStats(); got != (ReplicationStats{Mirrored: 1}) {
		t.Errorf("Stats() = %+v, want one mirror task", got)
	}
	for _, path := range []string{ts.localPath, ts.externalPath()} {
		if n := countRows(t, openRaw(t, path), "SELECT COUNT(*) FROM calls"); n != 2 {
			t.Errorf("%s calls = %d, want 2", filepath.Base(path), n)
		}
	}
}

func TestStore_StatementFailure(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		ts := newTestStore(t, true)
		rows, err := ts.Execute(context.Background(), "SELECT * FROM missing_table", nil, false)
		if rows != nil {
			t.Errorf("rows = %v, want nil", rows)
		}
		if se := wantStoreError(t, err, KindStatement); se.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", se.Attempts)
		}
	})

	t.Run("permissive", func(t *testing.T) {
		ts := newTestStore(t, false)
		rows, err := ts.Execute(context.Background(), "SELECT * FROM missing_table", nil, false)
		if rows != nil || err != nil {
			t.Errorf("Execute() = %v, %v; want nil, nil", rows, err)
		}
	})
}

func TestStore_TestConnectionLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t, true)
	before := ts.Status()

	if res := ts.TestConnection(ctx, sqliteConfig(ts.externalPath())); res != (TestResult{Success: true, Message: "Connection successful"}) {
		t.Errorf("TestConnection() = %+v, want success", res)
	}

	res := ts.TestConnection(ctx, sqliteConfig(filepath.Join(ts.dir, "missing", "x.db")))
	if res.Success || !strings.HasPrefix(res.Message, "Connection failed: ") {
		t.Errorf("TestConnection() = %+v, want a connection failure", res)
	}

	res = ts.TestConnection(ctx, ConnectionConfig{Host: "db.internal"})
	if res != (TestResult{Success: false, Message: "Missing required configuration parameters"}) {
		t.Errorf("TestConnection() = %+v, want missing parameters", res)
	}

	if after := ts.Status(); !statusEqual(before, after) {
		t.Errorf("Status() changed from %+v to %+v", before, after)
	}
	if ts.Mode() != ModeDisabled {
		t.Errorf("Mode() = %s, want disabled", ts.Mode())
	}
}

func statusEqual(a, b Status) bool {
	if a.UsingExternal != b.UsingExternal || a.Connected != b.Connected {
		return false
	}
	if a.ExternalConfig == nil || b.ExternalConfig == nil {
		return a.ExternalConfig == b.ExternalConfig
	}
	return *a.ExternalConfig == *b.ExternalConfig
}

func TestStore_SwitchWithoutConfig(t *testing.T) {
	for _, strict := range []bool{true, false} {
		ts := newTestStore(t, strict)

		for _, cfg := range []*ConnectionConfig{nil, {}} {
			ok, err := ts.SwitchToExternal(context.Background(), true, cfg)
			if ok || !errors.Is(err, ErrConfiguration) {
				t.Errorf("strict=%v cfg=%v: SwitchToExternal() = %v, %v; want configuration error", strict, cfg, ok, err)
			}
		}
		if ts.Status().UsingExternal {
			t.Errorf("strict=%v: external store active without configuration", strict)
		}
	}
}

func TestStore_SwitchFailureFallsBack(t *testing.T) {
	bad := &ConnectionConfig{Database: "/nonexistent/dir/external.db"}

	t.Run("strict", func(t *testing.T) {
		ts := newTestStore(t, true)
		ok, err := ts.SwitchToExternal(context.Background(), true, bad)
		if ok || !errors.Is(err, ErrConnection) {
			t.Errorf("SwitchToExternal() = %v, %v; want connection error", ok, err)
		}
		if ts.Mode() != ModeDisabled {
			t.Errorf("Mode() = %s, want disabled", ts.Mode())
		}
		if !ts.events.has(telemetry.EventTypeStoreFallback) {
			t.Error("missing fallback event")
		}
	})

	t.Run("permissive", func(t *testing.T) {
		ts := newTestStore(t, false)
		ok, err := ts.SwitchToExternal(context.Background(), true, bad)
		if ok || err != nil {
			t.Errorf("SwitchToExternal() = %v, %v; want false, nil", ok, err)
		}
		if ts.Mode() != ModeDisabled {
			t.Errorf("Mode() = %s, want disabled", ts.Mode())
		}

		ts.mustExecute(t, insertCall, "CA1", "queued")
		if n := countRows(t, openRaw(t, ts.localPath), "SELECT COUNT(*) FROM calls"); n != 1 {
			t.Errorf("local calls = %d, want 1", n)
		}
	})

	t.Run("failed attach ends on local", func(t *testing.T) {
		ts := newTestStore(t, true)
		ts.enableExternal(t)

		if _, err := ts.SwitchToExternal(context.Background(), true, bad); err == nil {
			t.Error("SwitchToExternal() expected error")
		}
		if ts.Status().UsingExternal {
			t.Error("external store still active after a failed attach")
		}
	})
}

func TestStore_NotConnected(t *testing.T) {
	t.Run("permissive reports without error", func(t *testing.T) {
		ts := newUnconnectedStore(t, false)

		rows, err := ts.Execute(context.Background(), "SELECT 1", nil, false)
		if rows != nil || err != nil {
			t.Errorf("Execute() = %v, %v; want nil, nil", rows, err)
		}

		ok, err := ts.ExecuteTransaction(context.Background(), []Statement{{SQL: "SELECT 1"}}, false)
		if ok || err != nil {
			t.Errorf("ExecuteTransaction() = %v, %v; want false, nil", ok, err)
		}
		if ts.Status().Connected {
			t.Error("store reports connected")
		}
	})

	t.Run("strict reconnects on demand", func(t *testing.T) {
		ts := newUnconnectedStore(t, true)

		if rows := ts.mustExecute(t, "SELECT 1"); len(rows) != 1 {
			t.Errorf("rows = %v, want one", rows)
		}
		if !ts.Status().Connected {
			t.Error("store not connected after an on-demand reconnect")
		}
	})

	t.Run("strict local failure", func(t *testing.T) {
		ts := newUnconnectedStore(t, true, withStoreConfig(func(c *Config) {
			c.Local = sqliteConfig("/nonexistent/dir/local.db")
		}))

		if _, err := ts.Execute(context.Background(), "SELECT 1", nil, false); !errors.Is(err, ErrConnection) {
			t.Errorf("Execute() error = %v, want ErrConnection", err)
		}
	})
}

func TestStore_ConnectFallsBackToLocal(t *testing.T) {
	ts := newUnconnectedStore(t, true, withStoreConfig(func(c *Config) {
		c.UseExternal = true
		c.External = sqliteConfig("/nonexistent/dir/external.db")
	}))

	if err := ts.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	st := ts.Status()
	if ts.Mode() != ModeDisabled || !st.Connected || st.UsingExternal {
		t.Errorf("mode=%s status=%+v, want connected to local", ts.Mode(), st)
	}
	if !ts.events.has(telemetry.EventTypeStoreFallback) {
		t.Error("missing fallback event")
	}
	if d := ts.timer.Delays(); len(d) != 2 {
		t.Errorf("delays = %v, want 2 retries", d)
	}
}

func TestStore_ConnectUsesStaticExternal(t *testing.T) {
	ts := newUnconnectedStore(t, true)
	ts.cfg.UseExternal = true
	ts.cfg.External = sqliteConfig(ts.externalPath())

	if err := ts.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !ts.Status().UsingExternal {
		t.Fatal("static external store not attached")
	}

	// Connecting again keeps the attached pool.
	ext := ts.state.External()
	if err := ts.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if ts.state.External() != ext {
		t.Error("second Connect() replaced the external pool")
	}
}

func TestStore_PersistedPreferenceSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.db")
	externalPath := filepath.Join(dir, "external.db")

	open := func() *Store {
		cfg := DefaultConfig()
		cfg.Local = sqliteConfig(localPath)
		cfg.Retry = testRetryPolicy()
		s := New(cfg, WithTimer(&recordingTimer{}), WithSealer(reverseSealer{}))
		if err := s.Connect(ctx); err != nil {
			t.Fatalf("Connect() error = %v", err)
		}
		return s
	}

	first := open()
	ok, err := first.SwitchToExternal(ctx, true, &ConnectionConfig{Database: externalPath, User: "svc", Secret: "s3cret"})
	if err != nil || !ok {
		t.Fatalf("SwitchToExternal(true) = %v, %v", ok, err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var blob string
	err = openRaw(t, localPath).QueryRow("SELECT setting_value FROM app_settings WHERE setting_key = ?", externalSettingsKey).Scan(&blob)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if strings.Contains(blob, "s3cret") {
		t.Error("persisted settings contain the plaintext secret")
	}

	var saved ExternalSettings
	if err := json.Unmarshal([]byte(blob), &saved); err != nil {
		t.Fatalf("decode settings: %v", err)
	}
	if !saved.Enabled || saved.SealedPassword == "" {
		t.Errorf("saved = %+v, want enabled with a sealed password", saved)
	}

	second := open()
	if !second.Status().UsingExternal {
		t.Error("restart did not re-attach the persisted external store")
	}
	if got := second.state.External().Config().Secret; got != "s3cret" {
		t.Errorf("restored secret = %q", got)
	}

	ok, err = second.SwitchToExternal(ctx, false, nil)
	if err != nil || !ok {
		t.Fatalf("SwitchToExternal(false) = %v, %v", ok, err)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	third := open()
	defer third.Close()
	if third.Status().UsingExternal {
		t.Error("disabled preference not honoured after restart")
	}

	loaded, err := third.settings.Load(ctx, third.state.Local())
	if err != nil {
		t.Fatalf("settings.Load() error = %v", err)
	}
	if loaded == nil || loaded.Enabled || loaded.Database != externalPath {
		t.Errorf("loaded = %+v, want disabled with the last parameters", loaded)
	}
}

func TestStore_ExecuteMigration(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t, true)

	script := filepath.Join(ts.dir, "0100_reports.sql")
	err := os.WriteFile(script, []byte(`
-- reporting tables
CREATE TABLE reports (id INTEGER PRIMARY KEY, title TEXT);
INSERT INTO reports (title) VALUES ('weekly; summary');
INSERT INTO reports (title) VALUES ('C:\');
`), 0o600)
	if err != nil {
		t.Fatalf("write script: %v", err)
	}

	ok, err := ts.ExecuteMigration(ctx, script)
	if err != nil || !ok {
		t.Fatalf("ExecuteMigration() = %v, %v", ok, err)
	}
	local := openRaw(t, ts.localPath)
	if n := countRows(t, local, "SELECT COUNT(*) FROM reports WHERE title = 'weekly; summary'"); n != 1 {
		t.Errorf("quoted semicolon split the statement")
	}
	if n := countRows(t, local, `SELECT COUNT(*) FROM reports WHERE title = 'C:\'`); n != 1 {
		t.Errorf("trailing backslash was treated as an escape")
	}

	ok, err = ts.ExecuteMigration(ctx, filepath.Join(ts.dir, "missing.sql"))
	if ok || !errors.Is(err, ErrConfiguration) {
		t.Errorf("ExecuteMigration(missing) = %v, %v; want configuration error", ok, err)
	}
}

func TestStore_Provision(t *testing.T) {
	ctx := context.Background()
	ts := newTestStore(t, true)

	if err := ts.Provision(ctx, TargetLocal); err != nil {
		t.Errorf("Provision(local) error = %v, provisioning is idempotent", err)
	}
	if err := ts.Provision(ctx, TargetExternal); !errors.Is(err, ErrConnection) {
		t.Errorf("Provision(external) error = %v, want ErrConnection", err)
	}
	if err := ts.Provision(ctx, Target("elsewhere")); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Provision(elsewhere) error = %v, want ErrConfiguration", err)
	}
}

func TestStore_Close(t *testing.T) {
	ts := newTestStore(t, true)
	ts.enableExternal(t)

	local, external := ts.state.Local(), ts.state.External()
	if err := ts.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if local.Alive() || external.Alive() {
		t.Error("pools still alive after Close")
	}
	if ts.Status().Connected {
		t.Error("Status() reports connected after Close")
	}
	if !ts.events.has(telemetry.EventTypeStoreClosed) {
		t.Error("missing closed event")
	}
	if err := ts.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStore_ReconnectAfterCloseMirrors(t *testing.T) {
	ts := newTestStore(t, true)
	ts.enableExternal(t)
	if err := ts.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if err := ts.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !ts.Status().UsingExternal {
		t.Fatal("persisted external store not re-attached")
	}
	ts.mustExecute(t, insertCall, "CA8", "queued")
	ts.WaitReplication()

	if got := ts.ReplicationStats(); got != (ReplicationStats{Mirrored: 1}) {
		t.Errorf("Stats() = %+v, want the write mirrored after reconnect", got)
	}
}
