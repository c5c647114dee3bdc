package stores

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// Config configures a Store.
type Config struct {
	// Local is the mandatory local store. Its Driver is shared with the
	// external store.
	Local ConnectionConfig

	// External is the statically configured external store, used when
	// UseExternal is set and nothing was persisted.
	External    ConnectionConfig
	UseExternal bool

	Pool  PoolBounds
	Retry RetryPolicy

	// Strict propagates exhausted retries as errors. When false they are
	// logged and degraded to empty results or false.
	Strict bool

	// IdentityTable names the table that never leaves the local store.
	IdentityTable string

	// ProvisionLocal creates the local schema on Connect.
	ProvisionLocal bool

	// PersistSettings stores the external-store preference in the local
	// store and prefers it over static configuration on Connect.
	PersistSettings bool

	// ReplicationTimeout bounds one mirror task.
	ReplicationTimeout time.Duration
}

// DefaultConfig returns the defaults the service has always run with.
func DefaultConfig() Config {
	return Config{
		Local:              ConnectionConfig{Driver: DriverMySQL},
		Pool:               DefaultPoolBounds(),
		Retry:              DefaultRetryPolicy(),
		Strict:             true,
		IdentityTable:      "users",
		ProvisionLocal:     true,
		PersistSettings:    true,
		ReplicationTimeout: 30 * time.Second,
	}
}

// Option configures a Store.
type Option func(*Store)

// WithTelemetry sets logging, tracing, metrics and events.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *Store) { s.tel = tel }
}

// WithDialer replaces how pools are opened.
func WithDialer(d Dialer) Option {
	return func(s *Store) { s.dial = d }
}

// WithTimer replaces the backoff timer.
func WithTimer(t backoff.Timer) Option {
	return func(s *Store) { s.timer = t }
}

// WithSealer seals the persisted external secret.
func WithSealer(sealer SecretSealer) Option {
	return func(s *Store) { s.sealer = sealer }
}

// Store is the data-access facade over a mandatory local store and an
// optional external store.
//
// Identity statements always run locally. Everything else runs on the
// active store; successful external writes are mirrored to local.
type Store struct {
	cfg        Config
	state      *ActiveState
	router     *Router
	classifier Classifier
	exec       *Executor

	replicator  *Replicator
	provisioner *Provisioner
	settings    *SettingsRepository

	dial   Dialer
	timer  backoff.Timer
	sealer SecretSealer

	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
	poolLogger *telemetry.Logger
}

// New creates a Store. It does not connect.
func New(cfg Config, opts ...Option) *Store {
	s := &Store{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.tel == nil {
		s.tel = telemetry.Nop()
	}
	if s.dial == nil {
		s.dial = DefaultDialer
	}
	if s.cfg.Local.Driver == "" {
		s.cfg.Local.Driver = DriverMySQL
	}
	if s.cfg.ReplicationTimeout <= 0 {
		s.cfg.ReplicationTimeout = DefaultConfig().ReplicationTimeout
	}

	s.logger = s.tel.Logger.NewComponentLogger("store")
	s.poolLogger = s.tel.Logger.NewComponentLogger("pool")
	s.state = &ActiveState{}
	s.router = NewRouter(s.state)
	s.classifier = NewClassifier(cfg.IdentityTable)
	s.exec = NewExecutor(cfg.Retry, cfg.Strict, s.tel.Logger.NewComponentLogger("retry"), s.tel.Metrics)
	s.exec.SetTimer(s.timer)
	s.replicator = NewReplicator(s.state, s.cfg.ReplicationTimeout, s.tel)
	s.provisioner = NewProvisioner(s.cfg.Local.Driver, s.tel)
	s.settings = NewSettingsRepository(s.cfg.Local.Driver, s.sealer)
	return s
}

// Connect establishes the local store, then the external store when one
// is preferred. An external store that cannot be attached leaves the
// process on the local store: Connect logs a critical failure and returns
// nil. Only a configuration error is returned in that case.
func (s *Store) Connect(ctx context.Context) (err error) {
	ctx, span := s.tel.Tracer.StartStoreSpan(ctx, "connect")
	defer func() { telemetry.EndSpan(span, err) }()

	s.state.Lock()
	defer s.state.Unlock()

	ok, err := s.connectLocalLocked(ctx)
	if err != nil || !ok {
		return err
	}

	want, extCfg := s.externalPreference(ctx)
	if !want || s.state.Mode() == ModeActive {
		return nil
	}

	s.logger.Info("Using external database configuration")
	if err := s.attachExternalLocked(ctx, extCfg); err != nil {
		s.logger.WithError(err).Criticalf("Failed to connect to external database after maximum retries")
		s.logger.Info("Falling back to local database")
		_ = s.tel.Events.PublishFallback("connect", err.Error())
		if KindOf(err) == KindConfiguration {
			return err
		}
	}
	return nil
}

// connectLocalLocked opens the local pool if it is not open yet. It
// returns false with a nil error when permissive mode swallowed the failure.
func (s *Store) connectLocalLocked(ctx context.Context) (bool, error) {
	if s.state.Local().Alive() {
		return true, nil
	}

	h, err := s.openWithRetry(ctx, TargetLocal, s.cfg.Local)
	if err != nil {
		s.logger.WithError(err).Criticalf("Failed to connect to local database after maximum retries")
		if s.cfg.Strict || KindOf(err) == KindConfiguration {
			return false, err
		}
		return false, nil
	}

	if old := s.state.setLocal(h); old != nil {
		_ = old.Close()
	}
	s.replicator.Open()
	if s.state.Mode() == ModeDisabled {
		s.tel.Metrics.SetActiveStore(string(TargetLocal))
	}
	_ = s.tel.Events.PublishConnected(string(TargetLocal), s.cfg.Local.String())

	if s.cfg.ProvisionLocal {
		if err := s.provisioner.Provision(ctx, s.exec.strictCopy(), h, true); err != nil {
			// The pool is usable; tables may already exist.
			s.logger.WithError(err).Error("Error creating tables")
		}
	}
	return true, nil
}

// openWithRetry opens and probes a pool under the retry policy.
func (s *Store) openWithRetry(ctx context.Context, target Target, cfg ConnectionConfig) (*Handle, error) {
	h, err := RunWithRetry(ctx, s.exec.strictCopy(), "connect", KindConnection, func(ctx context.Context, attempt int) Outcome[*Handle] {
		h, err := OpenHandle(ctx, target, cfg, s.cfg.Pool, s.dial, s.poolLogger)
		if err != nil {
			s.tel.Metrics.RecordPoolOpen(string(target), "failure")
			s.logger.WithTarget(string(target)).WithError(err).
				Errorf("Error connecting to %s database (attempt %d/%d)", target, attempt, s.exec.Policy().MaxAttempts)
			return Retry[*Handle](err)
		}
		s.tel.Metrics.RecordPoolOpen(string(target), "success")
		return Succeed(h)
	})
	if err != nil {
		var se *StoreError
		if errors.As(err, &se) {
			se.Target = target
		}
		return nil, err
	}
	return h, nil
}

// externalPreference decides whether an external store is wanted and with
// which parameters. Persisted settings win over static configuration.
func (s *Store) externalPreference(ctx context.Context) (bool, ConnectionConfig) {
	if s.cfg.PersistSettings {
		saved, err := s.settings.Load(ctx, s.state.Local())
		switch {
		case err != nil:
			s.logger.WithError(err).Warn("Error loading external database config")
		case saved != nil:
			return saved.Enabled, saved.ConnectionConfig(s.cfg.Local.Driver)
		}
	}
	if !s.cfg.UseExternal {
		return false, ConnectionConfig{}
	}
	cfg := s.cfg.External
	cfg.Driver = s.cfg.Local.Driver
	return true, cfg
}

// ensureReady reconnects on demand. Strict mode tries Connect once;
// permissive mode reports not ready without an error.
func (s *Store) ensureReady(ctx context.Context, what string) (bool, error) {
	if s.state.Local().Alive() {
		return true, nil
	}
	if !s.cfg.Strict {
		s.logger.Warnf("Database not connected, cannot execute %s", what)
		return false, nil
	}
	if err := s.Connect(ctx); err != nil {
		return false, err
	}
	if !s.state.Local().Alive() {
		return false, &StoreError{
			Kind:    KindConnection,
			Op:      "connect",
			Target:  TargetLocal,
			Message: "database connection failed, cannot execute " + what,
		}
	}
	return true, nil
}

// Execute runs one statement and returns whatever rows it produced, an
// empty slice for statements without a result set. The class only decides
// routing and mirroring. In permissive mode a failure returns nil rows and a nil
// error after logging.
func (s *Store) Execute(ctx context.Context, query string, args []any, forceLocal bool) (rows []Row, err error) {
	st := Statement{SQL: query, Args: args}
	class := s.classifier.Classify(query)

	ctx, span := s.tel.Tracer.StartStoreSpan(ctx, "execute",
		telemetry.AttrClass.String(class.String()),
		telemetry.AttrForceLocal.Bool(forceLocal),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if ok, err := s.ensureReady(ctx, "query"); !ok {
		return nil, err
	}

	if class.Identity() && !forceLocal && s.state.UsingExternal() {
		s.logger.Debug("Using local database for user-related query")
	}

	timer := telemetry.NewTimer()
	var (
		used      *Handle
		succeeded bool
	)
	rows, err = RunWithRetry(ctx, s.exec, "execute", KindStatement, func(ctx context.Context, attempt int) Outcome[[]Row] {
		h, err := s.router.SelectTarget(class, forceLocal)
		if err != nil {
			return Retry[[]Row](err)
		}
		used = h

		out, err := queryOn(ctx, h, st)
		if err != nil {
			return Retry[[]Row](err)
		}
		succeeded = true
		return Succeed(out)
	})
	s.observe("execute", used, succeeded, timer)
	if err != nil {
		return nil, withTarget(err, used)
	}

	if succeeded && used.Target() == TargetExternal && class.Mirrored() {
		s.replicator.Mirror(ctx, []Statement{st}, false)
	}
	return rows, nil
}

// ExecuteTransaction runs stmts atomically on one store. A failure rolls
// back the batch and the retry policy replays it from the first statement.
func (s *Store) ExecuteTransaction(ctx context.Context, stmts []Statement, forceLocal bool) (ok bool, err error) {
	class := s.classifier.ClassifyBatch(stmts)

	ctx, span := s.tel.Tracer.StartStoreSpan(ctx, "transaction",
		telemetry.AttrClass.String(class.String()),
		telemetry.AttrStatements.Int(len(stmts)),
		telemetry.AttrForceLocal.Bool(forceLocal),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if ready, err := s.ensureReady(ctx, "transaction"); !ready {
		return false, err
	}

	timer := telemetry.NewTimer()
	var used *Handle
	ok, err = RunWithRetry(ctx, s.exec, "transaction", KindTransaction, func(ctx context.Context, attempt int) Outcome[bool] {
		h, err := s.router.SelectTarget(class, forceLocal)
		if err != nil {
			return Retry[bool](err)
		}
		used = h
		if err := txOn(ctx, h, stmts); err != nil {
			return Retry[bool](err)
		}
		return Succeed(true)
	})
	s.observe("transaction", used, ok, timer)
	if err != nil {
		return false, withTarget(err, used)
	}

	if ok && used.Target() == TargetExternal && class.Mirrored() {
		s.replicator.Mirror(ctx, stmts, true)
	}
	return ok, nil
}

// ExecuteMigration reads a script, splits it into statements and runs them
// as one transaction. A missing or unreadable file is a configuration
// error.
func (s *Store) ExecuteMigration(ctx context.Context, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.WithError(err).Errorf("Migration file not found: %s", path)
		return false, &StoreError{Kind: KindConfiguration, Op: "migrate", Message: "cannot read migration file " + path, Err: err}
	}

	stmts := SplitStatements(s.cfg.Local.Driver, string(data))
	ok, err := s.ExecuteTransaction(ctx, stmts, false)
	if ok {
		s.logger.Infof("Migration successful: %s", path)
	} else {
		s.logger.Errorf("Migration failed: %s", path)
	}
	return ok, err
}

// Provision applies the embedded schema to target. The local store also
// receives the identity tables.
func (s *Store) Provision(ctx context.Context, target Target) error {
	var h *Handle
	switch target {
	case TargetLocal:
		h = s.state.Local()
	case TargetExternal:
		h = s.state.External()
	default:
		return configurationError("provision", fmt.Sprintf("unknown target %q", target))
	}
	if !h.Alive() {
		return &StoreError{Kind: KindConnection, Op: "provision", Target: target, Err: ErrNotConnected}
	}
	return s.provisioner.Provision(ctx, s.exec.strictCopy(), h, target == TargetLocal)
}

// Status reports the dashboard view. It never includes the secret.
func (s *Store) Status() Status {
	st := Status{
		UsingExternal: s.state.UsingExternal(),
		Connected:     s.state.Active().Alive(),
	}
	if ext := s.state.External(); ext != nil {
		summary := ext.Config().Summary()
		st.ExternalConfig = &summary
	}
	return st
}

// Mode returns the external store mode.
func (s *Store) Mode() ExternalMode { return s.state.Mode() }

// ReplicationStats returns the mirror counters.
func (s *Store) ReplicationStats() ReplicationStats { return s.replicator.Stats() }

// WaitReplication blocks until scheduled mirror tasks have finished.
func (s *Store) WaitReplication() { s.replicator.Wait() }

// Close drains mirror tasks and stops accepting new ones, then releases
// both pools.
func (s *Store) Close() error {
	s.state.Lock()
	defer s.state.Unlock()

	s.replicator.Close()

	local, external := s.state.clear()
	var errs []error
	if external != nil && external != local {
		errs = append(errs, external.Close())
	}
	if local != nil {
		errs = append(errs, local.Close())
	}

	s.logger.Info("Database connections closed")
	_ = s.tel.Events.PublishClosed()
	return errors.Join(errs...)
}

func (s *Store) observe(op string, h *Handle, ok bool, timer *telemetry.Timer) {
	target, status := "none", "failure"
	if h != nil {
		target = string(h.Target())
	}
	if ok {
		status = "success"
	}
	s.tel.Metrics.RecordOperation(op, target, status, timer.Duration())
}

func withTarget(err error, h *Handle) error {
	var se *StoreError
	if h != nil && errors.As(err, &se) && se.Target == "" {
		se.Target = h.Target()
	}
	return err
}
