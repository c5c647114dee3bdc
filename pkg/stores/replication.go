package stores

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// ReplicationStats counts finished mirror tasks.
type ReplicationStats struct {
	Mirrored uint64 `json:"mirrored"`
	Failed   uint64 `json:"failed"`
}

// Replicator mirrors successful external writes to the local store.
//
// Each Mirror call spawns one task that runs exactly once; failures are
// never retried and never reach the caller. Local and external may diverge
// until the next write to the same rows, and nothing reconciles them.
type Replicator struct {
	state   *ActiveState
	timeout time.Duration
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	tracer  *telemetry.Tracer

	// mu orders wg.Add against draining.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	mirrored atomic.Uint64
	failed   atomic.Uint64
}

// ErrReplicationStopped is the failure recorded for a mirror scheduled
// after Close.
var ErrReplicationStopped = errors.New("replication stopped")

// NewReplicator creates a replicator writing to state's local handle.
// timeout bounds one mirror task.
func NewReplicator(state *ActiveState, timeout time.Duration, tel *telemetry.Telemetry) *Replicator {
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Replicator{
		state:   state,
		timeout: timeout,
		logger:  tel.Logger.NewComponentLogger("replication"),
		metrics: tel.Metrics,
		events:  tel.Events,
		tracer:  tel.Tracer,
	}
}

// Mirror schedules stmts against the local store and returns the task id
// without waiting. A transactional mirror applies the batch as a unit.
// The task outlives ctx's cancellation but keeps its values.
func (r *Replicator) Mirror(ctx context.Context, stmts []Statement, transactional bool) string {
	taskID := uuid.NewString()
	batch := append([]Statement(nil), stmts...)
	base := context.WithoutCancel(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.fail(taskID, len(batch), ErrReplicationStopped)
		return taskID
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(base, taskID, batch, transactional)
	}()
	return taskID
}

func (r *Replicator) run(ctx context.Context, taskID string, stmts []Statement, transactional bool) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := r.tracer.StartStoreSpan(ctx, "replicate",
		telemetry.AttrTarget.String(string(TargetLocal)),
		telemetry.AttrStatements.Int(len(stmts)),
	)

	err := r.apply(ctx, stmts, transactional)
	telemetry.EndSpan(span, err)
	if err == nil {
		r.mirrored.Add(1)
		r.metrics.RecordReplication("success")
		return
	}

	r.fail(taskID, len(stmts), err)
}

func (r *Replicator) fail(taskID string, statements int, err error) {
	w := &ReplicationWarning{TaskID: taskID, Statements: statements, Err: err}
	r.failed.Add(1)
	r.metrics.RecordReplication("failure")
	r.logger.WithTaskID(taskID).WithError(err).Warnf("Failed to backup to local database: %v", w)
	_ = r.events.PublishReplicationFailed(taskID, statements, err.Error())
}

func (r *Replicator) apply(ctx context.Context, stmts []Statement, transactional bool) error {
	h := r.state.Local()
	if h == nil {
		return ErrNotConnected
	}
	if transactional {
		return txOn(ctx, h, stmts)
	}
	for _, st := range stmts {
		if err := execOn(ctx, h, st); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every scheduled task has finished. Mirror calls made
// meanwhile wait for the drain.
func (r *Replicator) Wait() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wg.Wait()
}

// Close drains scheduled tasks. Later Mirror calls are dropped and counted
// as failures until Open.
func (r *Replicator) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.wg.Wait()
}

// Open accepts mirror tasks again after Close.
func (r *Replicator) Open() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = false
}

// Stats returns the mirror counters.
func (r *Replicator) Stats() ReplicationStats {
	return ReplicationStats{
		Mirrored: r.mirrored.Load(),
		Failed:   r.failed.Load(),
	}
}
