package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/stacklok/cadence-sync/internal/otel"
	"github.com/stacklok/cadence-sync/internal/telemetry"
)

const (
	// DefaultMaxAttempts is the attempt ceiling before an operation is quarantined
	DefaultMaxAttempts = 5

	// DefaultOperationTimeout bounds a single handler call
	DefaultOperationTimeout = 30 * time.Second

	// DefaultInitialInterval is the delay after the first failed attempt
	DefaultInitialInterval = 2 * time.Second

	// DefaultMaxInterval caps the delay between attempts
	DefaultMaxInterval = 10 * time.Minute

	// DefaultMultiplier grows the delay after each failed attempt
	DefaultMultiplier = 2.0
)

// ErrInvalidOperation is returned by Enqueue for a missing type or a payload
// that is not JSON
var ErrInvalidOperation = errors.New("invalid operation")

// ErrNotQuarantined is returned by Retry and Discard for operations that are
// not in the failed-permanent state
var ErrNotQuarantined = errors.New("operation is not quarantined")

// Handler executes one queued operation against the remote service. An error
// wrapped with backoff.Permanent quarantines the operation immediately; any
// other error is retried.
//
//go:generate mockgen -destination=mocks/mock_handler.go -package=mocks -source=queue.go Handler
type Handler interface {
	Execute(ctx context.Context, op Operation) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, op Operation) error

// Execute calls f
func (f HandlerFunc) Execute(ctx context.Context, op Operation) error {
	return f(ctx, op)
}

// Option configures a Queue
type Option func(*Queue)

// WithHandler registers the handler for an operation type
func WithHandler(opType string, h Handler) Option {
	return func(q *Queue) {
		q.handlers[opType] = h
	}
}

// WithDefaultHandler sets the handler for types without a registered handler
func WithDefaultHandler(h Handler) Option {
	return func(q *Queue) {
		q.defaultHandler = h
	}
}

// WithMaxAttempts sets the attempt ceiling
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		q.maxAttempts = n
	}
}

// WithOperationTimeout bounds each handler call
func WithOperationTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.operationTimeout = d
	}
}

// WithBackoff sets the exponential delay between attempts of one operation
func WithBackoff(initial, maxInterval time.Duration, multiplier float64) Option {
	return func(q *Queue) {
		q.initialInterval = initial
		q.maxInterval = maxInterval
		q.multiplier = multiplier
	}
}

// WithClock sets the clock used for timestamps and backoff
func WithClock(c clock.PassiveClock) Option {
	return func(q *Queue) {
		q.clock = c
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.QueueMetrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithTracer sets the tracer used for drain spans
func WithTracer(t trace.Tracer) Option {
	return func(q *Queue) {
		q.tracer = t
	}
}

// Queue is the single writer of the operation store
type Queue struct {
	store          Store
	handlers       map[string]Handler
	defaultHandler Handler

	maxAttempts      int
	operationTimeout time.Duration
	initialInterval  time.Duration
	maxInterval      time.Duration
	multiplier       float64

	clock   clock.PassiveClock
	metrics *telemetry.QueueMetrics
	tracer  trace.Tracer

	// mu serializes store mutations
	mu sync.Mutex
	// draining admits one drain at a time
	draining *semaphore.Weighted
}

// New creates a Queue over store. Operations left in flight by a previous
// process are recovered: they count as a failed attempt and return to pending,
// or are quarantined if that reaches the attempt ceiling.
func New(ctx context.Context, store Store, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}

	q := &Queue{
		store:            store,
		handlers:         make(map[string]Handler),
		maxAttempts:      DefaultMaxAttempts,
		operationTimeout: DefaultOperationTimeout,
		initialInterval:  DefaultInitialInterval,
		maxInterval:      DefaultMaxInterval,
		multiplier:       DefaultMultiplier,
		clock:            clock.RealClock{},
		draining:         semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.maxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be positive, got %d", q.maxAttempts)
	}
	if q.operationTimeout <= 0 {
		return nil, fmt.Errorf("operation timeout must be positive, got %s", q.operationTimeout)
	}

	if err := q.recoverInFlight(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) recoverInFlight(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list operations: %w", err)
	}

	for _, op := range ops {
		if op.Status != StatusInFlight {
			continue
		}
		op.AttemptCount++
		op.LastError = "interrupted before completion"
		if op.AttemptCount >= q.maxAttempts {
			op.Status = StatusFailedPermanent
			op.NextAttemptAt = nil
		} else {
			op.Status = StatusPending
		}
		slog.Warn("Recovered interrupted operation",
			"operation_id", op.ID,
			"type", op.Type,
			"attempt_count", op.AttemptCount,
			"status", op.Status)
		if err := q.store.Update(ctx, op); err != nil {
			return fmt.Errorf("failed to recover operation %s: %w", op.ID, err)
		}
	}
	return nil
}

// Enqueue durably appends an operation and returns its id. It never touches
// the network.
func (q *Queue) Enqueue(ctx context.Context, opType string, payload json.RawMessage) (string, error) {
	if opType == "" {
		return "", fmt.Errorf("%w: type is required", ErrInvalidOperation)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return "", fmt.Errorf("%w: payload must be valid JSON", ErrInvalidOperation)
	}

	op := &Operation{
		ID:        uuid.NewString(),
		Type:      opType,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: q.clock.Now().UTC(),
		Status:    StatusPending,
	}

	q.mu.Lock()
	err := q.store.Append(ctx, op)
	q.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue operation: %w", err)
	}

	slog.Debug("Operation enqueued", "operation_id", op.ID, "type", opType, "sequence", op.Sequence)
	q.recordPending(ctx)
	return op.ID, nil
}

// Drain executes pending operations in creation order. If another drain is
// running it returns immediately with Skipped set. The returned error reports
// store failures or cancellation; handler failures become operation state.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.draining.TryAcquire(1) {
		slog.Debug("Drain already in progress, skipping")
		return DrainResult{Skipped: true}, nil
	}
	defer q.draining.Release(1)

	ctx, span := otel.StartSpan(ctx, q.tracer, "queue.Drain")
	defer span.End()
	q.metrics.RecordDrain(ctx)

	result, err := q.drain(ctx)

	span.SetAttributes(
		otel.AttrDrainExecuted.Int(len(result.Succeeded)),
		otel.AttrDrainQuarantined.Int(len(result.Quarantined)),
	)
	otel.RecordError(span, err)
	q.recordPending(context.WithoutCancel(ctx))

	slog.Info("Drain finished",
		"succeeded", len(result.Succeeded),
		"quarantined", len(result.Quarantined),
		"retrying", result.Retrying,
		"deferred", result.Deferred)
	return result, err
}

func (q *Queue) drain(ctx context.Context) (DrainResult, error) {
	var result DrainResult
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		op, ok, err := q.head(ctx)
		if err != nil {
			return result, err
		}
		if !ok {
			return result, nil
		}
		if op.NextAttemptAt != nil && q.clock.Now().Before(*op.NextAttemptAt) {
			result.Deferred = true
			return result, nil
		}

		status, err := q.execute(ctx, op)
		if err != nil {
			return result, err
		}
		switch status {
		case telemetry.ResultSucceeded:
			result.Succeeded = append(result.Succeeded, op.ID)
		case telemetry.ResultQuarantined:
			result.Quarantined = append(result.Quarantined, op.ID)
		case telemetry.ResultRetrying:
			result.Retrying = op.ID
			return result, nil
		}
	}
}

// head returns the oldest operation that is not quarantined
func (q *Queue) head(ctx context.Context) (Operation, bool, error) {
	ops, err := q.store.List(ctx)
	if err != nil {
		return Operation{}, false, fmt.Errorf("failed to list operations: %w", err)
	}
	for _, op := range ops {
		if op.Status != StatusFailedPermanent {
			return op, true, nil
		}
	}
	return Operation{}, false, nil
}

// execute runs one operation and records its new state
func (q *Queue) execute(ctx context.Context, op Operation) (string, error) {
	ctx, span := otel.StartSpan(ctx, q.tracer, "queue.Execute", trace.WithAttributes(
		otel.AttrOperationID.String(op.ID),
		otel.AttrOperationType.String(op.Type),
		otel.AttrOperationAttempt.Int(op.AttemptCount+1),
	))
	defer span.End()

	// Bookkeeping writes must land even if the drain is being cancelled
	storeCtx := context.WithoutCancel(ctx)

	op.Status = StatusInFlight
	if err := q.update(storeCtx, op); err != nil {
		otel.RecordError(span, err)
		return "", err
	}

	execErr := q.call(ctx, op)

	if execErr != nil && ctx.Err() != nil {
		// Interrupted by shutdown: not the operation's fault
		op.Status = StatusPending
		if err := q.update(storeCtx, op); err != nil {
			return "", err
		}
		return "", ctx.Err()
	}

	if execErr == nil {
		q.mu.Lock()
		err := q.store.Delete(storeCtx, op.ID)
		q.mu.Unlock()
		if err != nil {
			otel.RecordError(span, err)
			return "", fmt.Errorf("failed to remove completed operation %s: %w", op.ID, err)
		}
		slog.Info("Operation completed", "operation_id", op.ID, "type", op.Type, "attempt", op.AttemptCount+1)
		q.metrics.RecordExecution(ctx, op.Type, telemetry.ResultSucceeded)
		return telemetry.ResultSucceeded, nil
	}

	otel.RecordError(span, execErr)
	op.AttemptCount++
	op.LastError = execErr.Error()

	var permanent *backoff.PermanentError
	result := telemetry.ResultRetrying
	if errors.As(execErr, &permanent) || op.AttemptCount >= q.maxAttempts {
		result = telemetry.ResultQuarantined
		op.Status = StatusFailedPermanent
		op.NextAttemptAt = nil
		slog.Error("Operation quarantined",
			"operation_id", op.ID,
			"type", op.Type,
			"attempt_count", op.AttemptCount,
			"error", execErr)
	} else {
		next := q.clock.Now().Add(q.delay(op.AttemptCount))
		op.Status = StatusPending
		op.NextAttemptAt = &next
		slog.Warn("Operation failed, will retry",
			"operation_id", op.ID,
			"type", op.Type,
			"attempt_count", op.AttemptCount,
			"next_attempt_at", next.UTC(),
			"error", execErr)
	}

	if err := q.update(storeCtx, op); err != nil {
		return "", err
	}
	q.metrics.RecordExecution(ctx, op.Type, result)
	return result, nil
}

func (q *Queue) call(ctx context.Context, op Operation) error {
	handler, ok := q.handlers[op.Type]
	if !ok {
		handler = q.defaultHandler
	}
	if handler == nil {
		return backoff.Permanent(fmt.Errorf("no handler registered for operation type %q", op.Type))
	}

	callCtx, cancel := context.WithTimeout(ctx, q.operationTimeout)
	defer cancel()
	return handler.Execute(callCtx, op.Clone())
}

func (q *Queue) update(ctx context.Context, op Operation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Update(ctx, op); err != nil {
		return fmt.Errorf("failed to update operation %s: %w", op.ID, err)
	}
	return nil
}

// delay returns the wait before the next attempt after attempts failures
func (q *Queue) delay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     q.initialInterval,
		RandomizationFactor: 0,
		Multiplier:          q.multiplier,
		MaxInterval:         q.maxInterval,
	}
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempts && d < q.maxInterval; i++ {
		d = b.NextBackOff()
	}
	return d
}

// NextAttemptDelay returns how long until the oldest pending operation may
// run. ok is false when nothing is pending.
func (q *Queue) NextAttemptDelay(ctx context.Context) (time.Duration, bool, error) {
	op, ok, err := q.head(ctx)
	if err != nil || !ok {
		return 0, false, err
	}
	if op.NextAttemptAt == nil {
		return 0, true, nil
	}
	d := op.NextAttemptAt.Sub(q.clock.Now())
	if d < 0 {
		d = 0
	}
	return d, true, nil
}

// PendingCount returns the number of operations that are not quarantined
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	ops, err := q.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list operations: %w", err)
	}
	n := 0
	for _, op := range ops {
		if op.Status != StatusFailedPermanent {
			n++
		}
	}
	return n, nil
}

// FailedOperations returns copies of the quarantined operations in creation order
func (q *Queue) FailedOperations(ctx context.Context) ([]Operation, error) {
	ops, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	var failed []Operation
	for _, op := range ops {
		if op.Status == StatusFailedPermanent {
			failed = append(failed, op)
		}
	}
	return failed, nil
}

// Operations returns copies of every operation in creation order
func (q *Queue) Operations(ctx context.Context) ([]Operation, error) {
	ops, err := q.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	return ops, nil
}

// Retry moves a quarantined operation back to pending with a fresh attempt count
func (q *Queue) Retry(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := q.quarantined(ctx, id)
	if err != nil {
		return err
	}
	op.Status = StatusPending
	op.AttemptCount = 0
	op.NextAttemptAt = nil
	if err := q.store.Update(ctx, op); err != nil {
		return fmt.Errorf("failed to update operation %s: %w", id, err)
	}
	slog.Info("Quarantined operation requeued", "operation_id", id, "type", op.Type)
	return nil
}

// Discard removes a quarantined operation
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	op, err := q.quarantined(ctx, id)
	if err != nil {
		return err
	}
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", id, err)
	}
	slog.Info("Quarantined operation discarded", "operation_id", id, "type", op.Type)
	return nil
}

// quarantined loads id and checks it is failed-permanent; callers hold mu
func (q *Queue) quarantined(ctx context.Context, id string) (Operation, error) {
	op, err := q.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Operation{}, err
		}
		return Operation{}, fmt.Errorf("failed to load operation %s: %w", id, err)
	}
	if op.Status != StatusFailedPermanent {
		return Operation{}, ErrNotQuarantined
	}
	return op, nil
}

func (q *Queue) recordPending(ctx context.Context) {
	if q.metrics == nil {
		return
	}
	n, err := q.PendingCount(ctx)
	if err != nil {
		slog.Debug("Failed to count pending operations", "error", err)
		return
	}
	q.metrics.RecordPending(ctx, n)
}
