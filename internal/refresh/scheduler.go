package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/stacklok/cadence-sync/internal/otel"
	"github.com/stacklok/cadence-sync/internal/telemetry"
)

// Reason explains how a refresh invocation ended
type Reason string

const (
	// ReasonNotAuthenticated means no user is signed in
	ReasonNotAuthenticated Reason = "not-authenticated"
	// ReasonOffline means the network was not reachable
	ReasonOffline Reason = "offline"
	// ReasonRateLimited means the previous run was less than MinInterval ago
	ReasonRateLimited Reason = "rate-limited"
	// ReasonNotDue means the remote check found no assessment due
	ReasonNotDue Reason = "not-due"
	// ReasonAlreadyNotified means an assessment is due but the user was
	// already notified within the cadence window
	ReasonAlreadyNotified Reason = "already-notified"
	// ReasonNotified means a notification was scheduled
	ReasonNotified Reason = "notified"
	// ReasonNotificationFailed means scheduling the notification failed; the
	// run still completes successfully
	ReasonNotificationFailed Reason = "notification-failed"
	// ReasonRemoteCheckFailed means the due-check returned an error
	ReasonRemoteCheckFailed Reason = "remote-check-failed"
	// ReasonPersistenceFailed means the refresh record could not be read or written
	ReasonPersistenceFailed Reason = "persistence-failed"
	// ReasonExpired means the host expired the invocation first
	ReasonExpired Reason = "expired"
)

// Outcome is the result of one refresh invocation
type Outcome struct {
	// Success is the value reported to the host
	Success bool

	Reason Reason

	// Due holds the remote check result when one was made
	Due *DueStatus

	// Record is the refresh record as it stood when the run ended
	Record Record

	// Err is set for failed runs
	Err error
}

// Config holds the scheduler policy
type Config struct {
	// MinInterval is the minimum time between two runs that reach the remote check
	MinInterval time.Duration

	// CadenceWindow is the minimum time between two "assessment due" notifications
	CadenceWindow time.Duration

	NotificationTitle string
	NotificationBody  string
}

// Dependencies are the collaborators a Scheduler consumes
type Dependencies struct {
	Auth         Authenticator
	Reachability Reachability
	DueChecker   DueChecker
	Notifier     Notifier
	Store        Store
}

func (d Dependencies) validate() error {
	switch {
	case d.Auth == nil:
		return errors.New("authenticator is required")
	case d.Reachability == nil:
		return errors.New("reachability is required")
	case d.DueChecker == nil:
		return errors.New("due checker is required")
	case d.Notifier == nil:
		return errors.New("notifier is required")
	case d.Store == nil:
		return errors.New("store is required")
	}
	return nil
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock sets the clock used for rate limiting and timestamps
func WithClock(c clock.PassiveClock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *telemetry.RefreshMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithTracer sets the tracer used for run spans
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = t
	}
}

// Scheduler runs refresh invocations. Invocations are serialized so the
// refresh record has a single writer.
type Scheduler struct {
	deps    Dependencies
	cfg     Config
	clock   clock.PassiveClock
	metrics *telemetry.RefreshMetrics
	tracer  trace.Tracer

	runMu sync.Mutex
}

// NewScheduler creates a Scheduler
func NewScheduler(deps Dependencies, cfg Config, opts ...Option) (*Scheduler, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.MinInterval < 0 {
		return nil, fmt.Errorf("min interval must not be negative, got %s", cfg.MinInterval)
	}
	if cfg.CadenceWindow <= 0 {
		return nil, fmt.Errorf("cadence window must be positive, got %s", cfg.CadenceWindow)
	}

	s := &Scheduler{
		deps:  deps,
		cfg:   cfg,
		clock: clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one invocation synchronously and returns its outcome.
// Cancelling ctx aborts the remote check and skips any further writes.
func (s *Scheduler) Run(ctx context.Context) Outcome {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.clock.Now()
	ctx, span := otel.StartSpan(ctx, s.tracer, "refresh.Run")
	defer span.End()

	out := s.run(ctx)

	span.SetAttributes(otel.AttrRefreshReason.String(string(out.Reason)))
	if out.Due != nil {
		span.SetAttributes(otel.AttrDaysSinceLast.Int(out.Due.DaysSinceLast))
	}
	otel.RecordError(span, out.Err)
	s.metrics.RecordRun(ctx, string(out.Reason), out.Success, s.clock.Since(start))

	if out.Success {
		slog.Info("Refresh run completed", "reason", out.Reason)
	} else {
		slog.Warn("Refresh run failed", "reason", out.Reason, "error", out.Err)
	}
	return out
}

func (s *Scheduler) run(ctx context.Context) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Reason: ReasonExpired, Err: err}
	}

	if !s.deps.Auth.IsAuthenticated() {
		return Outcome{Success: true, Reason: ReasonNotAuthenticated}
	}
	if !s.deps.Reachability.IsReachable() {
		return Outcome{Success: true, Reason: ReasonOffline}
	}

	rec, err := s.deps.Store.Load(ctx)
	if err != nil {
		return Outcome{Reason: ReasonPersistenceFailed, Err: fmt.Errorf("failed to load refresh record: %w", err)}
	}

	if s.rateLimited(rec.LastRunAt) {
		slog.Debug("Refresh rate limited", "last_run_at", rec.LastRunAt.UTC())
		return Outcome{Success: true, Reason: ReasonRateLimited, Record: rec}
	}

	status, err := s.deps.DueChecker.CheckDue(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{Reason: ReasonExpired, Record: rec, Err: ctxErr}
	}
	if err != nil {
		return Outcome{Reason: ReasonRemoteCheckFailed, Record: rec, Err: fmt.Errorf("due check failed: %w", err)}
	}

	now := s.clock.Now()
	reason := ReasonNotDue
	if status.Due {
		// The host may already hold a failure report; a late notification
		// would have no durable LastNotifiedAt behind it.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{Reason: ReasonExpired, Due: &status, Record: rec, Err: ctxErr}
		}
		reason = s.notify(ctx, &rec, now)
		if reason == ReasonNotified {
			if err := s.deps.Store.Save(ctx, rec); err != nil {
				return Outcome{
					Reason: ReasonPersistenceFailed,
					Due:    &status,
					Record: rec,
					Err:    fmt.Errorf("failed to save notification time: %w", err),
				}
			}
		}
	}

	runAt := now
	rec.LastRunAt = &runAt
	if err := s.deps.Store.Save(ctx, rec); err != nil {
		return Outcome{
			Reason: ReasonPersistenceFailed,
			Due:    &status,
			Record: rec,
			Err:    fmt.Errorf("failed to save run time: %w", err),
		}
	}

	return Outcome{Success: true, Reason: reason, Due: &status, Record: rec}
}

// rateLimited reports whether the last run is too recent. A last run in the
// future (wall clock moved backwards) does not rate limit.
func (s *Scheduler) rateLimited(lastRunAt *time.Time) bool {
	if lastRunAt == nil {
		return false
	}
	elapsed := s.clock.Since(*lastRunAt)
	return elapsed >= 0 && elapsed < s.cfg.MinInterval
}

// notify schedules the due notification unless one was sent within the
// cadence window. On success it stamps rec.LastNotifiedAt with now.
func (s *Scheduler) notify(ctx context.Context, rec *Record, now time.Time) Reason {
	if rec.LastNotifiedAt != nil && now.Sub(*rec.LastNotifiedAt) < s.cfg.CadenceWindow {
		slog.Debug("Assessment due but already notified", "last_notified_at", rec.LastNotifiedAt.UTC())
		return ReasonAlreadyNotified
	}

	if err := s.deps.Notifier.ScheduleNotification(ctx, s.cfg.NotificationTitle, s.cfg.NotificationBody); err != nil {
		slog.Warn("Failed to schedule assessment notification", "error", err)
		return ReasonNotificationFailed
	}

	notifiedAt := now
	rec.LastNotifiedAt = &notifiedAt
	return ReasonNotified
}
