// Package app wires the sync coordinator's components from configuration and
// manages their lifecycle.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/stacklok/cadence-sync/internal/api"
	"github.com/stacklok/cadence-sync/internal/app/storage"
	"github.com/stacklok/cadence-sync/internal/config"
	"github.com/stacklok/cadence-sync/internal/connectivity"
	"github.com/stacklok/cadence-sync/internal/queue"
	"github.com/stacklok/cadence-sync/internal/refresh"
)

// DefaultShutdownTimeout bounds Close
const DefaultShutdownTimeout = 10 * time.Second

// SyncApp encapsulates all components of the sync coordinator.
// It provides lifecycle management and graceful shutdown capabilities.
type SyncApp struct {
	config     *config.Config
	components *AppComponents
	factory    storage.Factory
	publisher  *connectivity.Publisher
	httpServer *http.Server
	clock      clock.WithDelayedExecution
	budget     time.Duration

	// settleWait bounds how long one-shot calls wait for the first probe
	// result; zero when the source is host-managed
	settleWait time.Duration

	started atomic.Bool
	stopped sync.Once

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

var _ api.Service = (*SyncApp)(nil)

// Start subscribes to connectivity and runs the coordinator, plus the control
// API when configured. It blocks until Stop is called or the API fails.
func (app *SyncApp) Start() error {
	if !app.started.CompareAndSwap(false, true) {
		return errors.New("sync app already started")
	}

	app.components.Observer.Subscribe(app.ctx)

	g, gctx := errgroup.WithContext(app.ctx)
	g.Go(func() error {
		return app.components.Coordinator.Start(gctx)
	})

	if app.httpServer != nil {
		g.Go(func() error {
			slog.Info("Control API listening", "address", app.httpServer.Addr)
			if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API failed: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout. The
// coordinator waits for a running drain; the stores are closed last.
// Calls after the first are no-ops.
func (app *SyncApp) Stop(timeout time.Duration) error {
	var shutdownErr error
	app.stopped.Do(func() {
		slog.Info("Shutting down sync app...")

		if err := app.components.Coordinator.Stop(); err != nil {
			slog.Error("Failed to stop sync coordinator", "error", err)
		}

		if app.httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("control API forced to shutdown: %w", err)
			}
		}

		app.cancelFunc()
		app.components.Observer.Close()
		if app.publisher != nil {
			app.publisher.Close()
		}
		app.factory.Cleanup()

		slog.Info("Sync app shutdown complete")
	})
	return shutdownErr
}

// Close stops the app with the default timeout
func (app *SyncApp) Close() error {
	return app.Stop(DefaultShutdownTimeout)
}

// GetConfig returns the application configuration
func (app *SyncApp) GetConfig() *config.Config {
	return app.config
}

// Components returns the wired components
func (app *SyncApp) Components() *AppComponents {
	return app.components
}

// CheckReadiness implements api.Service
func (app *SyncApp) CheckReadiness(_ context.Context) error {
	if !app.started.Load() {
		return errors.New("sync app not started")
	}
	return nil
}

// Status implements api.Service
func (app *SyncApp) Status(ctx context.Context) (api.Status, error) {
	snap := app.components.Observer.Snapshot()
	st := api.Status{
		Reachable:           snap.Reachable,
		ConnectivityVersion: snap.Version,
	}

	pending, err := app.components.Queue.PendingCount(ctx)
	if err != nil {
		return api.Status{}, err
	}
	failed, err := app.components.Queue.FailedOperations(ctx)
	if err != nil {
		return api.Status{}, err
	}
	rec, err := app.components.RefreshStore.Load(ctx)
	if err != nil {
		return api.Status{}, fmt.Errorf("failed to load refresh record: %w", err)
	}

	st.PendingOperations = pending
	st.FailedOperations = len(failed)
	st.LastRunAt = rec.LastRunAt
	st.LastNotifiedAt = rec.LastNotifiedAt
	return st, nil
}

// Operations implements api.Service
func (app *SyncApp) Operations(ctx context.Context) ([]queue.Operation, error) {
	return app.components.Queue.Operations(ctx)
}

// Enqueue appends an operation and asks for a drain. The write is durable
// before the drain is requested, so an operation is never lost to a crash.
func (app *SyncApp) Enqueue(ctx context.Context, opType string, payload json.RawMessage) (string, error) {
	id, err := app.components.Queue.Enqueue(ctx, opType, payload)
	if err != nil {
		return "", err
	}
	app.components.Coordinator.RequestDrain()
	return id, nil
}

// Retry requeues a quarantined operation and asks for a drain
func (app *SyncApp) Retry(ctx context.Context, id string) error {
	if err := app.components.Queue.Retry(ctx, id); err != nil {
		return err
	}
	app.components.Coordinator.RequestDrain()
	return nil
}

// Discard implements api.Service
func (app *SyncApp) Discard(ctx context.Context, id string) error {
	return app.components.Queue.Discard(ctx, id)
}

// Drain runs one drain pass in the caller's goroutine. It is meant for
// one-shot CLI use; a started app drains through its coordinator.
func (app *SyncApp) Drain(ctx context.Context) (queue.DrainResult, error) {
	app.awaitConnectivity(ctx, 0)
	if !app.components.Observer.IsReachable() {
		return queue.DrainResult{}, errors.New("network is unreachable")
	}
	return app.components.Queue.Drain(ctx)
}

// awaitConnectivity subscribes the observer if Start has not, then waits for
// the first probe result, at most settleWait and limit (when positive).
// Host-managed sources are not waited for.
func (app *SyncApp) awaitConnectivity(ctx context.Context, limit time.Duration) {
	observer := app.components.Observer
	observer.Subscribe(app.ctx)

	wait := app.settleWait
	if limit > 0 && limit < wait {
		wait = limit
	}
	if wait <= 0 {
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	select {
	case <-observer.Settled():
	case <-waitCtx.Done():
		slog.Warn("No connectivity probe result yet, using last known reachability",
			"reachable", observer.IsReachable())
	}
}

// Refresh runs one refresh invocation within the configured budget
func (app *SyncApp) Refresh(ctx context.Context) refresh.Outcome {
	return app.RunRefreshTask(ctx, app.budget, nil)
}

// RunRefreshTask starts a refresh invocation, expires it after budget (when
// positive) or when ctx ends, and waits for it to stop. complete receives the
// single completion report. The wait for a first probe result counts
// against the budget.
func (app *SyncApp) RunRefreshTask(ctx context.Context, budget time.Duration, complete refresh.CompletionFunc) refresh.Outcome {
	started := app.clock.Now()
	app.awaitConnectivity(ctx, budget)

	task := app.components.Scheduler.Start(ctx, complete)

	if budget > 0 {
		remaining := budget - app.clock.Since(started)
		if remaining <= 0 {
			task.Expire()
		} else {
			timer := app.clock.AfterFunc(remaining, task.Expire)
			defer timer.Stop()
		}
	}

	select {
	case <-task.Done():
	case <-ctx.Done():
		task.Expire()
		<-task.Done()
	}

	out, _ := task.Outcome()
	return out
}

// ResetRefresh deletes the refresh record, as on an explicit user data reset
func (app *SyncApp) ResetRefresh(ctx context.Context) error {
	return app.components.RefreshStore.Reset(ctx)
}

// SetReachable pushes a reachability value from the host. It fails with
// connectivity.ErrNotHostManaged when reachability is probed.
func (app *SyncApp) SetReachable(reachable bool) error {
	if app.publisher == nil {
		return connectivity.ErrNotHostManaged
	}
	app.publisher.Publish(reachable)
	return nil
}
