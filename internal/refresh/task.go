package refresh

import (
	"context"
	"sync"
)

// CompletionFunc receives the completion report for the host
type CompletionFunc func(success bool)

// Task is one invocation started by the host. Its completion is reported
// exactly once, by whichever of normal completion and Expire comes first.
type Task struct {
	complete CompletionFunc
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	reported bool
	outcome  Outcome
}

// Start launches an invocation in the background. complete is called exactly
// once with the value to hand to the host; it may be nil.
func (s *Scheduler) Start(ctx context.Context, complete CompletionFunc) *Task {
	runCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		complete: complete,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(task.done)
		defer cancel()

		out := s.Run(runCtx)
		if !task.report(out.Success) {
			// Expire already reported failure
			out.Success = false
			out.Reason = ReasonExpired
		}

		task.mu.Lock()
		task.outcome = out
		task.mu.Unlock()
	}()

	return task
}

// Expire is the host's expiration signal. If the invocation has not reported
// yet, failure is reported now and the in-flight work is cancelled. Calls
// after completion are no-ops.
func (t *Task) Expire() {
	if t.report(false) {
		t.cancel()
	}
}

// Done is closed once the invocation has stopped running
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Outcome returns the invocation result and whether the invocation has finished
func (t *Task) Outcome() (Outcome, bool) {
	select {
	case <-t.done:
	default:
		return Outcome{}, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, true
}

// report sets the reported flag and calls the completion callback if this is
// the first report. It returns false if a report was already made.
func (t *Task) report(success bool) bool {
	t.mu.Lock()
	if t.reported {
		t.mu.Unlock()
		return false
	}
	t.reported = true
	t.mu.Unlock()

	if t.complete != nil {
		t.complete(success)
	}
	return true
}
