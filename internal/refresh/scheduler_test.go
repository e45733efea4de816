package refresh_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/stacklok/cadence-sync/internal/refresh"
	"github.com/stacklok/cadence-sync/internal/refresh/mocks"
)

const day = 24 * time.Hour

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	auth     *mocks.MockAuthenticator
	reach    *mocks.MockReachability
	due      *mocks.MockDueChecker
	notifier *mocks.MockNotifier
	clock    *clocktesting.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	return &fixture{
		auth:     mocks.NewMockAuthenticator(ctrl),
		reach:    mocks.NewMockReachability(ctrl),
		due:      mocks.NewMockDueChecker(ctrl),
		notifier: mocks.NewMockNotifier(ctrl),
		clock:    clocktesting.NewFakeClock(testNow),
	}
}

// online makes the authentication and connectivity preconditions pass
func (f *fixture) online() {
	f.auth.EXPECT().IsAuthenticated().Return(true).AnyTimes()
	f.reach.EXPECT().IsReachable().Return(true).AnyTimes()
}

func (f *fixture) scheduler(t *testing.T, store refresh.Store) *refresh.Scheduler {
	t.Helper()
	s, err := refresh.NewScheduler(refresh.Dependencies{
		Auth:         f.auth,
		Reachability: f.reach,
		DueChecker:   f.due,
		Notifier:     f.notifier,
		Store:        store,
	}, refresh.Config{
		MinInterval:       4 * time.Hour,
		CadenceWindow:     90 * day,
		NotificationTitle: "Assessment due",
		NotificationBody:  "It is time for your next assessment.",
	}, refresh.WithClock(f.clock))
	require.NoError(t, err)
	return s
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestNewScheduler_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	deps := refresh.Dependencies{
		Auth:         f.auth,
		Reachability: f.reach,
		DueChecker:   f.due,
		Notifier:     f.notifier,
		Store:        refresh.NewMemoryStore(refresh.Record{}),
	}

	_, err := refresh.NewScheduler(deps, refresh.Config{CadenceWindow: 0})
	require.Error(t, err)

	_, err = refresh.NewScheduler(deps, refresh.Config{MinInterval: -time.Second, CadenceWindow: day})
	require.Error(t, err)

	deps.Store = nil
	_, err = refresh.NewScheduler(deps, refresh.Config{CadenceWindow: day})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")
}

func TestRun_FastFails(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setup      func(f *fixture)
		record     refresh.Record
		wantReason refresh.Reason
	}{
		{
			name: "not authenticated",
			setup: func(f *fixture) {
				f.auth.EXPECT().IsAuthenticated().Return(false)
			},
			wantReason: refresh.ReasonNotAuthenticated,
		},
		{
			name: "offline",
			setup: func(f *fixture) {
				f.auth.EXPECT().IsAuthenticated().Return(true)
				f.reach.EXPECT().IsReachable().Return(false)
			},
			wantReason: refresh.ReasonOffline,
		},
		{
			name:       "rate limited",
			setup:      func(f *fixture) { f.online() },
			record:     refresh.Record{LastRunAt: timePtr(testNow.Add(-time.Hour))},
			wantReason: refresh.ReasonRateLimited,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.setup(f)
			// No CheckDue or ScheduleNotification expectations: any call fails the test
			store := refresh.NewMemoryStore(tt.record)
			out := f.scheduler(t, store).Run(context.Background())

			assert.True(t, out.Success, "fast-fails are not failures")
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Nil(t, out.Due)

			after, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.record, after, "fast-fails do not touch the record")
		})
	}
}

func TestRun_FreshInstallSkipsRateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()
	f.due.EXPECT().CheckDue(gomock.Any()).Return(refresh.DueStatus{Due: false, DaysSinceLast: 10}, nil).Times(1)

	store := refresh.NewMemoryStore(refresh.Record{})
	out := f.scheduler(t, store).Run(context.Background())

	require.True(t, out.Success)
	assert.Equal(t, refresh.ReasonNotDue, out.Reason)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.LastRunAt)
	assert.True(t, testNow.Equal(*rec.LastRunAt))
	assert.Nil(t, rec.LastNotifiedAt)
}

func TestRun_DueScenarios(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         refresh.DueStatus
		lastNotifiedAt *time.Time
		expectNotify   bool
		wantReason     refresh.Reason
		wantNotifiedAt *time.Time
	}{
		{
			name:       "89 days since last assessment",
			status:     refresh.DueStatus{Due: false, DaysSinceLast: 89},
			wantReason: refresh.ReasonNotDue,
		},
		{
			name:           "90 days since last assessment never notified",
			status:         refresh.DueStatus{Due: true, DaysSinceLast: 90},
			expectNotify:   true,
			wantReason:     refresh.ReasonNotified,
			wantNotifiedAt: timePtr(testNow),
		},
		{
			name:           "100 days since last assessment notified yesterday",
			status:         refresh.DueStatus{Due: true, DaysSinceLast: 100},
			lastNotifiedAt: timePtr(testNow.Add(-day)),
			wantReason:     refresh.ReasonAlreadyNotified,
			wantNotifiedAt: timePtr(testNow.Add(-day)),
		},
		{
			name:           "due again after the cadence window",
			status:         refresh.DueStatus{Due: true, DaysSinceLast: 185},
			lastNotifiedAt: timePtr(testNow.Add(-95 * day)),
			expectNotify:   true,
			wantReason:     refresh.ReasonNotified,
			wantNotifiedAt: timePtr(testNow),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.online()
			f.due.EXPECT().CheckDue(gomock.Any()).Return(tt.status, nil).Times(1)
			if tt.expectNotify {
				f.notifier.EXPECT().
					ScheduleNotification(gomock.Any(), "Assessment due", gomock.Any()).
					Return(nil).Times(1)
			}

			store := refresh.NewMemoryStore(refresh.Record{
				LastRunAt:      timePtr(testNow.Add(-5 * time.Hour)),
				LastNotifiedAt: tt.lastNotifiedAt,
			})
			out := f.scheduler(t, store).Run(context.Background())

			require.True(t, out.Success)
			assert.Equal(t, tt.wantReason, out.Reason)
			require.NotNil(t, out.Due)
			assert.Equal(t, tt.status, *out.Due)

			rec, err := store.Load(context.Background())
			require.NoError(t, err)
			require.NotNil(t, rec.LastRunAt)
			assert.True(t, testNow.Equal(*rec.LastRunAt))
			if tt.wantNotifiedAt == nil {
				assert.Nil(t, rec.LastNotifiedAt)
			} else {
				require.NotNil(t, rec.LastNotifiedAt)
				assert.True(t, tt.wantNotifiedAt.Equal(*rec.LastNotifiedAt))
				if tt.expectNotify {
					assert.False(t, rec.LastNotifiedAt.Before(*rec.LastRunAt))
				}
			}
		})
	}
}

func TestRun_RateLimitIdempotence(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()
	f.due.EXPECT().CheckDue(gomock.Any()).Return(refresh.DueStatus{Due: true, DaysSinceLast: 120}, nil).Times(1)
	f.notifier.EXPECT().ScheduleNotification(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	s := f.scheduler(t, refresh.NewMemoryStore(refresh.Record{}))

	first := s.Run(context.Background())
	require.True(t, first.Success)
	assert.Equal(t, refresh.ReasonNotified, first.Reason)

	f.clock.Step(time.Hour)
	second := s.Run(context.Background())
	require.True(t, second.Success)
	assert.Equal(t, refresh.ReasonRateLimited, second.Reason)
}

func TestRun_NoDuplicateNotificationWithinWindow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()
	f.due.EXPECT().CheckDue(gomock.Any()).Return(refresh.DueStatus{Due: true, DaysSinceLast: 95}, nil).Times(3)
	f.notifier.EXPECT().ScheduleNotification(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(1)

	s := f.scheduler(t, refresh.NewMemoryStore(refresh.Record{}))

	reasons := make([]refresh.Reason, 0, 3)
	for range 3 {
		out := s.Run(context.Background())
		require.True(t, out.Success)
		reasons = append(reasons, out.Reason)
		f.clock.Step(5 * day)
	}
	assert.Equal(t, []refresh.Reason{
		refresh.ReasonNotified,
		refresh.ReasonAlreadyNotified,
		refresh.ReasonAlreadyNotified,
	}, reasons)
}

func TestRun_RemoteCheckFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()
	f.due.EXPECT().CheckDue(gomock.Any()).Return(refresh.DueStatus{}, errors.New("connection reset")).Times(1)

	store := refresh.NewMemoryStore(refresh.Record{})
	out := f.scheduler(t, store).Run(context.Background())

	assert.False(t, out.Success)
	assert.Equal(t, refresh.ReasonRemoteCheckFailed, out.Reason)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "connection reset")

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.LastRunAt, "a failed remote check must not advance the rate limit")
}

func TestRun_NotificationFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()
	f.due.EXPECT().CheckDue(gomock.Any()).Return(refresh.DueStatus{Due: true, DaysSinceLast: 91}, nil)
	f.notifier.EXPECT().ScheduleNotification(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("permission denied"))

	store := refresh.NewMemoryStore(refresh.Record{})
	out := f.scheduler(t, store).Run(context.Background())

	assert.True(t, out.Success)
	assert.Equal(t, refresh.ReasonNotificationFailed, out.Reason)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rec.LastRunAt)
	assert.Nil(t, rec.LastNotifiedAt, "a failed notification may be retried by a later run")
}

func TestRun_PersistenceFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status refresh.DueStatus
		notify bool
		saves  int
	}{
		{name: "saving run time", status: refresh.DueStatus{Due: false}, saves: 1},
		{name: "saving notification time", status: refresh.DueStatus{Due: true}, notify: true, saves: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.online()
			f.due.EXPECT().CheckDue(gomock.Any()).Return(tt.status, nil)
			if tt.notify {
				f.notifier.EXPECT().ScheduleNotification(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
			}

			store := mocks.NewMockStore(gomock.NewController(t))
			store.EXPECT().Load(gomock.Any()).Return(refresh.Record{}, nil)
			store.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("disk full")).Times(tt.saves)

			out := f.scheduler(t, store).Run(context.Background())

			assert.False(t, out.Success)
			assert.Equal(t, refresh.ReasonPersistenceFailed, out.Reason)
			require.Error(t, out.Err)
		})
	}
}

func TestRun_LoadFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()

	store := mocks.NewMockStore(gomock.NewController(t))
	store.EXPECT().Load(gomock.Any()).Return(refresh.Record{}, errors.New("io error"))

	out := f.scheduler(t, store).Run(context.Background())
	assert.False(t, out.Success)
	assert.Equal(t, refresh.ReasonPersistenceFailed, out.Reason)
}

// reports collects completion reports from a Task
type reports struct {
	mu     sync.Mutex
	values []bool
}

func (r *reports) complete(success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, success)
}

func (r *reports) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

func TestTask_ExpireBeforeRemoteCheckReturns(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()

	checking := make(chan struct{})
	f.due.EXPECT().CheckDue(gomock.Any()).DoAndReturn(func(ctx context.Context) (refresh.DueStatus, error) {
		close(checking)
		<-ctx.Done()
		return refresh.DueStatus{}, ctx.Err()
	})

	store := refresh.NewMemoryStore(refresh.Record{})
	var got reports
	task := f.scheduler(t, store).Start(context.Background(), got.complete)

	<-checking
	task.Expire()
	<-task.Done()

	assert.Equal(t, []bool{false}, got.get())

	out, finished := task.Outcome()
	require.True(t, finished)
	assert.False(t, out.Success)
	assert.Equal(t, refresh.ReasonExpired, out.Reason)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.LastRunAt)

	// Later expirations are no-ops
	task.Expire()
	assert.Len(t, got.get(), 1)
}

// expiringClock cancels the run once armed, on the next reading of the time
type expiringClock struct {
	*clocktesting.FakeClock
	armed  atomic.Bool
	expire context.CancelFunc
}

func (c *expiringClock) Now() time.Time {
	if c.armed.Load() {
		c.expire()
	}
	return c.FakeClock.Now()
}

func TestRun_ExpiredAfterDueCheckDoesNotNotify(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clk := &expiringClock{FakeClock: f.clock, expire: cancel}

	f.due.EXPECT().CheckDue(gomock.Any()).DoAndReturn(func(context.Context) (refresh.DueStatus, error) {
		clk.armed.Store(true)
		return refresh.DueStatus{Due: true, DaysSinceLast: 120}, nil
	})
	// No notifier expectation: an expired run must not notify

	store := refresh.NewMemoryStore(refresh.Record{})
	s, err := refresh.NewScheduler(refresh.Dependencies{
		Auth:         f.auth,
		Reachability: f.reach,
		DueChecker:   f.due,
		Notifier:     f.notifier,
		Store:        store,
	}, refresh.Config{MinInterval: 4 * time.Hour, CadenceWindow: 90 * day}, refresh.WithClock(clk))
	require.NoError(t, err)

	out := s.Run(ctx)
	assert.False(t, out.Success)
	assert.Equal(t, refresh.ReasonExpired, out.Reason)

	rec, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec.LastRunAt)
	assert.Nil(t, rec.LastNotifiedAt)
}

func TestTask_ExpireAfterCompletionIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.auth.EXPECT().IsAuthenticated().Return(false)

	var got reports
	task := f.scheduler(t, refresh.NewMemoryStore(refresh.Record{})).Start(context.Background(), got.complete)
	<-task.Done()
	task.Expire()

	assert.Equal(t, []bool{true}, got.get())
	out, finished := task.Outcome()
	require.True(t, finished)
	assert.Equal(t, refresh.ReasonNotAuthenticated, out.Reason)
}

func TestTask_ReportsExactlyOnceUnderRace(t *testing.T) {
	t.Parallel()

	for range 50 {
		f := newFixture(t)
		f.online()
		f.due.EXPECT().CheckDue(gomock.Any()).Return(refresh.DueStatus{Due: false}, nil).MaxTimes(1)

		var count atomic.Int32
		task := f.scheduler(t, refresh.NewMemoryStore(refresh.Record{})).Start(context.Background(), func(bool) {
			count.Add(1)
		})

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				task.Expire()
			}()
		}
		wg.Wait()
		<-task.Done()

		assert.Equal(t, int32(1), count.Load())
	}
}

func TestTask_OutcomeBeforeDone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.online()
	release := make(chan struct{})
	f.due.EXPECT().CheckDue(gomock.Any()).DoAndReturn(func(context.Context) (refresh.DueStatus, error) {
		<-release
		return refresh.DueStatus{}, nil
	})

	task := f.scheduler(t, refresh.NewMemoryStore(refresh.Record{})).Start(context.Background(), nil)
	_, finished := task.Outcome()
	assert.False(t, finished)

	close(release)
	<-task.Done()
	out, finished := task.Outcome()
	require.True(t, finished)
	assert.True(t, out.Success)
}

func TestTask_RecordDurableBeforeCompletionReport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := refresh.OpenFileStore(dir)
	require.NoError(t, err)

	f := newFixture(t)
	f.online()
	f.due.EXPECT().CheckDue(gomock.Any()).Return(refresh.DueStatus{Due: true, DaysSinceLast: 90}, nil)
	f.notifier.EXPECT().ScheduleNotification(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	var onDisk refresh.Record
	var readErr error
	task := f.scheduler(t, store).Start(context.Background(), func(bool) {
		// The host may kill the process right here: the file must already be complete.
		data, err := os.ReadFile(store.Path())
		if err != nil {
			readErr = err
			return
		}
		readErr = json.Unmarshal(data, &onDisk)
	})
	<-task.Done()
	require.NoError(t, readErr)
	require.NotNil(t, onDisk.LastRunAt)
	require.NotNil(t, onDisk.LastNotifiedAt)
	assert.True(t, testNow.Equal(*onDisk.LastRunAt))

	// Simulate a restart
	require.NoError(t, store.Close())
	reopened, err := refresh.OpenFileStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	rec, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec.LastRunAt)
	assert.True(t, testNow.Equal(*rec.LastRunAt))
}
