package refresh

import "context"

//go:generate mockgen -destination=mocks/mock_collaborators.go -package=mocks -source=interfaces.go Authenticator,Reachability,DueChecker,Notifier

// Authenticator reports whether a user is signed in. It must not block;
// implementations backed by a slow store answer from a cache.
type Authenticator interface {
	IsAuthenticated() bool
}

// Reachability reports the last observed network state. It must not block.
type Reachability interface {
	IsReachable() bool
}

// DueStatus is the result of a remote due-check
type DueStatus struct {
	// Due is true when a new assessment should be taken
	Due bool

	// DaysSinceLast is the number of days since the last completed assessment
	DaysSinceLast int
}

// DueChecker asks the remote service whether a new assessment is due
type DueChecker interface {
	CheckDue(ctx context.Context) (DueStatus, error)
}

// Notifier schedules a local user notification
type Notifier interface {
	ScheduleNotification(ctx context.Context, title, body string) error
}
