// Package coordinator connects the connectivity observer to the offline
// operation queue.
//
// The coordinator registers a listener with the observer. Every transition to
// reachable requests one drain, which runs on the coordinator's own goroutine
// so the observer never blocks on the network. Requests that arrive while a
// drain is running are coalesced into a single follow-up drain.
//
// # Lifecycle
//
//	coord := coordinator.New(observer, q)
//
//	go func() {
//	    _ = coord.Start(ctx) // drains immediately if already reachable
//	}()
//
//	// after enqueueing work
//	coord.RequestDrain()
//
//	// on shutdown
//	_ = coord.Stop()
//
// # Retries
//
// When a drain stops at an operation that failed transiently, the coordinator
// asks the queue how long the operation must back off and schedules one
// follow-up drain for that time. The follow-up is dropped if the network is
// unreachable when it fires; the next transition to reachable drains instead.
package coordinator
