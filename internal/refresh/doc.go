// Package refresh implements the background refresh scheduler.
//
// The host environment invokes the Scheduler once per activation and may
// signal expiration at any later point. Each invocation checks cheap
// preconditions (authentication, connectivity, rate limit), performs at most
// one remote due-check, decides whether to schedule an "assessment due"
// notification and reports completion to the host exactly once.
//
// The refresh Record is written through Store.Save, which must be durable:
// the host may kill the process as soon as completion has been reported, so
// every write is flushed before the scheduler moves on.
package refresh
