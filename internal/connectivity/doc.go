// Package connectivity tracks network reachability for the sync coordinator.
//
// An Observer subscribes once to an externally owned, push-based Source and
// copies every value it receives into its own Snapshot. Consumers read the
// snapshot synchronously through IsReachable and never touch the Source.
// The Observer is the only writer of the snapshot; listeners registered with
// OnChange run on the Observer's goroutine, in arrival order, and only for
// values that differ from the previous one.
//
// Two Source implementations are provided:
//
//   - Publisher: the host pushes values from its own network callbacks.
//   - ProbeSource: reachability is derived from periodic TCP dials.
package connectivity
