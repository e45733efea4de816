// Package queue implements the offline operation queue.
//
// Operations are appended durably by Enqueue and executed later, strictly in
// creation order, by Drain. Only one drain runs at a time and at most one
// operation is in flight. A transient failure leaves the operation pending
// and ends the pass; an operation that reaches the attempt ceiling or fails
// permanently is quarantined so the rest of the queue can proceed.
package queue
