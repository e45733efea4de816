package queue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a queued operation
type Status string

const (
	// StatusPending operations wait for the next drain
	StatusPending Status = "pending"
	// StatusInFlight marks the single operation currently executing
	StatusInFlight Status = "in-flight"
	// StatusFailedPermanent operations are quarantined until retried or discarded
	StatusFailedPermanent Status = "failed-permanent"
)

// Operation is one queued mutation
type Operation struct {
	// ID is stable across restarts and doubles as the idempotency key
	ID string `json:"id"`

	// Sequence is the creation order assigned by the store
	Sequence int64 `json:"sequence"`

	// Type selects the handler and remote endpoint
	Type string `json:"type"`

	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`

	AttemptCount int    `json:"attemptCount"`
	Status       Status `json:"status"`

	// LastError is the message of the most recent failed attempt
	LastError string `json:"lastError,omitempty"`

	// NextAttemptAt is the earliest time the operation may run again
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
}

// Clone returns a deep copy of o
func (o Operation) Clone() Operation {
	out := o
	if o.Payload != nil {
		out.Payload = append(json.RawMessage(nil), o.Payload...)
	}
	if o.NextAttemptAt != nil {
		t := *o.NextAttemptAt
		out.NextAttemptAt = &t
	}
	return out
}

// DrainResult summarizes one drain pass
type DrainResult struct {
	// Skipped is true when another drain was already running
	Skipped bool

	// Succeeded lists the operations completed in this pass, in order
	Succeeded []string

	// Quarantined lists the operations moved to failed-permanent in this pass
	Quarantined []string

	// Retrying is the operation that failed transiently and stopped the pass
	Retrying string

	// Deferred is true when the pass stopped at an operation still in backoff
	Deferred bool
}
