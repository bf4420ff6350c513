// Package retryqueue is the durable queue of deferred carrier operations.
// Jobs move pending -> processing -> completed, or back to pending with a
// backoff delay until their attempts run out and they are failed for good.
package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	ErrJobNotFound  = errors.New("retry job not found")
	ErrDuplicateJob = errors.New("retry job already exists")
	ErrNoHandler    = errors.New("no handler registered for job type")
)

// Job is one deferred operation. Payload is opaque JSON owned by the
// handler of the job type.
type Job struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	return &c
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload of job %s: %w", j.Type, j.ID, err)
	}
	return nil
}

type retryExecutionKey struct{}

// WithRetryExecution marks ctx as running inside the retry queue. Operations
// that fail again under such a context must not enqueue a new job.
func WithRetryExecution(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, retryExecutionKey{}, jobID)
}

// RetryExecution returns the job ID when ctx runs inside the retry queue.
func RetryExecution(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(retryExecutionKey{}).(string)
	return id, ok
}
