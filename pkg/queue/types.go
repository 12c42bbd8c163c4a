package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Priority represents a job's priority tier. Each tier is backed by its own
// physical queue per processor; within a single poll cycle a worker always
// inspects high before normal before low.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"

	PriorityDefault = PriorityNormal
)

// Valid checks if the priority is one of the three known tiers.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// DefaultMaxAttempts is the attempt ceiling applied to jobs enqueued without
// an explicit retry policy.
const DefaultMaxAttempts = 5

// Job is the unit pushed onto a queue. The JSON encoding of this struct is
// the wire format stored in the backing store; handler and callback
// identities travel as strings, never as function references.
type Job struct {
	Entity             json.RawMessage `json:"entity"`
	OperationID        string          `json:"operation_id"`
	EntityHash         string          `json:"entity_hash"`
	Processor          string          `json:"processor"`
	ProcessorNamespace string          `json:"processor_namespace,omitempty"`
	OnSuccess          string          `json:"on_success,omitempty"`
	OnSuccessNamespace string          `json:"on_success_namespace,omitempty"`
	OnFailure          string          `json:"on_failure,omitempty"`
	OnFailureNamespace string          `json:"on_failure_namespace,omitempty"`
	Attempts           int             `json:"attempts"`
	MaxAttempts        int             `json:"max_attempts"`
	Delays             []float64       `json:"delays,omitempty"` // seconds, indexed by attempts-1
	Timeout            float64         `json:"timeout,omitempty"` // total budget in seconds, 0 = none
	FirstAttemptTime   *time.Time      `json:"first_attempt_time,omitempty"`
	NextRetryTime      *time.Time      `json:"next_retry_time,omitempty"`
	FailureReason      string          `json:"failure_reason,omitempty"`
}

// Eligible reports whether the job may be executed at the given time. A job
// without a next_retry_time is always eligible.
func (j *Job) Eligible(now time.Time) bool {
	return j.NextRetryTime == nil || !now.Before(*j.NextRetryTime)
}

// TimeoutDuration returns the job's total wall-clock budget as a duration,
// or zero when the job carries none.
func (j *Job) TimeoutDuration() time.Duration {
	if j.Timeout <= 0 {
		return 0
	}
	return time.Duration(j.Timeout * float64(time.Second))
}

// HasCallbacks reports whether the job references a success or failure
// callback.
func (j *Job) HasCallbacks() bool {
	return j.OnSuccess != "" || j.OnFailure != ""
}

// Marshal serializes the job to its wire format.
func (j *Job) Marshal() ([]byte, error) {
	return json.Marshal(j)
}

// UnmarshalJob parses a serialized job, returning ErrMalformedJob when the
// payload is not a valid job record.
func UnmarshalJob(payload []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, errors.Join(ErrMalformedJob, err)
	}
	if j.Processor == "" {
		return nil, ErrMalformedJob
	}
	return &j, nil
}

// EntityHash computes a content hash over the canonical form of a serialized
// entity. The payload is decoded and re-encoded so that JSON object keys are
// emitted in sorted order, making the hash stable for identical entities
// regardless of the field order the producer happened to serialize.
func EntityHash(entity json.RawMessage) (string, error) {
	var decoded any
	if err := json.Unmarshal(entity, &decoded); err != nil {
		return "", errors.Join(ErrEntityMarshal, err)
	}
	canonical, err := json.Marshal(decoded)
	if err != nil {
		return "", errors.Join(ErrEntityMarshal, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
