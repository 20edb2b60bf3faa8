package work

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roasbeef/draftsync/internal/store"
)

// State is the lifecycle state of a work item.
type State = store.WorkState

// The states a work item moves through. Enqueued and Blocked items wait for
// dispatch, Running items are on an executor, the rest are terminal.
const (
	Enqueued  = store.WorkEnqueued
	Blocked   = store.WorkBlocked
	Running   = store.WorkRunning
	Succeeded = store.WorkSucceeded
	Failed    = store.WorkFailed
	Cancelled = store.WorkCancelled
)

// Constraints must hold before an item is started.
type Constraints struct {
	// RequiresNetwork holds the item back while the network is down.
	RequiresNetwork bool
}

// BackoffPolicy controls how Retry outcomes are rescheduled.
type BackoffPolicy struct {
	// InitialDelay is the delay before the second attempt. It doubles
	// for each further attempt.
	InitialDelay time.Duration

	// MaxAttempts bounds the number of runs, the first included.
	MaxAttempts int
}

// DefaultBackoff is used for requests that leave the policy empty.
var DefaultBackoff = BackoffPolicy{
	InitialDelay: 10 * time.Second,
	MaxAttempts:  5,
}

// Delay returns the wait after the given number of finished attempts,
// capped at limit when limit is positive.
func (b BackoffPolicy) Delay(attempts int, limit time.Duration) time.Duration {
	delay := b.InitialDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}

	if limit > 0 && delay > limit {
		return limit
	}

	return delay
}

// Request describes work to schedule.
type Request struct {
	// Kind selects the registered worker.
	Kind string

	// Input is JSON encoded and handed to the worker.
	Input any

	Constraints Constraints
	Backoff     BackoffPolicy
}

// Info is a snapshot of a work item.
type Info struct {
	ID              string          `json:"id"`
	Kind            string          `json:"kind"`
	State           State           `json:"state"`
	RequiresNetwork bool            `json:"requires_network"`
	Input           json.RawMessage `json:"input,omitempty"`
	Output          json.RawMessage `json:"output,omitempty"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	NextRunAt       time.Time       `json:"next_run_at"`
}

// Done reports whether the item reached a terminal state.
func (i Info) Done() bool {
	return i.State.IsTerminal()
}

// DecodeOutput unmarshals the worker output into v. An item without output
// leaves v untouched.
func (i Info) DecodeOutput(v any) error {
	if len(i.Output) == 0 {
		return nil
	}
	if err := json.Unmarshal(i.Output, v); err != nil {
		return fmt.Errorf("decode output of %s: %w", i.ID, err)
	}

	return nil
}

// infoFromItem builds the public snapshot of a stored item.
func infoFromItem(item store.WorkItem) Info {
	return Info{
		ID:              item.ID,
		Kind:            item.Kind,
		State:           item.State,
		RequiresNetwork: item.RequiresNetwork,
		Input:           json.RawMessage(item.Input),
		Output:          json.RawMessage(item.Output),
		Attempts:        item.Attempts,
		MaxAttempts:     item.MaxAttempts,
		LastError:       item.LastError,
		CreatedAt:       item.CreatedAt,
		UpdatedAt:       item.UpdatedAt,
		NextRunAt:       item.NextRunAt,
	}
}

// Filter narrows List.
type Filter = store.WorkFilter

// OutcomeKind tells how a run ended.
type OutcomeKind uint8

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeFailure
	OutcomeRetry
)

// Outcome is what a worker reports for one run.
type Outcome struct {
	kind   OutcomeKind
	output any
	err    error
}

// Success finishes the item as succeeded. A nil output stores none.
func Success(output any) Outcome {
	return Outcome{kind: OutcomeSuccess, output: output}
}

// Failure finishes the item as failed. A nil output stores none.
func Failure(output any) Outcome {
	return Outcome{kind: OutcomeFailure, output: output}
}

// Retry reschedules the item with backoff, or fails it once the attempts
// are used up.
func Retry(err error) Outcome {
	return Outcome{kind: OutcomeRetry, err: err}
}

// Kind returns how the run ended.
func (o Outcome) Kind() OutcomeKind {
	return o.kind
}

// Output returns the output handed to Success or Failure.
func (o Outcome) Output() any {
	return o.output
}

// Err returns the error of a Retry or of a panicking worker.
func (o Outcome) Err() error {
	return o.err
}

// String names the outcome for logs.
func (o Outcome) String() string {
	switch o.kind {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	default:
		return "retry"
	}
}

// Worker runs one kind of work. Run is called on an executor goroutine and
// must return once ctx is cancelled.
type Worker interface {
	Run(ctx context.Context, input json.RawMessage) Outcome
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, input json.RawMessage) Outcome

// Run calls f.
func (f WorkerFunc) Run(ctx context.Context, input json.RawMessage) Outcome {
	return f(ctx, input)
}
