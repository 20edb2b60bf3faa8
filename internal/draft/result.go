package draft

import (
	"encoding/json"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/work"
)

// Status is the coarse state of a submission.
type Status uint8

const (
	// StatusNotYetRun covers every state before a terminal one.
	StatusNotYetRun Status = iota

	// StatusFailure is a failed or cancelled upload, possibly with a
	// reason.
	StatusFailure

	// StatusSuccess is an uploaded draft.
	StatusSuccess
)

// String names the status.
func (s Status) String() string {
	switch s {
	case StatusFailure:
		return "failure"
	case StatusSuccess:
		return "success"
	default:
		return "not_yet_run"
	}
}

// Result is the typed result of a submission.
type Result struct {
	Status Status

	// Reason is only set for failures that carry one.
	Reason fn.Option[ErrorKind]
}

// ResultFromInfo reads the result of a draft work item. Cancelled items
// count as failures without a reason. An unknown reason is an error.
func ResultFromInfo(info work.Info) (Result, error) {
	if !info.Done() {
		return Result{Status: StatusNotYetRun}, nil
	}
	if info.State == work.Succeeded {
		return Result{Status: StatusSuccess}, nil
	}

	result := Result{Status: StatusFailure}
	if len(info.Output) == 0 {
		return result, nil
	}

	var out Output
	if err := json.Unmarshal(info.Output, &out); err != nil {
		return result, fmt.Errorf("decode draft output: %w", err)
	}
	if out.Error != "" {
		result.Reason = fn.Some(out.Error)
	}

	return result, nil
}
