package draft

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownErrorKind is returned when parsing a reason outside the
	// known set.
	ErrUnknownErrorKind = errors.New("unknown draft error kind")

	// ErrIncompleteMessage is returned for a message that has no sending
	// address or no body yet.
	ErrIncompleteMessage = errors.New("message has no address or body")
)

// ErrorKind is the reason attached to a failed draft submission.
type ErrorKind string

const (
	// SendingInProgressError is reserved for a submission racing another
	// one for the same message. Nothing reports it yet.
	SendingInProgressError ErrorKind = "SendingInProgressError"

	// MessageNotFound means the message ID did not match a stored
	// message.
	MessageNotFound ErrorKind = "MessageNotFound"
)

// ParseErrorKind parses a reason by name.
func ParseErrorKind(s string) (ErrorKind, error) {
	switch k := ErrorKind(s); k {
	case SendingInProgressError, MessageNotFound:
		return k, nil

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownErrorKind, s)
	}
}

// UnmarshalText rejects unknown reasons.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	parsed, err := ParseErrorKind(string(text))
	if err != nil {
		return err
	}

	*k = parsed

	return nil
}
