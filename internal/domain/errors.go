package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDecode            = errors.New("decode signaling message")
	ErrState             = errors.New("invalid session state")
	ErrMediaUnavailable  = errors.New("media unavailable")
	ErrInvalidAssignment = errors.New("invalid assignment")
	ErrGatheringTimeout  = errors.New("ice gathering timed out")
	ErrTransportFailure  = errors.New("transport failure")
	ErrRestore           = errors.New("connection restore error")
	ErrNotFound          = errors.New("session not found")
)

// DecodeReason classifies why a blob could not be decoded.
type DecodeReason string

const (
	ReasonMalformedSyntax DecodeReason = "malformed-syntax"
	ReasonMissingField    DecodeReason = "missing-field"
	ReasonWrongKind       DecodeReason = "wrong-kind"
)

// DecodeError is returned by the codec. It matches ErrDecode.
type DecodeError struct {
	Reason DecodeReason
	Field  string
	Got    Kind
	Want   []Kind
	Err    error
}

func (e *DecodeError) Error() string {
	switch e.Reason {
	case ReasonMissingField:
		return fmt.Sprintf("decode: missing field %q", e.Field)
	case ReasonWrongKind:
		want := make([]string, len(e.Want))
		for i, k := range e.Want {
			want[i] = string(k)
		}
		if e.Field != "" {
			return fmt.Sprintf("decode: wrong kind: %s (%s)", e.Got, e.Field)
		}
		return fmt.Sprintf("decode: wrong kind: got %q, want one of [%s]", e.Got, strings.Join(want, ", "))
	default:
		if e.Err != nil {
			return fmt.Sprintf("decode: malformed syntax: %v", e.Err)
		}
		return fmt.Sprintf("decode: malformed syntax in %q", e.Field)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Op    string
	State SessionState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed in state %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrState }

// AssignmentError reports a violated routing precondition.
type AssignmentError struct {
	SinkID   string
	SourceID string
	Reason   string
}

func (e *AssignmentError) Error() string {
	src := e.SourceID
	if src == "" {
		src = "<none>"
	}
	return fmt.Sprintf("assign %s -> %s: %s", e.SinkID, src, e.Reason)
}

func (e *AssignmentError) Is(target error) bool { return target == ErrInvalidAssignment }
