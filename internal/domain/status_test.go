package domain

import (
	"errors"
	"testing"
)

func TestSourceStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to SourceStatus
		ok       bool
	}{
		{SourceOfferReceived, SourceAnswering, true},
		{SourceAnswering, SourceAnswerReady, true},
		{SourceAnswerReady, SourceStreaming, true},
		{SourceConnecting, SourceStreaming, true},
		{SourceStreaming, SourceFailed, true},
		{SourceFailed, SourceRemoving, true},
		{SourceStreaming, SourceAnswering, false},
		{SourceFailed, SourceStreaming, false},
		{SourceRemoving, SourceStreaming, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.ok {
				t.Errorf("expected %v, got %v", tt.ok, got)
			}
		})
	}
}

func TestSinkStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to SinkStatus
		ok       bool
	}{
		{SinkPreparingOffer, SinkOfferReady, true},
		{SinkOfferReady, SinkConnecting, true},
		{SinkOfferReceived, SinkAnswering, true},
		{SinkAnswerReady, SinkConnected, true},
		{SinkConnecting, SinkRestoreError, true},
		{SinkConnected, SinkRemoving, true},
		{SinkConnected, SinkPreparingOffer, false},
		{SinkRestoreError, SinkConnected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.ok {
				t.Errorf("expected %v, got %v", tt.ok, got)
			}
		})
	}
}

func TestStatusLabels_CoverEveryStatus(t *testing.T) {
	for s := range sourceTransitions {
		if s.Label() == string(s) {
			t.Errorf("source status %q has no label", s)
		}
	}
	for s := range sinkTransitions {
		if s.Label() == string(s) {
			t.Errorf("sink status %q has no label", s)
		}
	}
}

func TestSessionState_Transitions(t *testing.T) {
	if !StateNew.CanTransition(StateNegotiating) {
		t.Error("expected new -> negotiating")
	}
	if StateClosed.CanTransition(StateNew) {
		t.Error("expected closed to be terminal")
	}
	if !StateFailed.CanTransition(StateNew) {
		t.Error("expected failed -> new for an explicit retry")
	}
	for s := range sessionTransitions {
		if s.String() == "unknown" {
			t.Errorf("state %d has no name", int(s))
		}
	}
}

func TestTypedErrors_MatchSentinels(t *testing.T) {
	if !errors.Is(&StateError{Op: "x", State: StateClosed}, ErrState) {
		t.Error("StateError should match ErrState")
	}
	if !errors.Is(&AssignmentError{SinkID: "mon1"}, ErrInvalidAssignment) {
		t.Error("AssignmentError should match ErrInvalidAssignment")
	}
	if !errors.Is(&DecodeError{Reason: ReasonMissingField, Field: "sdp"}, ErrDecode) {
		t.Error("DecodeError should match ErrDecode")
	}
}
