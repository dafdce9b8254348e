package domain

// Role is the kind of endpoint a session talks to or stands for.
type Role string

const (
	RoleSource Role = "source"
	RoleSink   Role = "sink"
)

// SessionState is the negotiation and transport state of a Peer Session.
type SessionState int

const (
	StateNew SessionState = iota
	StateNegotiating
	StateGathering
	StateReadyToTransfer
	StateConnecting
	StateConnected
	StateFailed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateGathering:
		return "gathering-candidates"
	case StateReadyToTransfer:
		return "ready-to-transfer"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var sessionTransitions = map[SessionState][]SessionState{
	StateNew:             {StateNegotiating, StateConnecting, StateFailed, StateClosed},
	StateNegotiating:     {StateGathering, StateFailed, StateClosed},
	StateGathering:       {StateReadyToTransfer, StateConnecting, StateFailed, StateClosed},
	StateReadyToTransfer: {StateConnecting, StateConnected, StateFailed, StateClosed},
	StateConnecting:      {StateConnected, StateFailed, StateClosed},
	StateConnected:       {StateFailed, StateClosed},
	StateFailed:          {StateNew, StateClosed},
	StateClosed:          nil,
}

// CanTransition reports whether a session may move from s to next.
func (s SessionState) CanTransition(next SessionState) bool {
	return contains(sessionTransitions[s], next)
}

// SourceStatus is the lifecycle status of a Source registry entry.
type SourceStatus string

const (
	SourceOfferReceived SourceStatus = "offer-received"
	SourceAnswering     SourceStatus = "answering"
	SourceAnswerReady   SourceStatus = "answer-ready"
	SourceConnecting    SourceStatus = "connecting"
	SourceStreaming     SourceStatus = "streaming"
	SourceFailed        SourceStatus = "failed"
	SourceRestoreError  SourceStatus = "connection-restore-error"
	SourceRemoving      SourceStatus = "removing"
)

var sourceTransitions = map[SourceStatus][]SourceStatus{
	SourceOfferReceived: {SourceAnswering, SourceFailed, SourceRemoving},
	SourceAnswering:     {SourceAnswerReady, SourceFailed, SourceRemoving},
	SourceAnswerReady:   {SourceConnecting, SourceStreaming, SourceFailed, SourceRemoving},
	SourceConnecting:    {SourceStreaming, SourceFailed, SourceRestoreError, SourceRemoving},
	SourceStreaming:     {SourceFailed, SourceRemoving},
	SourceFailed:        {SourceRemoving},
	SourceRestoreError:  {SourceRemoving},
	SourceRemoving:      nil,
}

// CanTransition reports whether a Source entry may move from s to next.
func (s SourceStatus) CanTransition(next SourceStatus) bool {
	return contains(sourceTransitions[s], next)
}

// Failed reports whether s is one of the failure statuses.
func (s SourceStatus) Failed() bool {
	return s == SourceFailed || s == SourceRestoreError
}

// Label is the operator-facing text for s.
func (s SourceStatus) Label() string {
	switch s {
	case SourceOfferReceived:
		return "Offer received"
	case SourceAnswering:
		return "Creating answer"
	case SourceAnswerReady:
		return "Answer ready"
	case SourceConnecting:
		return "Connecting"
	case SourceStreaming:
		return "Streaming"
	case SourceFailed:
		return "Connection failed"
	case SourceRestoreError:
		return "Connection restore error"
	case SourceRemoving:
		return "Removing"
	}
	return string(s)
}

// SinkStatus is the lifecycle status of a Sink registry entry.
type SinkStatus string

const (
	SinkPreparingOffer SinkStatus = "preparing-offer"
	SinkOfferReady     SinkStatus = "offer-ready"
	SinkOfferReceived  SinkStatus = "offer-received"
	SinkAnswering      SinkStatus = "answering"
	SinkAnswerReady    SinkStatus = "answer-ready"
	SinkConnecting     SinkStatus = "connecting"
	SinkConnected      SinkStatus = "connected"
	SinkFailed         SinkStatus = "failed"
	SinkRestoreError   SinkStatus = "connection-restore-error"
	SinkRemoving       SinkStatus = "removing"
)

var sinkTransitions = map[SinkStatus][]SinkStatus{
	SinkPreparingOffer: {SinkOfferReady, SinkFailed, SinkRemoving},
	SinkOfferReady:     {SinkConnecting, SinkConnected, SinkFailed, SinkRemoving},
	SinkOfferReceived:  {SinkAnswering, SinkFailed, SinkRemoving},
	SinkAnswering:      {SinkAnswerReady, SinkFailed, SinkRemoving},
	SinkAnswerReady:    {SinkConnecting, SinkConnected, SinkFailed, SinkRemoving},
	SinkConnecting:     {SinkConnected, SinkFailed, SinkRestoreError, SinkRemoving},
	SinkConnected:      {SinkFailed, SinkRemoving},
	SinkFailed:         {SinkRemoving},
	SinkRestoreError:   {SinkRemoving},
	SinkRemoving:       nil,
}

// CanTransition reports whether a Sink entry may move from s to next.
func (s SinkStatus) CanTransition(next SinkStatus) bool {
	return contains(sinkTransitions[s], next)
}

// Failed reports whether s is one of the failure statuses.
func (s SinkStatus) Failed() bool {
	return s == SinkFailed || s == SinkRestoreError
}

// Label is the operator-facing text for s.
func (s SinkStatus) Label() string {
	switch s {
	case SinkPreparingOffer:
		return "Preparing offer"
	case SinkOfferReady:
		return "Offer ready"
	case SinkOfferReceived:
		return "Offer received"
	case SinkAnswering:
		return "Creating answer"
	case SinkAnswerReady:
		return "Answer ready"
	case SinkConnecting:
		return "Connecting"
	case SinkConnected:
		return "Connected"
	case SinkFailed:
		return "Connection failed"
	case SinkRestoreError:
		return "Connection restore error"
	case SinkRemoving:
		return "Removing"
	}
	return string(s)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
