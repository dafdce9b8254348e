package domain

// SDPPayload is the JSON structure for an SDP offer or answer.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure of one ICE candidate, shaped like
// RTCIceCandidateInit so browser endpoints can produce and consume it.
type ICECandidatePayload struct {
	Candidate        string `json:"candidate"`
	SDPMid           string `json:"sdpMid"`
	SDPMLineIndex    int    `json:"sdpMLineIndex"`
	UsernameFragment string `json:"usernameFragment,omitempty"`
}

// Kind tags a signaling message with the negotiation step it belongs to.
type Kind string

const (
	KindSourceOffer  Kind = "source-offer"
	KindSinkOffer    Kind = "sink-offer"
	KindRouterOffer  Kind = "router-offer"
	KindRouterAnswer Kind = "router-answer"
	KindSinkAnswer   Kind = "sink-answer"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindSourceOffer, KindSinkOffer, KindRouterOffer, KindRouterAnswer, KindSinkAnswer:
		return true
	}
	return false
}

// IsOffer reports whether messages of this kind carry an SDP offer.
func (k Kind) IsOffer() bool {
	switch k {
	case KindSourceOffer, KindSinkOffer, KindRouterOffer:
		return true
	}
	return false
}

// SDPType is the SDP type a message of this kind must carry.
func (k Kind) SDPType() string {
	if k.IsOffer() {
		return "offer"
	}
	return "answer"
}

// Message is one sealed signaling message. It is produced once per
// negotiation round and treated as an immutable value afterwards.
type Message struct {
	Kind        Kind
	SessionID   string
	DisplayName string
	Description SDPPayload
	Candidates  []ICECandidatePayload
}
