package webrtc

import (
	"fmt"

	"fest_router/native/internal/domain"

	"github.com/pion/sdp/v3"
)

// candidatesFromSDP lists the candidates embedded in a gathered description,
// one per media section they appear in, loopback excluded.
func candidatesFromSDP(raw string) ([]domain.ICECandidatePayload, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("parse sdp: %w", err)
	}

	sessionUfrag, _ := sd.Attribute("ice-ufrag")

	var out []domain.ICECandidatePayload
	for i, md := range sd.MediaDescriptions {
		mid, _ := md.Attribute("mid")
		ufrag, ok := md.Attribute("ice-ufrag")
		if !ok {
			ufrag = sessionUfrag
		}
		for _, a := range md.Attributes {
			if a.Key != "candidate" {
				continue
			}
			candidate := "candidate:" + a.Value
			if isLoopback(candidate) {
				continue
			}
			out = append(out, domain.ICECandidatePayload{
				Candidate:        candidate,
				SDPMid:           mid,
				SDPMLineIndex:    i,
				UsernameFragment: ufrag,
			})
		}
	}
	return out, nil
}
