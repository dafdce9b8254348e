// Package codec converts signaling messages to and from the blobs that are
// carried between endpoints by hand.
package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"fest_router/native/internal/domain"

	"github.com/bytedance/sonic"
)

// envelope is the wire form. Pointers distinguish absent fields from empty ones.
type envelope struct {
	Type          string                       `json:"type"`
	ID            string                       `json:"id"`
	Name          string                       `json:"name"`
	SDP           *domain.SDPPayload           `json:"sdp"`
	ICECandidates []domain.ICECandidatePayload `json:"iceCandidates"`
}

// legacyKinds maps the spellings used by older browser builds.
var legacyKinds = map[string]domain.Kind{
	"camera_offer":                domain.KindSourceOffer,
	"camera-offer":                domain.KindSourceOffer,
	"monitor_offer":               domain.KindSinkOffer,
	"monitor-offer":               domain.KindSinkOffer,
	"controller_answer":           domain.KindRouterAnswer,
	"controller_offer_to_monitor": domain.KindRouterOffer,
	"monitor_answer":              domain.KindSinkAnswer,
}

var api = sonic.ConfigStd

// Encode serializes m as indented JSON.
func Encode(m domain.Message) ([]byte, error) {
	env := envelope{
		Type:          string(m.Kind),
		ID:            m.SessionID,
		Name:          m.DisplayName,
		SDP:           &domain.SDPPayload{Type: m.Description.Type, SDP: m.Description.SDP},
		ICECandidates: m.Candidates,
	}
	data, err := api.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal signaling message: %w", err)
	}
	return data, nil
}

// Decode parses a blob. When expect is non-empty the message kind must be
// one of them. Base64-wrapped JSON is accepted as well as raw JSON.
func Decode(blob []byte, expect ...domain.Kind) (domain.Message, error) {
	data := bytes.TrimSpace(blob)
	if len(data) == 0 {
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMalformedSyntax, Field: "blob"}
	}
	if data[0] != '{' {
		raw, err := base64.StdEncoding.DecodeString(string(data))
		if err != nil {
			return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMalformedSyntax, Err: err}
		}
		data = bytes.TrimSpace(raw)
	}

	var env envelope
	if err := api.Unmarshal(data, &env); err != nil {
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMalformedSyntax, Err: err}
	}

	switch {
	case env.Type == "":
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMissingField, Field: "type"}
	case env.ID == "":
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMissingField, Field: "id"}
	case env.SDP == nil:
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMissingField, Field: "sdp"}
	case env.SDP.Type == "":
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMissingField, Field: "sdp.type"}
	case env.SDP.SDP == "":
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMissingField, Field: "sdp.sdp"}
	}

	kind := domain.Kind(env.Type)
	if legacy, ok := legacyKinds[env.Type]; ok {
		kind = legacy
	}
	if !kind.Valid() {
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonMalformedSyntax, Field: "type"}
	}
	if len(expect) > 0 && !containsKind(expect, kind) {
		return domain.Message{}, &domain.DecodeError{Reason: domain.ReasonWrongKind, Got: kind, Want: expect}
	}
	if env.SDP.Type != kind.SDPType() {
		return domain.Message{}, &domain.DecodeError{
			Reason: domain.ReasonWrongKind,
			Got:    kind,
			Field:  "sdp.type is " + strconv.Quote(env.SDP.Type),
		}
	}

	return domain.Message{
		Kind:        kind,
		SessionID:   env.ID,
		DisplayName: env.Name,
		Description: *env.SDP,
		Candidates:  env.ICECandidates,
	}, nil
}

// FileName is the conventional file name for a blob of the given kind.
func FileName(kind domain.Kind, at time.Time) string {
	return fmt.Sprintf("%s-%d.json", kind, at.UnixMilli())
}

func containsKind(kinds []domain.Kind, k domain.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
