package domain

import "time"

// SnapshotVersion is bumped whenever the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// SessionRecord holds what is needed to rebuild one Peer Session.
type SessionRecord struct {
	SessionID         string                `json:"id"`
	DisplayName       string                `json:"name"`
	Role              Role                  `json:"role"`
	Offerer           bool                  `json:"offerer"`
	LocalDescription  *SDPPayload           `json:"localDescription,omitempty"`
	RemoteDescription *SDPPayload           `json:"remoteDescription,omitempty"`
	LocalCandidates   []ICECandidatePayload `json:"localCandidates,omitempty"`
	RemoteCandidates  []ICECandidatePayload `json:"remoteCandidates,omitempty"`
	Certificate       string                `json:"certificate,omitempty"`
}

// SourceRecord is a persisted Source registry entry.
type SourceRecord struct {
	SessionRecord
	Status SourceStatus `json:"status"`
}

// SinkRecord is a persisted Sink registry entry.
type SinkRecord struct {
	SessionRecord
	Status        SinkStatus `json:"status"`
	BoundSourceID string     `json:"boundSourceId,omitempty"`
}

// Route is one routing table row. An empty SourceID means no signal.
type Route struct {
	SinkID   string `json:"sinkId"`
	SourceID string `json:"sourceId,omitempty"`
}

// Snapshot is the persisted form of the Router's registries and routing table.
type Snapshot struct {
	Version int            `json:"version"`
	SavedAt time.Time      `json:"savedAt"`
	Sources []SourceRecord `json:"sources"`
	Sinks   []SinkRecord   `json:"sinks"`
	Routes  []Route        `json:"routes"`
}

// Empty reports whether the snapshot holds no entries.
func (s Snapshot) Empty() bool {
	return len(s.Sources) == 0 && len(s.Sinks) == 0
}
