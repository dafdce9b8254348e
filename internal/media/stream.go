// Package media holds the local track handles that Peer Sessions send.
//
// A Stream is owned by exactly one party, which is the only one allowed to
// Stop it. Everyone else borrows its tracks.
package media

import (
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// Stream groups at most one video and one audio track.
type Stream struct {
	id string

	mu      sync.Mutex
	video   pion.TrackLocal
	audio   pion.TrackLocal
	stops   []func()
	stopped bool
}

// NewStream creates a stream from the given tracks. A later track of the
// same kind replaces an earlier one.
func NewStream(id string, tracks ...pion.TrackLocal) *Stream {
	s := &Stream{id: id}
	for _, t := range tracks {
		s.setTrack(t)
	}
	return s
}

func (s *Stream) ID() string { return s.id }

// Video returns the video track or nil.
func (s *Stream) Video() pion.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// Audio returns the audio track or nil.
func (s *Stream) Audio() pion.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// Tracks returns the present tracks, video first.
func (s *Stream) Tracks() []pion.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pion.TrackLocal
	if s.video != nil {
		out = append(out, s.video)
	}
	if s.audio != nil {
		out = append(out, s.audio)
	}
	return out
}

// Attach adds a track whose producer is torn down by stop when the stream
// stops. Attaching to a stopped stream runs stop immediately.
func (s *Stream) Attach(track pion.TrackLocal, stop func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		return
	}
	s.setTrack(track)
	if stop != nil {
		s.stops = append(s.stops, stop)
	}
	s.mu.Unlock()
}

// OnStop registers fn to run when the stream stops.
func (s *Stream) OnStop(fn func()) {
	s.Attach(nil, fn)
}

// Stop ends every producer feeding the stream. It is safe to call twice.
func (s *Stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Stopped reports whether Stop has been called.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Stream) setTrack(t pion.TrackLocal) {
	if t == nil {
		return
	}
	switch t.Kind() {
	case pion.RTPCodecTypeVideo:
		s.video = t
	case pion.RTPCodecTypeAudio:
		s.audio = t
	}
}
