package router

import (
	"fmt"
	"log"

	"fest_router/native/internal/domain"
	"fest_router/native/internal/media"

	pion "github.com/pion/webrtc/v4"
)

// Assign routes sourceID to sinkID. An empty sourceID puts the Sink on the
// placeholder. Re-assigning the current Source does nothing. The switch is
// atomic: on failure the Sink keeps sending what it sent before.
func (r *Router) Assign(sinkID, sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.assignLocked(sinkID, sourceID); err != nil {
		return err
	}
	// an explicit choice replaces a rebind still waiting from resumption
	delete(r.pending, sinkID)
	return nil
}

func (r *Router) assignLocked(sinkID, sourceID string) error {
	sink, ok := r.sinks.get(sinkID)
	if !ok {
		return &domain.AssignmentError{SinkID: sinkID, SourceID: sourceID, Reason: "unknown sink"}
	}
	if sink.status != domain.SinkConnected {
		return &domain.AssignmentError{SinkID: sinkID, SourceID: sourceID, Reason: "sink is " + string(sink.status)}
	}

	stream := r.noSignal
	var src *sourceEntry
	if sourceID != "" {
		src, ok = r.sources.get(sourceID)
		if !ok {
			return &domain.AssignmentError{SinkID: sinkID, SourceID: sourceID, Reason: "unknown source"}
		}
		if src.status != domain.SourceStreaming {
			return &domain.AssignmentError{SinkID: sinkID, SourceID: sourceID, Reason: "source is " + string(src.status)}
		}
		stream = src.session.Stream()
		if stream == nil || stream.Stopped() || len(stream.Tracks()) == 0 {
			return &domain.AssignmentError{SinkID: sinkID, SourceID: sourceID, Reason: "source has no media"}
		}
	}

	if cur, ok := r.table.Lookup(sinkID); ok && cur == sourceID {
		return nil
	}

	if err := replaceTracks(sink.session, stream); err != nil {
		return fmt.Errorf("assign %s -> %q: %w", sinkID, sourceID, err)
	}
	r.table.Set(sinkID, sourceID)
	sink.boundSourceID = sourceID

	if src != nil {
		// sinks joining mid-stream need a keyframe to start decoding
		if err := src.session.RequestKeyframe(); err != nil {
			log.Printf("[router] source %s: request keyframe: %v", sourceID, err)
		}
		log.Printf("[router] sink %s <- source %s", sinkID, sourceID)
	} else {
		log.Printf("[router] sink %s <- no signal", sinkID)
	}
	r.emitSinkLocked(sink)
	r.persistLocked()
	return nil
}

// replaceTracks swaps video then audio. If audio fails, video is put back.
// A stream without audio mutes the audio sender.
func replaceTracks(sess Session, stream *media.Stream) error {
	prevVideo, _ := sess.OutgoingTracks()
	if err := sess.ReplaceOutgoingVideoTrack(stream.Video()); err != nil {
		return fmt.Errorf("replace video: %w", err)
	}
	if err := sess.ReplaceOutgoingAudioTrack(stream.Audio()); err != nil {
		if rerr := sess.ReplaceOutgoingVideoTrack(prevVideo); rerr != nil {
			log.Printf("[router] %s: restore video after failed switch: %v", sess.ID(), rerr)
		}
		return fmt.Errorf("replace audio: %w", err)
	}
	return nil
}

// forwardTrackLocked hands a track that arrived after src started streaming
// to every Sink already showing src. The table does not change.
func (r *Router) forwardTrackLocked(src *sourceEntry, kind string) {
	stream := src.session.Stream()
	if stream == nil || stream.Stopped() {
		return
	}
	for _, sinkID := range r.table.SinksOf(src.id) {
		sink, ok := r.sinks.get(sinkID)
		if !ok {
			continue
		}
		var err error
		switch kind {
		case pion.RTPCodecTypeVideo.String():
			err = sink.session.ReplaceOutgoingVideoTrack(stream.Video())
		case pion.RTPCodecTypeAudio.String():
			err = sink.session.ReplaceOutgoingAudioTrack(stream.Audio())
		default:
			return
		}
		if err != nil {
			log.Printf("[router] sink %s: forward late %s from %s: %v", sinkID, kind, src.id, err)
			continue
		}
		log.Printf("[router] sink %s: late %s track from %s", sinkID, kind, src.id)
	}
	if kind == pion.RTPCodecTypeVideo.String() && len(r.table.SinksOf(src.id)) > 0 {
		if err := src.session.RequestKeyframe(); err != nil {
			log.Printf("[router] source %s: request keyframe: %v", src.id, err)
		}
	}
}

// detachSinkLocked moves sinkID to the placeholder. A Sink that cannot be
// switched any more loses its row instead.
func (r *Router) detachSinkLocked(sinkID string) {
	err := r.assignLocked(sinkID, "")
	if err == nil {
		return
	}
	log.Printf("[router] sink %s: detach: %v", sinkID, err)
	r.table.Delete(sinkID)
	if sink, ok := r.sinks.get(sinkID); ok {
		sink.boundSourceID = ""
		if sink.status == domain.SinkConnected {
			r.setSinkStatusLocked(sink, domain.SinkFailed, err)
		} else {
			r.emitSinkLocked(sink)
		}
	}
}
