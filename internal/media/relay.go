package media

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// Relay copies RTP from a received track into a local track that any number
// of senders can borrow.
type Relay struct {
	remote *pion.TrackRemote
	local  *pion.TrackLocalStaticRTP

	once sync.Once
	done chan struct{}
}

// NewRelay creates the local side of a relay for remote. The local track keeps
// the remote codec so it can be bound to senders without transcoding.
func NewRelay(remote *pion.TrackRemote, streamID string) (*Relay, error) {
	local, err := pion.NewTrackLocalStaticRTP(remote.Codec().RTPCodecCapability, remote.ID(), streamID)
	if err != nil {
		return nil, fmt.Errorf("create relay track: %w", err)
	}
	return &Relay{
		remote: remote,
		local:  local,
		done:   make(chan struct{}),
	}, nil
}

// Local is the track to hand to senders.
func (r *Relay) Local() *pion.TrackLocalStaticRTP { return r.local }

// SSRC of the remote track, used to address keyframe requests.
func (r *Relay) SSRC() uint32 { return uint32(r.remote.SSRC()) }

// Kind of the relayed media.
func (r *Relay) Kind() pion.RTPCodecType { return r.remote.Kind() }

// Run forwards packets until the remote track ends or Stop is called.
func (r *Relay) Run() {
	log.Printf("[media] relay %s (%s) started", r.remote.ID(), r.remote.Codec().MimeType)
	for {
		pkt, _, err := r.remote.ReadRTP()
		if err != nil {
			select {
			case <-r.done:
			default:
				if !errors.Is(err, io.EOF) {
					log.Printf("[media] relay %s read: %v", r.remote.ID(), err)
				}
			}
			return
		}

		select {
		case <-r.done:
			return
		default:
		}

		if err := r.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Printf("[media] relay %s write: %v", r.remote.ID(), err)
			return
		}
	}
}

// Stop ends Run after the next packet. The remote track itself is closed by
// its peer connection.
func (r *Relay) Stop() {
	r.once.Do(func() { close(r.done) })
}
