package media

import (
	"fmt"
	"log"
	"time"

	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	// NoSignalStreamID identifies the placeholder stream on the wire.
	NoSignalStreamID = "no-signal"

	opusFrameDuration = 20 * time.Millisecond
)

// opusSilence is a single 20ms Opus packet that decodes to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// NewNoSignal builds the placeholder stream fed to Sinks that have no Source.
// Its audio track carries continuous silence; its video track carries no
// frames, which receivers render as a blank picture.
func NewNoSignal() (*Stream, error) {
	video, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8},
		"no-signal-video",
		NoSignalStreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create placeholder video: %w", err)
	}

	audio, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"no-signal-audio",
		NoSignalStreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create placeholder audio: %w", err)
	}

	s := NewStream(NoSignalStreamID, video)
	done := make(chan struct{})
	s.Attach(audio, func() { close(done) })
	go writeSilence(audio, done)

	return s, nil
}

func writeSilence(track *pion.TrackLocalStaticSample, done <-chan struct{}) {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: opusFrameDuration})
			if err != nil {
				log.Printf("[media] placeholder audio write: %v", err)
			}
		}
	}
}
