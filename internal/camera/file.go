// Package camera is the Source endpoint: it plays an H264 Annex-B file as a
// live video track and publishes it to the router.
package camera

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"fest_router/native/internal/domain"
	"fest_router/native/internal/media"

	pion "github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

const DefaultFPS = 30

type sampleWriter interface {
	WriteSample(s pionmedia.Sample) error
}

// OpenFile returns a stream whose video track plays path in a loop at fps
// frames per second. Stopping the stream stops playback.
func OpenFile(id, path string, fps int) (*media.Stream, error) {
	if fps <= 0 {
		fps = DefaultFPS
	}

	src := &loopReader{path: path}
	if _, err := src.next(); err != nil {
		src.close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	src.close()

	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeH264},
		"camera-video",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	done := make(chan struct{})
	s := media.NewStream(id)
	s.Attach(track, func() { close(done) })
	go play(src, fps, track, done)

	log.Printf("[camera] playing %s at %d fps", path, fps)
	return s, nil
}

// play writes one frame per tick. Parameter sets and other non-slice units
// go out with the frame that follows them.
func play(src *loopReader, fps int, w sampleWriter, done <-chan struct{}) {
	defer src.close()

	frame := time.Second / time.Duration(fps)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		for {
			nal, err := src.next()
			if err != nil {
				log.Printf("[camera] read: %v", err)
				return
			}
			slice := nal.UnitType == h264reader.NalUnitTypeCodedSliceIdr ||
				nal.UnitType == h264reader.NalUnitTypeCodedSliceNonIdr

			var d time.Duration
			if slice {
				d = frame
			}
			if err := w.WriteSample(pionmedia.Sample{Data: nal.Data, Duration: d}); err != nil {
				log.Printf("[camera] write sample: %v", err)
			}
			if slice {
				break
			}
		}
	}
}

// loopReader yields the NAL units of a file forever, reopening it at EOF.
type loopReader struct {
	path string
	f    *os.File
	r    *h264reader.H264Reader
	// units read since the last open
	units int
}

func (l *loopReader) next() (*h264reader.NAL, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if l.r == nil {
			if err := l.open(); err != nil {
				return nil, err
			}
		}
		nal, err := l.r.NextNAL()
		if err == nil {
			l.units++
			return nal, nil
		}
		empty := l.units == 0
		l.close()
		switch {
		case empty:
			return nil, fmt.Errorf("no h264 units in %s (%v): %w", l.path, err, domain.ErrMediaUnavailable)
		case !errors.Is(err, io.EOF):
			return nil, fmt.Errorf("parse h264: %w", err)
		}
	}
	return nil, fmt.Errorf("no h264 units in %s: %w", l.path, domain.ErrMediaUnavailable)
}

func (l *loopReader) open() error {
	f, err := os.Open(l.path)
	if err != nil {
		return err
	}
	r, err := h264reader.NewReader(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("h264 reader: %w", err)
	}
	l.f, l.r = f, r
	return nil
}

func (l *loopReader) close() {
	if l.f != nil {
		l.f.Close()
	}
	l.f, l.r = nil, nil
	l.units = 0
}
