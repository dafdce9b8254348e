package webrtc

import (
	"io"
	"log"

	pion "github.com/pion/webrtc/v4"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// readVideoTrack writes an H264 track to w as Annex-B NAL units.
func readVideoTrack(track *pion.TrackRemote, w io.Writer) {
	log.Printf("[webrtc] reading H264 video track %s", track.ID())

	depack := NewH264Depacketizer()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Printf("[webrtc] video track read error: %v", err)
			return
		}

		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			if _, err := w.Write(startCode); err != nil {
				log.Printf("[webrtc] video write error: %v", err)
				return
			}
			if _, err := w.Write(nalu); err != nil {
				log.Printf("[webrtc] video write error: %v", err)
				return
			}
		}
	}
}

func drainTrack(track *pion.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
