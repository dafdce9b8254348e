package webrtc

const (
	naluTypeSTAPA = 24
	naluTypeFUA   = 28
)

// H264Depacketizer turns RTP H264 payloads back into NAL units. Each
// instance keeps its own FU-A reassembly state, so one is needed per track.
type H264Depacketizer struct {
	fuaBuf  []byte
	lastSeq uint16
	seen    bool
}

func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize handles single NAL, STAP-A and FU-A payloads. seq is the RTP
// sequence number; a gap discards the fragmented NAL in progress, since
// splicing around a lost fragment produces a corrupt unit.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if d.seen && seq != d.lastSeq+1 {
		d.fuaBuf = nil
	}
	d.lastSeq, d.seen = seq, true

	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f
	switch {
	case naluType >= 1 && naluType <= 23:
		return [][]byte{payload}
	case naluType == naluTypeSTAPA:
		return splitSTAPA(payload)
	case naluType == naluTypeFUA:
		return d.reassembleFUA(payload)
	default:
		return nil
	}
}

func splitSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) reassembleFUA(payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	indicator, header := payload[0], payload[1]
	start := header&0x80 != 0
	end := header&0x40 != 0

	switch {
	case start:
		// F and NRI come from the indicator, the type from the FU header.
		d.fuaBuf = append([]byte{indicator&0xe0 | header&0x1f}, payload[2:]...)
	case d.fuaBuf == nil:
		// continuation without a start: the head of this unit was lost
		return nil
	default:
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	}

	if !end {
		return nil
	}
	nalu := d.fuaBuf
	d.fuaBuf = nil
	return [][]byte{nalu}
}
