package mpegts

import (
	"fmt"

	"github.com/zsiec/reseq/parse"
)

const (
	packetSize = 188
	syncByte   = 0x47
)

// parsePacket parses one 188-byte transport packet from the buffer's
// readable region.
func parsePacket(buf *parse.Buffer) (*Packet, error) {
	if buf.BytesLeft() != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", buf.BytesLeft(), packetSize)
	}
	if buf.PeekUint8() != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf.PeekUint8())
	}
	buf.SkipBytes(1)

	p := &Packet{}
	flagsAndPID := buf.ReadUint16()
	p.Header.TransportErrorIndicator = flagsAndPID&0x8000 != 0
	p.Header.PayloadUnitStartIndicator = flagsAndPID&0x4000 != 0
	p.Header.PID = flagsAndPID & 0x1FFF

	ctrl := buf.ReadUint8()
	p.Header.HasAdaptationField = ctrl&0x20 != 0
	p.Header.HasPayload = ctrl&0x10 != 0
	p.Header.ContinuityCounter = ctrl & 0x0F

	if p.Header.HasAdaptationField {
		if buf.BytesLeft() == 0 {
			return p, nil
		}
		afLen := int(buf.ReadUint8())
		if afLen > 0 && buf.BytesLeft() > 0 {
			p.Header.DiscontinuityIndicator = buf.PeekUint8()&0x80 != 0
		}
		if afLen > buf.BytesLeft() {
			afLen = buf.BytesLeft()
		}
		buf.SkipBytes(afLen)
	}

	if p.Header.HasPayload && buf.BytesLeft() > 0 {
		p.Payload = make([]byte, buf.BytesLeft())
		buf.ReadBytes(p.Payload)
	}

	return p, nil
}
