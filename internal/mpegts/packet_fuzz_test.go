package mpegts

import (
	"testing"

	"github.com/zsiec/reseq/parse"
)

func FuzzParsePacket(f *testing.F) {
	f.Add(makePacket(0x100, 0, true, []byte{0x01, 0x02}))
	f.Add(makePacketWithAF(0x1FFF, 15, 183, nil))
	f.Add(make([]byte, packetSize))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) != packetSize {
			return
		}
		p, err := parsePacket(parse.NewBufferBytes(data))
		if err != nil {
			return
		}
		if p.Header.PID > 0x1FFF {
			t.Errorf("PID out of range: 0x%X", p.Header.PID)
		}
		if len(p.Payload) > packetSize-4 {
			t.Errorf("payload too large: %d", len(p.Payload))
		}
	})
}

func FuzzParsePES(f *testing.F) {
	f.Add(buildPESPacket(0xE0, 90000, 89000, []byte{0xAA}))
	f.Add(buildPESPacket(0xC0, 0, -1, nil))
	f.Add([]byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x00})
	// Bounded packet with a header data length pointing past the packet end.
	f.Add(append([]byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x03, 0x80, 0x00, 0x06}, make([]byte, 11)...))

	f.Fuzz(func(t *testing.T, data []byte) {
		pes, err := parsePES(data)
		if err != nil {
			return
		}
		if pes.Header == nil {
			t.Error("parsed PES has nil header")
		}
		if oh := pes.Header.OptionalHeader; oh != nil && oh.PTS != nil {
			if oh.PTS.Base < 0 || oh.PTS.Base >= 1<<33 {
				t.Errorf("PTS out of 33-bit range: %d", oh.PTS.Base)
			}
		}
	})
}
