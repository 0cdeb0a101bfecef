package mpegts

import (
	"fmt"

	"github.com/zsiec/reseq/parse"
)

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

func parsePES(payload []byte) (*PESData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	buf := parse.NewBufferBytes(payload)
	buf.SkipBytes(3) // start code prefix

	streamID := buf.ReadUint8()
	packetLength := int(buf.ReadUint16())

	pes := &PESData{
		Header: &PESHeader{
			StreamID: streamID,
		},
	}

	// Stream IDs that don't carry an optional PES header:
	// padding_stream (0xBE), private_stream_2 (0xBF),
	// ECM (0xF0), EMM (0xF1), program_stream_directory (0xFF),
	// DSMCC (0xF2), ITU-T Rec. H.222.1 type E (0xF8)
	hasOptionalHeader := streamID != 0xBE && streamID != 0xBF &&
		streamID != 0xF0 && streamID != 0xF1 &&
		streamID != 0xF2 && streamID != 0xF8 && streamID != 0xFF

	if !hasOptionalHeader {
		if packetLength > 0 && packetLength <= buf.BytesLeft() {
			buf.SetLimit(buf.Position() + packetLength)
		}
		pes.Data = payload[buf.Position():buf.Limit()]
		return pes, nil
	}

	if buf.BytesLeft() < 3 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	// Optional header layout:
	// byte 0: marker(2) + scrambling(2) + priority(1) + alignment(1) + copyright(1) + original(1)
	// byte 1: PTS_DTS_indicator(2) + ESCR(1) + ES_rate(1) + DSM_trick(1) + additional_copy(1) + CRC(1) + extension(1)
	// byte 2: PES_header_data_length
	buf.SkipBytes(1)
	ptsDTSIndicator := (buf.ReadUint8() >> 6) & 0x03
	headerDataLength := int(buf.ReadUint8())

	headerDataStart := buf.Position()
	dataStart := headerDataStart + headerDataLength
	if dataStart > buf.Limit() {
		dataStart = buf.Limit()
	}

	pes.Header.OptionalHeader = &PESOptionalHeader{}

	switch ptsDTSIndicator {
	case 2: // PTS only
		if buf.BytesLeft() >= 5 {
			pes.Header.OptionalHeader.PTS = readPTSOrDTS(buf)
		}
	case 3: // PTS + DTS
		if buf.BytesLeft() >= 10 {
			pes.Header.OptionalHeader.PTS = readPTSOrDTS(buf)
			pes.Header.OptionalHeader.DTS = readPTSOrDTS(buf)
		}
	}

	// packetLength=0 means unbounded (video streams); otherwise it counts
	// from the byte after the length field, which sits 6 bytes into the
	// payload.
	end := len(payload)
	if packetLength > 0 {
		if totalPES := 6 + packetLength; totalPES < end {
			end = totalPES
		}
	}
	if dataStart > end {
		return nil, fmt.Errorf("mpegts: PES header data length %d exceeds packet bounds", headerDataLength)
	}
	pes.Data = payload[dataStart:end]

	return pes, nil
}

// readPTSOrDTS extracts a 33-bit timestamp from 5 PES timestamp bytes.
func readPTSOrDTS(buf *parse.Buffer) *ClockReference {
	var bs [5]byte
	buf.ReadBytes(bs[:])
	base := int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
	return &ClockReference{Base: base}
}
