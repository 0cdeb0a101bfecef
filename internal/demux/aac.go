package demux

import "errors"

// ErrInvalidADTS is returned when an ADTS header carries an out-of-range
// sample rate index.
var ErrInvalidADTS = errors.New("invalid ADTS header")

// AAC sample rate index table (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// AACFrame is a single AAC audio frame split out of an ADTS stream.
type AACFrame struct {
	Data       []byte // complete ADTS frame (header + payload)
	SampleRate int
	Channels   int
}

// ParseADTS splits an ADTS byte stream into individual AAC frames. Bytes
// before the first sync word are skipped; a truncated trailing frame is
// dropped.
func ParseADTS(data []byte) ([]AACFrame, error) {
	var frames []AACFrame

	for offset := 0; offset+7 <= len(data); {
		// Sync word: 0xFFF in the first 12 bits.
		if data[offset] != 0xFF || data[offset+1]&0xF0 != 0xF0 {
			offset++
			continue
		}

		headerSize := 7
		if data[offset+1]&0x01 == 0 { // protection_absent clear: CRC follows
			headerSize = 9
		}

		sampleRateIdx := data[offset+2] >> 2 & 0x0F
		if int(sampleRateIdx) >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}

		channelCfg := data[offset+2]&0x01<<2 | data[offset+3]>>6&0x03

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)
		if frameLen < headerSize || offset+frameLen > len(data) {
			break
		}

		frames = append(frames, AACFrame{
			Data:       data[offset : offset+frameLen],
			SampleRate: aacSampleRates[sampleRateIdx],
			Channels:   int(channelCfg),
		})
		offset += frameLen
	}

	return frames, nil
}
