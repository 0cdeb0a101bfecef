package demux

import (
	"bytes"
	"testing"
)

// buildADTSFrame wraps payload in a 7-byte ADTS header: MPEG-4, AAC-LC, no
// CRC, with the given sample rate index and channel configuration.
func buildADTSFrame(sampleRateIdx, channels int, payload []byte) []byte {
	frameLen := 7 + len(payload)
	header := []byte{
		0xFF,
		0xF1, // MPEG-4, layer 0, protection_absent
		byte(1<<6 | sampleRateIdx<<2 | channels>>2&0x01),
		byte(channels&0x03<<6 | frameLen>>11&0x03),
		byte(frameLen >> 3),
		byte(frameLen&0x07<<5 | 0x1F), // buffer fullness = 0x7FF (VBR)
		0xFC,
	}
	return append(header, payload...)
}

func TestParseADTS(t *testing.T) {
	t.Parallel()
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xCA, 0xFE}
	adts := buildADTSFrame(3, 2, payload) // 48kHz stereo

	frames, err := ParseADTS(adts)
	if err != nil {
		t.Fatalf("ParseADTS failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].SampleRate != 48000 {
		t.Errorf("sample rate: got %d, want 48000", frames[0].SampleRate)
	}
	if frames[0].Channels != 2 {
		t.Errorf("channels: got %d, want 2", frames[0].Channels)
	}
	if !bytes.Equal(frames[0].Data, adts) {
		t.Error("frame data should be the complete ADTS frame")
	}
}

func TestParseADTSMultipleFrames(t *testing.T) {
	t.Parallel()
	var stream []byte
	stream = append(stream, buildADTSFrame(4, 2, []byte{0x01, 0x02})...) // 44.1kHz
	stream = append(stream, buildADTSFrame(4, 2, []byte{0x03, 0x04})...)
	stream = append(stream, buildADTSFrame(4, 2, []byte{0x05})...)

	frames, err := ParseADTS(stream)
	if err != nil {
		t.Fatalf("ParseADTS failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for _, f := range frames {
		if f.SampleRate != 44100 {
			t.Errorf("sample rate: got %d, want 44100", f.SampleRate)
		}
	}
}

func TestParseADTSSkipsGarbagePrefix(t *testing.T) {
	t.Parallel()
	frame := buildADTSFrame(3, 1, []byte{0xAB})
	stream := append([]byte{0x00, 0x13, 0x37}, frame...)

	frames, err := ParseADTS(stream)
	if err != nil {
		t.Fatalf("ParseADTS failed: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Channels != 1 {
		t.Errorf("channels: got %d, want 1", frames[0].Channels)
	}
}

func TestParseADTSEmpty(t *testing.T) {
	t.Parallel()
	frames, err := ParseADTS(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected 0 frames for empty input, got %d", len(frames))
	}
}

func TestParseADTSTruncated(t *testing.T) {
	t.Parallel()
	// Sync word but not enough bytes for a full header.
	frames, err := ParseADTS([]byte{0xFF, 0xF1, 0x50, 0x80, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("expected 0 frames for truncated input, got %d", len(frames))
	}
}

func TestParseADTSBadSampleRateIndex(t *testing.T) {
	t.Parallel()
	frame := buildADTSFrame(3, 2, []byte{0x01})
	frame[2] = frame[2]&0xC3 | 0x0F<<2 // sample rate index 15: reserved
	if _, err := ParseADTS(frame); err == nil {
		t.Error("expected error for reserved sample rate index")
	}
}
