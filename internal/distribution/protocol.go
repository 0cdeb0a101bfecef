// Package distribution fans demuxed media out to viewers over QUIC. Each
// viewer receives a single unidirectional stream of length-prefixed records
// carrying video samples, audio samples, and captions in the order the
// pipeline produced them.
package distribution

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Record kinds on the wire.
const (
	RecordVideo   byte = 1
	RecordAudio   byte = 2
	RecordCaption byte = 3
)

// Record flag bits.
const (
	FlagKeyframe byte = 1 << 0
)

// maxRecordPayload caps a single record to keep a malformed or hostile peer
// from forcing a huge allocation on read.
const maxRecordPayload = 16 << 20

// Record is one framed unit on a viewer stream.
//
// For video records the payload is the Annex B access unit and Aux carries
// the DTS. For audio records the payload is a complete ADTS frame and Track
// is the audio track index. For caption records the payload is UTF-8 text
// and Track is the caption channel.
type Record struct {
	Kind    byte
	Flags   byte
	Track   byte
	PTS     int64
	Aux     int64
	Payload []byte
}

// recordHeaderSize is the fixed portion: kind, flags, track, PTS, Aux, and
// the payload length.
const recordHeaderSize = 3 + 8 + 8 + 4

// AppendRecord appends the wire encoding of r to dst and returns the
// extended slice.
func AppendRecord(dst []byte, r *Record) []byte {
	dst = append(dst, r.Kind, r.Flags, r.Track)
	dst = binary.BigEndian.AppendUint64(dst, uint64(r.PTS))
	dst = binary.BigEndian.AppendUint64(dst, uint64(r.Aux))
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(r.Payload)))
	return append(dst, r.Payload...)
}

// WriteRecord writes one framed record to w.
func WriteRecord(w io.Writer, r *Record) error {
	buf := AppendRecord(make([]byte, 0, recordHeaderSize+len(r.Payload)), r)
	_, err := w.Write(buf)
	return err
}

// ReadRecord reads one framed record from r. It returns io.EOF when the
// stream ends cleanly at a record boundary.
func ReadRecord(r io.Reader) (*Record, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("distribution: truncated record header: %w", err)
		}
		return nil, err
	}

	rec := &Record{
		Kind:  header[0],
		Flags: header[1],
		Track: header[2],
		PTS:   int64(binary.BigEndian.Uint64(header[3:11])),
		Aux:   int64(binary.BigEndian.Uint64(header[11:19])),
	}

	switch rec.Kind {
	case RecordVideo, RecordAudio, RecordCaption:
	default:
		return nil, fmt.Errorf("distribution: unknown record kind %d", rec.Kind)
	}

	payloadLen := binary.BigEndian.Uint32(header[19:23])
	if payloadLen > maxRecordPayload {
		return nil, fmt.Errorf("distribution: record payload %d exceeds limit", payloadLen)
	}
	if payloadLen > 0 {
		rec.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, rec.Payload); err != nil {
			return nil, fmt.Errorf("distribution: truncated record payload: %w", err)
		}
	}
	return rec, nil
}
