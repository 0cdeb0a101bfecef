// Package media defines the sample types that flow from the demuxer through
// the resequencing pipeline to distribution.
package media

// Channel buffer sizes used to decouple the demuxer (producer) from the
// pipeline (consumer). Sized to absorb jitter without excessive memory.
const (
	VideoBufferSize   = 60
	AudioBufferSize   = 120
	CaptionBufferSize = 30
)

// VideoSample is a single video access unit in decode order, carrying its
// Annex B NAL units and both timestamps. PTS and DTS are in microseconds.
type VideoSample struct {
	PTS        int64
	DTS        int64
	IsKeyframe bool
	NALUs      [][]byte
	Codec      string // "h264"
}

// AudioSample is a single AAC frame (ADTS-wrapped). Audio arrives already in
// presentation order, so it bypasses the reorder queue.
type AudioSample struct {
	PTS        int64
	Data       []byte
	SampleRate int
	Channels   int
	TrackIndex int
}

// Caption is a run of decoded CEA-608 caption text with the presentation
// timestamp of the SEI message it was decoded from. Captions are produced in
// presentation order: the demuxer resequences SEI payloads before decoding.
type Caption struct {
	PTS     int64
	Text    string
	Channel int
}
