package distribution

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/zsiec/reseq/internal/media"
)

// mockViewer implements the Viewer interface for testing.
type mockViewer struct {
	id      string
	mu      sync.Mutex
	records []*Record

	sent    atomic.Int64
	dropped atomic.Int64
}

func newMockViewer(id string) *mockViewer {
	return &mockViewer{id: id}
}

func (m *mockViewer) ID() string { return m.id }

func (m *mockViewer) Send(rec *Record) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	m.sent.Add(1)
}

func (m *mockViewer) Stats() ViewerStats {
	return ViewerStats{
		ID:      m.id,
		Sent:    m.sent.Load(),
		Dropped: m.dropped.Load(),
	}
}

func (m *mockViewer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *mockViewer) record(i int) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[i]
}

func videoSample(pts int64, keyframe bool, nalu byte) *media.VideoSample {
	return &media.VideoSample{
		PTS:        pts,
		DTS:        pts - 33_000,
		IsKeyframe: keyframe,
		NALUs:      [][]byte{{nalu, 0x00}},
		Codec:      "h264",
	}
}

func TestRelayAddRemoveViewer(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	v := newMockViewer("v1")

	r.AddViewer(v)
	if r.ViewerCount() != 1 {
		t.Errorf("ViewerCount: got %d, want 1", r.ViewerCount())
	}

	r.RemoveViewer("v1")
	if r.ViewerCount() != 0 {
		t.Errorf("ViewerCount: got %d, want 0", r.ViewerCount())
	}
}

func TestRelayBroadcastVideo(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	v1 := newMockViewer("v1")
	v2 := newMockViewer("v2")

	r.AddViewer(v1)
	r.AddViewer(v2)

	r.BroadcastVideo(videoSample(1000, true, 0x65))

	if v1.count() != 1 {
		t.Errorf("v1 record count: got %d, want 1", v1.count())
	}
	if v2.count() != 1 {
		t.Errorf("v2 record count: got %d, want 1", v2.count())
	}

	rec := v1.record(0)
	if rec.Kind != RecordVideo {
		t.Errorf("kind: got %d, want %d", rec.Kind, RecordVideo)
	}
	if rec.Flags&FlagKeyframe == 0 {
		t.Error("keyframe flag not set")
	}
	if rec.PTS != 1000 || rec.Aux != 1000-33_000 {
		t.Errorf("timestamps: got pts=%d aux=%d", rec.PTS, rec.Aux)
	}
}

func TestRelayBroadcastVideoConcatenatesNALUs(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	v := newMockViewer("v1")
	r.AddViewer(v)

	r.BroadcastVideo(&media.VideoSample{
		PTS:   1000,
		NALUs: [][]byte{{0x00, 0x00, 0x00, 0x01, 0x67}, {0x00, 0x00, 0x00, 0x01, 0x65}},
	})

	rec := v.record(0)
	if len(rec.Payload) != 10 {
		t.Errorf("payload length: got %d, want 10", len(rec.Payload))
	}
}

func TestRelayBroadcastAudio(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	v := newMockViewer("v1")
	r.AddViewer(v)

	r.BroadcastAudio(&media.AudioSample{PTS: 1000, Data: []byte{0xFF, 0xF1}, TrackIndex: 1})

	if v.count() != 1 {
		t.Fatalf("record count: got %d, want 1", v.count())
	}
	rec := v.record(0)
	if rec.Kind != RecordAudio || rec.Track != 1 {
		t.Errorf("got kind=%d track=%d, want audio on track 1", rec.Kind, rec.Track)
	}
}

func TestRelayBroadcastCaption(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	v := newMockViewer("v1")
	r.AddViewer(v)

	r.BroadcastCaption(&media.Caption{PTS: 1000, Text: "HELLO", Channel: 1})

	if v.count() != 1 {
		t.Fatalf("record count: got %d, want 1", v.count())
	}
	rec := v.record(0)
	if rec.Kind != RecordCaption || string(rec.Payload) != "HELLO" {
		t.Errorf("got kind=%d payload=%q", rec.Kind, rec.Payload)
	}
}

func TestRelayGOPReplayOrdering(t *testing.T) {
	t.Parallel()

	r := NewRelay()

	// Build a GOP: keyframe + 2 delta frames
	r.BroadcastVideo(videoSample(1000, true, 0x65))
	r.BroadcastVideo(videoSample(2000, false, 0x41))
	r.BroadcastVideo(videoSample(3000, false, 0x41))

	// Late-joining viewer should get all 3 records from GOP replay
	v := newMockViewer("late")
	r.AddViewer(v)

	if v.count() != 3 {
		t.Fatalf("GOP replay: got %d records, want 3", v.count())
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if got := v.record(i).PTS; got != want {
			t.Errorf("record %d PTS: got %d, want %d", i, got, want)
		}
	}
	if v.record(0).Flags&FlagKeyframe == 0 {
		t.Error("first replayed record should carry the keyframe flag")
	}
}

func TestRelayGOPResetOnKeyframe(t *testing.T) {
	t.Parallel()

	r := NewRelay()

	// First GOP
	r.BroadcastVideo(videoSample(1000, true, 0x65))
	r.BroadcastVideo(videoSample(2000, false, 0x41))

	// New keyframe resets GOP cache
	r.BroadcastVideo(videoSample(3000, true, 0x65))

	v := newMockViewer("late")
	r.AddViewer(v)

	// Should only get 1 record (the new keyframe)
	if v.count() != 1 {
		t.Errorf("GOP replay after reset: got %d records, want 1", v.count())
	}
}

func TestRelayAudioCacheReplay(t *testing.T) {
	t.Parallel()

	r := NewRelay()

	for i := 0; i < 3; i++ {
		r.BroadcastAudio(&media.AudioSample{PTS: int64(i) * 1000, Data: []byte{byte(i)}})
	}

	v := newMockViewer("late")
	r.AddViewer(v)

	if v.count() != 3 {
		t.Fatalf("audio replay: got %d records, want 3", v.count())
	}
}

func TestRelayAudioCacheBounded(t *testing.T) {
	t.Parallel()

	r := NewRelay()

	for i := 0; i < audioCacheSize+10; i++ {
		r.BroadcastAudio(&media.AudioSample{PTS: int64(i), Data: []byte{byte(i)}})
	}

	v := newMockViewer("late")
	r.AddViewer(v)

	if v.count() != audioCacheSize {
		t.Fatalf("audio replay: got %d records, want %d", v.count(), audioCacheSize)
	}
	// Oldest entries were evicted, so replay starts at PTS 10.
	if got := v.record(0).PTS; got != 10 {
		t.Errorf("first replayed audio PTS: got %d, want 10", got)
	}
}

func TestRelayCaptionsNotCached(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	r.BroadcastCaption(&media.Caption{PTS: 1000, Text: "STALE"})

	v := newMockViewer("late")
	r.AddViewer(v)

	if v.count() != 0 {
		t.Errorf("caption replay: got %d records, want 0", v.count())
	}
}

func TestRelayViewerCount(t *testing.T) {
	t.Parallel()

	r := NewRelay()

	if r.ViewerCount() != 0 {
		t.Errorf("initial ViewerCount: got %d, want 0", r.ViewerCount())
	}

	r.AddViewer(newMockViewer("a"))
	r.AddViewer(newMockViewer("b"))
	r.AddViewer(newMockViewer("c"))

	if r.ViewerCount() != 3 {
		t.Errorf("ViewerCount: got %d, want 3", r.ViewerCount())
	}

	r.RemoveViewer("b")
	if r.ViewerCount() != 2 {
		t.Errorf("ViewerCount after remove: got %d, want 2", r.ViewerCount())
	}
}

func TestRelayViewerStatsAll(t *testing.T) {
	t.Parallel()

	r := NewRelay()
	v := newMockViewer("v1")
	r.AddViewer(v)

	r.BroadcastVideo(videoSample(1000, true, 0x65))

	stats := r.ViewerStatsAll()
	if len(stats) != 1 {
		t.Fatalf("ViewerStatsAll: got %d entries, want 1", len(stats))
	}
	if stats[0].Sent != 1 {
		t.Errorf("Sent: got %d, want 1", stats[0].Sent)
	}
}
