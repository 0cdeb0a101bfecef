package distribution

import (
	"log/slog"
	"sync"

	"github.com/zsiec/reseq/internal/media"
)

// Viewer is the interface a viewer session must implement to receive
// records from a Relay.
type Viewer interface {
	ID() string
	Send(rec *Record)
	Stats() ViewerStats
}

// ViewerStats captures delivery metrics for one connected viewer.
type ViewerStats struct {
	ID          string `json:"id"`
	RemoteAddr  string `json:"remoteAddr"`
	Sent        int64  `json:"sent"`
	Dropped     int64  `json:"dropped"`
	ConnectedAt int64  `json:"connectedAt"`
}

// audioCacheSize is the number of recent audio records cached per track for
// replay to late-joining viewers (~1 second at ~23ms/frame for AAC).
const audioCacheSize = 50

// Relay is the fan-out hub for a single stream. It encodes each sample into
// a wire record once and distributes it to all connected viewers. The
// current GOP and recent audio are cached so late joiners start from the
// most recent keyframe with pre-filled audio.
type Relay struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]Viewer

	gopMu    sync.RWMutex
	gopCache []*Record

	audioMu    sync.RWMutex
	audioCache map[int][]*Record
}

// NewRelay creates a Relay with no viewers.
func NewRelay() *Relay {
	return &Relay{
		log:        slog.With("component", "relay"),
		sessions:   make(map[string]Viewer),
		audioCache: make(map[int][]*Record),
	}
}

// AddViewer replays the cached GOP and recent audio to the viewer, then
// registers it for live delivery. Replay happens before registration so
// broadcasts cannot interleave live records ahead of the replay.
func (r *Relay) AddViewer(session Viewer) {
	r.gopMu.RLock()
	for _, rec := range r.gopCache {
		session.Send(rec)
	}
	r.gopMu.RUnlock()

	r.audioMu.RLock()
	for _, cache := range r.audioCache {
		for _, rec := range cache {
			session.Send(rec)
		}
	}
	r.audioMu.RUnlock()

	r.mu.Lock()
	r.sessions[session.ID()] = session
	r.mu.Unlock()

	r.log.Info("viewer added", "session", session.ID(), "viewers", r.ViewerCount())
}

// RemoveViewer unregisters a viewer by ID.
func (r *Relay) RemoveViewer(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	r.log.Info("viewer removed", "session", id, "viewers", r.ViewerCount())
}

// BroadcastVideo encodes a video sample once and sends it to all connected
// viewers, updating the GOP cache.
func (r *Relay) BroadcastVideo(sample *media.VideoSample) {
	var payload []byte
	for _, nalu := range sample.NALUs {
		payload = append(payload, nalu...)
	}

	rec := &Record{
		Kind:    RecordVideo,
		PTS:     sample.PTS,
		Aux:     sample.DTS,
		Payload: payload,
	}
	if sample.IsKeyframe {
		rec.Flags |= FlagKeyframe
	}

	r.gopMu.Lock()
	if sample.IsKeyframe {
		r.gopCache = r.gopCache[:0]
	}
	r.gopCache = append(r.gopCache, rec)
	r.gopMu.Unlock()

	r.fanOut(rec)
}

// BroadcastAudio sends an audio sample to all connected viewers and updates
// the per-track cache for late-joiner replay.
func (r *Relay) BroadcastAudio(sample *media.AudioSample) {
	rec := &Record{
		Kind:    RecordAudio,
		Track:   byte(sample.TrackIndex),
		PTS:     sample.PTS,
		Payload: sample.Data,
	}

	r.audioMu.Lock()
	cache := r.audioCache[sample.TrackIndex]
	if len(cache) >= audioCacheSize {
		copy(cache, cache[1:])
		cache[len(cache)-1] = rec
	} else {
		cache = append(cache, rec)
	}
	r.audioCache[sample.TrackIndex] = cache
	r.audioMu.Unlock()

	r.fanOut(rec)
}

// BroadcastCaption sends a caption to all connected viewers. Captions are
// not cached: stale caption text is worse than none.
func (r *Relay) BroadcastCaption(c *media.Caption) {
	r.fanOut(&Record{
		Kind:    RecordCaption,
		Track:   byte(c.Channel),
		PTS:     c.PTS,
		Payload: []byte(c.Text),
	})
}

func (r *Relay) fanOut(rec *Record) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		session.Send(rec)
	}
}

// ViewerCount returns the number of currently connected viewers.
func (r *Relay) ViewerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ViewerStatsAll returns delivery metrics for every connected viewer.
func (r *Relay) ViewerStatsAll() []ViewerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make([]ViewerStats, 0, len(r.sessions))
	for _, s := range r.sessions {
		stats = append(stats, s.Stats())
	}
	return stats
}
