// Package pipeline orchestrates the demux-to-distribution data flow for a
// single stream, forwarding video, audio, and caption output from the
// Demuxer to the Relay while collecting telemetry.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zsiec/reseq/internal/demux"
	"github.com/zsiec/reseq/internal/media"
)

// Broadcaster is the subset of distribution.Relay that the pipeline uses to
// fan out parsed samples to viewers. Accepting an interface here decouples
// the pipeline from the concrete Relay type, making it testable with stubs.
type Broadcaster interface {
	BroadcastVideo(sample *media.VideoSample)
	BroadcastAudio(sample *media.AudioSample)
	BroadcastCaption(c *media.Caption)
	ViewerCount() int
}

// Snapshot is a point-in-time view of a stream's forwarding counters,
// suitable for JSON serialization.
type Snapshot struct {
	Timestamp      int64  `json:"timestamp"`
	UptimeMs       int64  `json:"uptimeMs"`
	Protocol       string `json:"protocol,omitempty"`
	VideoCodec     string `json:"videoCodec,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	AudioTracks    int    `json:"audioTracks"`
	VideoForwarded int64  `json:"videoForwarded"`
	AudioForwarded int64  `json:"audioForwarded"`
	CaptionsFwd    int64  `json:"captionsForwarded"`
	LastVideoPTS   int64  `json:"lastVideoPTS"`
	LastCaptionPTS int64  `json:"lastCaptionPTS"`
	ViewerCount    int    `json:"viewerCount"`
}

// Pipeline bridges a single stream's Demuxer and Relay. It reads parsed
// samples from the demuxer's output channels and broadcasts them to all
// viewers, while accumulating statistics.
type Pipeline struct {
	log       *slog.Logger
	demuxer   *demux.Demuxer
	relay     Broadcaster
	streamKey string
	startTime time.Time
	protocol  string

	videoForwarded atomic.Int64
	audioForwarded atomic.Int64
	captionFwd     atomic.Int64
	lastVideoPTS   atomic.Int64
	lastCaptionPTS atomic.Int64
}

// New creates a Pipeline that reads demuxed samples from input and
// broadcasts them via relay.
func New(streamKey string, input io.Reader, relay Broadcaster) *Pipeline {
	return &Pipeline{
		log:       slog.With("stream", streamKey),
		demuxer:   demux.NewDemuxer(input, slog.With("stream", streamKey)),
		relay:     relay,
		streamKey: streamKey,
		startTime: time.Now(),
	}
}

// SetProtocol records the ingest protocol name (e.g. "SRT") for inclusion
// in snapshots.
func (p *Pipeline) SetProtocol(proto string) {
	p.protocol = proto
}

// StreamSnapshot returns the current forwarding counters along with the
// stream parameters the demuxer has discovered so far.
func (p *Pipeline) StreamSnapshot() Snapshot {
	snap := Snapshot{
		Timestamp:      time.Now().UnixMilli(),
		UptimeMs:       time.Since(p.startTime).Milliseconds(),
		Protocol:       p.protocol,
		AudioTracks:    len(p.demuxer.AudioTrackChannels()),
		VideoForwarded: p.videoForwarded.Load(),
		AudioForwarded: p.audioForwarded.Load(),
		CaptionsFwd:    p.captionFwd.Load(),
		LastVideoPTS:   p.lastVideoPTS.Load(),
		LastCaptionPTS: p.lastCaptionPTS.Load(),
		ViewerCount:    p.relay.ViewerCount(),
	}
	if info := p.demuxer.SPSInfo(); info.Width > 0 {
		snap.VideoCodec = info.CodecString()
		snap.Width = info.Width
		snap.Height = info.Height
	}
	return snap
}

// Run starts the demuxer and sample-forwarding loop. It blocks until the
// context is cancelled or the demuxer finishes and its channels drain.
func (p *Pipeline) Run(ctx context.Context) error {
	demuxErr := make(chan error, 1)
	go func() {
		err := p.demuxer.Run(ctx)
		p.log.Info("demuxer exited", "error", err)
		demuxErr <- err
	}()

	runDone := make(chan struct{})
	defer close(runDone)
	go func() {
		select {
		case <-p.demuxer.PMTReady():
			p.log.Info("stream mapped", "audioTracks", len(p.demuxer.AudioTrackChannels()))
		case <-runDone:
		}
	}()

	videoCh := p.demuxer.Video()
	audioCh := p.demuxer.Audio()
	captionCh := p.demuxer.Captions()

	for videoCh != nil || audioCh != nil || captionCh != nil {
		// Priority drain: forward video first so higher-rate audio cannot
		// starve video delivery under random select scheduling.
		if videoCh != nil {
			select {
			case sample, ok := <-videoCh:
				if !ok {
					videoCh = nil
					continue
				}
				p.forwardVideo(sample)
				continue
			default:
			}
		}

		select {
		case <-ctx.Done():
			return nil

		case sample, ok := <-videoCh:
			if !ok {
				videoCh = nil
				continue
			}
			p.forwardVideo(sample)

		case sample, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			p.relay.BroadcastAudio(sample)
			p.audioForwarded.Add(1)

		case c, ok := <-captionCh:
			if !ok {
				captionCh = nil
				continue
			}
			p.relay.BroadcastCaption(c)
			p.captionFwd.Add(1)
			p.lastCaptionPTS.Store(c.PTS)
		}
	}

	return <-demuxErr
}

func (p *Pipeline) forwardVideo(sample *media.VideoSample) {
	p.relay.BroadcastVideo(sample)
	p.videoForwarded.Add(1)
	p.lastVideoPTS.Store(sample.PTS)
}
