package demux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/zsiec/ccx"
	"github.com/zsiec/reseq/internal/media"
	"github.com/zsiec/reseq/internal/mpegts"
	"github.com/zsiec/reseq/parse"
	"github.com/zsiec/reseq/reorder"
)

// defaultReorderWindow is the SEI resequencing window used when the SPS does
// not carry bitstream restriction info. Sixteen frames is the H.264 DPB
// ceiling, so no conforming stream reorders further than that.
const defaultReorderWindow = 16

// AudioTrackInfo associates an MPEG-TS PID with its zero-based track index,
// used to distinguish multiple audio programs within a single transport stream.
type AudioTrackInfo struct {
	PID        uint16
	TrackIndex int
}

// Demuxer splits an MPEG-TS byte stream into H.264 video samples, AAC audio
// samples, and CEA-608 captions. Video samples are delivered in decode order.
// Captions are delivered in presentation order: SEI payloads arrive from the
// container in decode order, so they pass through a reordering queue keyed by
// presentation timestamp before being decoded.
type Demuxer struct {
	log         *slog.Logger
	reader      io.Reader
	videoCh     chan *media.VideoSample
	audioCh     chan *media.AudioSample
	captionCh   chan *media.Caption
	cea608Decs map[int]*ccx.CEA608Decoder
	videoPID   uint16
	audioPIDs  map[uint16]int
	pmtReady   chan struct{}
	pmtDone    bool
	sps        []byte
	pps        []byte
	videoCount int64

	// mu guards the track metadata read by other goroutines through the
	// SPSInfo and AudioTrackChannels accessors while Run is writing it.
	mu          sync.RWMutex
	audioTracks []AudioTrackInfo
	spsInfo     SPSInfo

	seiQueue   *reorder.Queue
	seiScratch *parse.Buffer
	runCtx     context.Context

	lastCCCtrl      [2][2]byte
	lastCCWasCtrl   [2]bool
	lastCCCtrlFrame [2]int64
}

// NewDemuxer creates a Demuxer that reads MPEG-TS packets from r. Call Run
// to begin demuxing and read from the Video, Audio, and Captions channels.
// If log is nil, slog.Default() is used.
func NewDemuxer(r io.Reader, log *slog.Logger) *Demuxer {
	if log == nil {
		log = slog.Default()
	}
	d := &Demuxer{
		log:        log.With("component", "demux"),
		reader:     r,
		videoCh:    make(chan *media.VideoSample, media.VideoBufferSize),
		audioCh:    make(chan *media.AudioSample, media.AudioBufferSize),
		captionCh:  make(chan *media.Caption, media.CaptionBufferSize),
		audioPIDs:  make(map[uint16]int),
		pmtReady:   make(chan struct{}),
		seiScratch: parse.NewBuffer(),
		cea608Decs: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
	d.seiQueue = reorder.New(d.decodeOrderedSEI)
	return d
}

// Video returns the channel on which parsed video samples are delivered.
func (d *Demuxer) Video() <-chan *media.VideoSample {
	return d.videoCh
}

// Audio returns the channel on which parsed audio samples are delivered.
func (d *Demuxer) Audio() <-chan *media.AudioSample {
	return d.audioCh
}

// Captions returns the channel on which decoded caption text is delivered,
// in presentation order.
func (d *Demuxer) Captions() <-chan *media.Caption {
	return d.captionCh
}

// AudioTrackChannels returns metadata for all discovered audio tracks.
func (d *Demuxer) AudioTrackChannels() []AudioTrackInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tracks := make([]AudioTrackInfo, len(d.audioTracks))
	copy(tracks, d.audioTracks)
	return tracks
}

// PMTReady returns a channel that is closed once the first PMT has been
// parsed and all PID-to-track mappings are established.
func (d *Demuxer) PMTReady() <-chan struct{} {
	return d.pmtReady
}

// SPSInfo returns the most recently parsed SPS parameters. Valid once video
// samples start flowing.
func (d *Demuxer) SPSInfo() SPSInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.spsInfo
}

// Run starts the demuxing loop, reading MPEG-TS packets from the underlying
// reader until EOF or context cancellation. At end of stream any SEI
// payloads still held for reordering are flushed through the caption
// decoder. Run closes all output channels on return.
func (d *Demuxer) Run(ctx context.Context) error {
	defer close(d.videoCh)
	defer close(d.audioCh)
	defer close(d.captionCh)

	d.runCtx = ctx
	dmx := mpegts.NewDemuxer(ctx, d.reader)

	for {
		data, err := dmx.NextData()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				d.seiQueue.Flush()
				return nil
			}
			d.log.Debug("skipping corrupt packet", "error", err)
			continue
		}

		if data.PMT != nil {
			d.handlePMT(data.PMT)
			continue
		}

		if data.PES == nil {
			continue
		}

		pid := data.FirstPacket.Header.PID

		if pid == d.videoPID && d.videoPID != 0 {
			d.handleVideo(ctx, data.PES)
		} else if trackIdx, ok := d.audioPIDs[pid]; ok {
			d.handleAudio(ctx, data.PES, trackIdx)
		}
	}
}

func (d *Demuxer) handlePMT(pmt *mpegts.PMTData) {
	audioIdx := len(d.audioTracks)
	for _, es := range pmt.ElementaryStreams {
		switch es.StreamType {
		case mpegts.StreamTypeH264:
			if d.videoPID == 0 {
				d.videoPID = es.ElementaryPID
				d.log.Info("found video PID", "pid", es.ElementaryPID, "codec", "H.264")
			}
		case mpegts.StreamTypeAAC:
			if _, exists := d.audioPIDs[es.ElementaryPID]; !exists {
				d.audioPIDs[es.ElementaryPID] = audioIdx
				d.mu.Lock()
				d.audioTracks = append(d.audioTracks, AudioTrackInfo{
					PID:        es.ElementaryPID,
					TrackIndex: audioIdx,
				})
				d.mu.Unlock()
				d.log.Info("found audio PID", "pid", es.ElementaryPID, "trackIndex", audioIdx)
				audioIdx++
			}
		}
	}
	if !d.pmtDone {
		d.pmtDone = true
		close(d.pmtReady)
	}
}

func (d *Demuxer) handleVideo(ctx context.Context, pes *mpegts.PESData) {
	if len(pes.Data) == 0 {
		return
	}

	pts := reorder.TimeUnset
	var dts int64
	if pes.Header != nil && pes.Header.OptionalHeader != nil {
		if pes.Header.OptionalHeader.PTS != nil {
			pts = pes.Header.OptionalHeader.PTS.Microseconds()
		}
		if pes.Header.OptionalHeader.DTS != nil {
			dts = pes.Header.OptionalHeader.DTS.Microseconds()
		} else if pts != reorder.TimeUnset {
			dts = pts
		}
	}

	nalus := ParseAnnexB(pes.Data)
	if len(nalus) == 0 {
		return
	}

	isKeyframe := false
	var naluBytes [][]byte

	for _, nalu := range nalus {
		// Skip AUD and filler data NALUs, unnecessary for consumers.
		if nalu.Type == NALTypeAUD || nalu.Type == NALTypeFillerData {
			continue
		}

		switch {
		case IsSPS(nalu.Type):
			d.sps = make([]byte, len(nalu.Data))
			copy(d.sps, nalu.Data)
			isKeyframe = true
			if info, err := ParseSPS(nalu.Data); err == nil {
				d.mu.Lock()
				d.spsInfo = info
				d.mu.Unlock()
				d.applyReorderWindow(info)
			}
		case IsPPS(nalu.Type):
			d.pps = make([]byte, len(nalu.Data))
			copy(d.pps, nalu.Data)
		case IsKeyframe(nalu.Type):
			isKeyframe = true
		case nalu.Type == NALTypeSEI:
			d.seiScratch.ResetBytes(nalu.Data)
			d.seiQueue.Add(pts, d.seiScratch)
		}

		annexB := make([]byte, 4+len(nalu.Data))
		annexB[3] = 1
		copy(annexB[4:], nalu.Data)
		naluBytes = append(naluBytes, annexB)
	}

	if len(naluBytes) == 0 {
		return
	}

	framePTS := pts
	if framePTS == reorder.TimeUnset {
		framePTS = 0
	}

	sample := &media.VideoSample{
		PTS:        framePTS,
		DTS:        dts,
		IsKeyframe: isKeyframe,
		NALUs:      naluBytes,
		Codec:      "h264",
	}

	d.videoCount++
	select {
	case d.videoCh <- sample:
	case <-ctx.Done():
	}
}

// applyReorderWindow sizes the SEI queue from the stream's own reordering
// bound when the SPS provides one, falling back to the DPB ceiling.
func (d *Demuxer) applyReorderWindow(info SPSInfo) {
	window := defaultReorderWindow
	if info.HasReorderInfo {
		window = info.MaxNumReorderFrames
	}
	if d.seiQueue.MaxSize() != window {
		d.log.Debug("SEI reorder window", "frames", window, "fromStream", info.HasReorderInfo)
		d.seiQueue.SetMaxSize(window)
	}
}

// decodeOrderedSEI is the reorder queue's output consumer. It receives SEI
// payloads in presentation order and feeds embedded CEA-608 byte pairs to
// the per-channel caption decoders.
func (d *Demuxer) decodeOrderedSEI(pts int64, buf *parse.Buffer) {
	seiData := buf.Data()[buf.Position():buf.Limit()]
	cd := ccx.ExtractCaptions(seiData)
	if cd == nil {
		return
	}

	for _, pair := range cd.CC608Pairs {
		cc1, cc2 := pair.Data[0], pair.Data[1]

		// CEA-608 control codes are transmitted twice for robustness.
		// Drop the immediate repeat of the last control pair on a field.
		isCtrl := cc1 >= 0x10 && cc1 <= 0x1F
		f := pair.Field
		if isCtrl {
			cp := [2]byte{cc1, cc2}
			frameGap := d.videoCount - d.lastCCCtrlFrame[f]
			if d.lastCCWasCtrl[f] && d.lastCCCtrl[f] == cp && frameGap <= 2 {
				d.lastCCWasCtrl[f] = false
				continue
			}
			d.lastCCCtrl[f] = cp
			d.lastCCWasCtrl[f] = true
			d.lastCCCtrlFrame[f] = d.videoCount
		} else {
			d.lastCCWasCtrl[f] = false
		}

		dec := d.cea608Decs[pair.Channel]
		if dec == nil {
			continue
		}
		text := dec.Decode(cc1, cc2)
		if text == "" {
			continue
		}

		caption := &media.Caption{PTS: pts, Text: text, Channel: pair.Channel}
		select {
		case d.captionCh <- caption:
		case <-d.runCtx.Done():
			return
		}
	}
}

func (d *Demuxer) handleAudio(ctx context.Context, pes *mpegts.PESData, trackIndex int) {
	if len(pes.Data) == 0 {
		return
	}

	var pts int64
	if pes.Header != nil && pes.Header.OptionalHeader != nil {
		if pes.Header.OptionalHeader.PTS != nil {
			pts = pes.Header.OptionalHeader.PTS.Microseconds()
		}
	}

	aacFrames, err := ParseADTS(pes.Data)
	if err != nil {
		d.log.Warn("failed to parse ADTS", "error", err)
		return
	}

	for i, aac := range aacFrames {
		samplePTS := pts
		if aac.SampleRate > 0 {
			samplePTS += int64(i) * 1024 * 1_000_000 / int64(aac.SampleRate)
		}

		sample := &media.AudioSample{
			PTS:        samplePTS,
			Data:       aac.Data,
			SampleRate: aac.SampleRate,
			Channels:   aac.Channels,
			TrackIndex: trackIndex,
		}

		select {
		case d.audioCh <- sample:
		case <-ctx.Done():
			return
		}
	}
}
