package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/reseq/internal/certs"
	"github.com/zsiec/reseq/internal/distribution"
	"github.com/zsiec/reseq/internal/ingest"
	srtingest "github.com/zsiec/reseq/internal/ingest/srt"
	"github.com/zsiec/reseq/internal/pipeline"
	"github.com/zsiec/reseq/internal/stream"
)

var version = "dev"

// statsInterval is how often the periodic stats loop logs per-stream
// forwarding, ingest, and viewer telemetry.
const statsInterval = 30 * time.Second

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("generating self-signed certificate")
	cert, err := certs.Generate(0)
	if err != nil {
		slog.Error("failed to generate cert", "error", err)
		os.Exit(1)
	}
	slog.Info("certificate generated",
		"fingerprint", cert.FingerprintBase64(),
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	srtAddr := envOr("SRT_ADDR", ":6000")
	quicAddr := envOr("QUIC_ADDR", ":4443")
	inputFile := os.Getenv("INPUT_FILE")

	slog.Info("reseq starting",
		"version", version,
		"srt", srtAddr,
		"quic", quicAddr,
		"cert_hash", cert.FingerprintBase64(),
	)

	a := &app{
		mgr: stream.NewManager(nil),
	}

	a.distSrv, err = distribution.NewServer(quicAddr, cert)
	if err != nil {
		slog.Error("failed to create distribution server", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Create the registry after the errgroup so the callback captures the
	// errgroup-derived context, ensuring streams shut down when any
	// component fails.
	a.registry = ingest.NewRegistry(func(key string, input io.Reader) {
		a.handleNewStream(ctx, key, input)
	})

	srtSrv := srtingest.NewServer(srtAddr, a.registry, nil)

	g.Go(func() error {
		return srtSrv.Start(ctx)
	})

	g.Go(func() error {
		return a.distSrv.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.logStats()
			}
		}
	})

	if inputFile != "" {
		g.Go(func() error {
			return a.runFileInput(ctx, inputFile)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	mgr      *stream.Manager
	registry *ingest.Registry
	distSrv  *distribution.Server
}

func (a *app) handleNewStream(ctx context.Context, key string, input io.Reader) {
	slog.Info("new stream from ingest", "key", key)

	relay := a.distSrv.RegisterStream(key)
	p := pipeline.New(key, input, relay)
	p.SetProtocol("SRT")

	// RegisterStream is idempotent, so on a duplicate key the existing
	// stream keeps its relay and only the new connection is rejected.
	if _, created := a.mgr.Create(key, p); !created {
		slog.Warn("rejecting duplicate stream connection", "key", key)
		return
	}
	defer a.teardownStream(key)

	if err := p.Run(ctx); err != nil {
		slog.Error("pipeline error", "stream", key, "error", err)
	}
	slog.Info("stream ended", "key", key)
}

// runFileInput feeds an MPEG-TS file through the pipeline under the stream
// key "file". Useful for local testing without an SRT encoder.
func (a *app) runFileInput(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	relay := a.distSrv.RegisterStream("file")
	p := pipeline.New("file", f, relay)
	p.SetProtocol("FILE")

	if _, created := a.mgr.Create("file", p); !created {
		return nil
	}
	defer a.teardownStream("file")

	return p.Run(ctx)
}

// logStats emits one line per active stream with forwarding counters,
// stream parameters, ingest byte counts, and viewer delivery metrics.
func (a *app) logStats() {
	snaps := a.mgr.Snapshots()
	if len(snaps) == 0 {
		return
	}
	slog.Info("stats", "streams", len(snaps), "srt_connections", len(a.registry.Keys()))

	for key, snap := range snaps {
		attrs := []any{
			"stream", key,
			"protocol", snap.Protocol,
			"uptime_ms", snap.UptimeMs,
			"video", snap.VideoForwarded,
			"audio", snap.AudioForwarded,
			"captions", snap.CaptionsFwd,
			"audio_tracks", snap.AudioTracks,
			"viewers", snap.ViewerCount,
		}
		if snap.VideoCodec != "" {
			attrs = append(attrs,
				"codec", snap.VideoCodec,
				"resolution", fmt.Sprintf("%dx%d", snap.Width, snap.Height))
		}
		if st, ok := a.registry.Get(key); ok {
			is := st.Stats()
			attrs = append(attrs, "ingest_bytes", is.BytesReceived, "ingest_reads", is.ReadCount)
		}
		if relay := a.distSrv.GetRelay(key); relay != nil {
			var sent, dropped int64
			for _, vs := range relay.ViewerStatsAll() {
				sent += vs.Sent
				dropped += vs.Dropped
			}
			attrs = append(attrs, "viewer_sent", sent, "viewer_dropped", dropped)
		}
		slog.Info("stream stats", attrs...)
	}
}

// teardownStream removes all resources for a stream across the distribution
// server and stream manager in a single call.
func (a *app) teardownStream(key string) {
	a.distSrv.UnregisterStream(key)
	a.mgr.Remove(key)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
