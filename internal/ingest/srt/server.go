package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/reseq/internal/ingest"
)

// readBufferSize is the per-read buffer for SRT sockets: ten SRT payloads
// of 1316 bytes (7 MPEG-TS packets each).
const readBufferSize = 1316 * 10

// latencyNs is the SRT receive latency in nanoseconds (120ms).
const latencyNs = 120_000_000

// Server listens for SRT publishers and registers each accepted connection
// with the ingest registry, pumping received MPEG-TS bytes into the
// stream's pipe until the publisher disconnects.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT listener on addr backed by the given registry.
// If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// Start accepts SRT publish connections until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt: listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	// Connections without a stream ID have no key to publish under.
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		key := extractStreamKey(conn.StreamID())
		s.log.Info("publish", "stream_key", key, "remote", conn.RemoteAddr())
		go s.pump(ctx, conn, key)
	}
}

// pump copies transport bytes from the SRT connection into the registered
// stream's pipe, recording read stats, until either side goes away.
func (s *Server) pump(ctx context.Context, conn *srtgo.Conn, key string) {
	defer conn.Close()

	stream, w := s.registry.Register(key)
	stream.SetRemoteAddr(conn.RemoteAddr().String())
	defer s.registry.Unregister(key)

	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "stream_key", key, "error", err)
			}
			break
		}
		stream.RecordRead(n)
		if _, err := w.Write(buf[:n]); err != nil {
			s.log.Debug("pipe write error", "stream_key", key, "error", err)
			break
		}
	}

	stats := stream.Stats()
	s.log.Info("connection closed", "stream_key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// extractStreamKey derives the publish key from an SRT stream ID, dropping
// a leading slash and the conventional "live/" prefix.
func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
