package distribution

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/zsiec/reseq/internal/certs"
)

// ALPN protocol identifier for viewer connections.
const alpnProtocol = "reseq/1"

// QUIC application error codes sent to clients via CloseWithError.
const (
	errCodeStreamNotFound quic.ApplicationErrorCode = 1
	errCodeBadHandshake   quic.ApplicationErrorCode = 2
)

// Handshake status bytes sent to the viewer after the stream key.
const (
	statusOK             byte = 0
	statusStreamNotFound byte = 1
)

// maxStreamKeyLen bounds the handshake's stream key.
const maxStreamKeyLen = 128

// handshakeTimeout bounds how long a viewer may take to send its stream
// key after opening the stream.
const handshakeTimeout = 5 * time.Second

// Server accepts QUIC viewer connections and attaches each to the relay of
// the stream it requests. The viewer opens one bidirectional stream, sends
// the stream key, and then receives framed records until it disconnects.
type Server struct {
	log  *slog.Logger
	addr string
	cert *certs.CertInfo

	mu      sync.RWMutex
	streams map[string]*Relay
}

// NewServer creates a distribution Server listening on addr with the given
// certificate.
func NewServer(addr string, cert *certs.CertInfo) (*Server, error) {
	if addr == "" {
		return nil, errors.New("distribution: addr is required")
	}
	if cert == nil {
		return nil, errors.New("distribution: cert is required")
	}
	return &Server{
		log:     slog.With("component", "distribution"),
		addr:    addr,
		cert:    cert,
		streams: make(map[string]*Relay),
	}, nil
}

// RegisterStream creates a Relay for the given stream key and returns it.
// If the stream already has a relay, the existing one is returned.
func (s *Server) RegisterStream(streamKey string) *Relay {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.streams[streamKey]; ok {
		return r
	}
	r := NewRelay()
	s.streams[streamKey] = r
	return r
}

// UnregisterStream removes the relay for a stream key.
func (s *Server) UnregisterStream(streamKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamKey)
}

// GetRelay returns the Relay for a stream key, or nil if not found.
func (s *Server) GetRelay(streamKey string) *Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[streamKey]
}

// Run listens for viewer connections and blocks until the context is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{s.cert.TLSCert},
		NextProtos:   []string{alpnProtocol},
	}

	ln, err := quic.ListenAddr(s.addr, tlsConf, &quic.Config{
		MaxIdleTimeout: 30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("distribution: listen %s: %w", s.addr, err)
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	s.log.Info("QUIC distribution listening", "addr", s.addr)

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn quic.Connection) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		s.log.Debug("viewer connection without stream", "remote", conn.RemoteAddr(), "error", err)
		return
	}

	streamKey, err := awaitHandshake(stream)
	if err != nil {
		s.log.Warn("bad viewer handshake", "remote", conn.RemoteAddr(), "error", err)
		conn.CloseWithError(errCodeBadHandshake, "bad handshake")
		return
	}

	relay := s.GetRelay(streamKey)
	if relay == nil {
		s.log.Warn("viewer requested unknown stream", "stream", streamKey, "remote", conn.RemoteAddr())
		stream.Write([]byte{statusStreamNotFound})
		conn.CloseWithError(errCodeStreamNotFound, "stream not found")
		return
	}

	if _, err := stream.Write([]byte{statusOK}); err != nil {
		return
	}

	sess := newSession(
		fmt.Sprintf("quic-%s-%s", streamKey, conn.RemoteAddr()),
		conn.RemoteAddr().String(),
		s.log,
	)

	relay.AddViewer(sess)
	defer relay.RemoveViewer(sess.ID())

	if err := sess.run(ctx, stream); err != nil && ctx.Err() == nil {
		s.log.Debug("viewer session ended", "session", sess.ID(), "error", err)
	}
}

// handshakeStream is the part of quic.Stream that awaitHandshake needs.
type handshakeStream interface {
	io.Reader
	SetReadDeadline(t time.Time) error
}

// awaitHandshake reads the viewer handshake under a read deadline so a
// silent viewer cannot pin the connection goroutine until the idle timeout.
func awaitHandshake(stream handshakeStream) (string, error) {
	stream.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer stream.SetReadDeadline(time.Time{})
	return readHandshake(stream)
}

// readHandshake reads the viewer's stream key: one length byte followed by
// that many bytes of key.
func readHandshake(r io.Reader) (string, error) {
	var lenByte [1]byte
	if _, err := io.ReadFull(r, lenByte[:]); err != nil {
		return "", err
	}
	n := int(lenByte[0])
	if n == 0 || n > maxStreamKeyLen {
		return "", fmt.Errorf("stream key length %d out of range", n)
	}
	key := make([]byte, n)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", err
	}
	return string(key), nil
}
