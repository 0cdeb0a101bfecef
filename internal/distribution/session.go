package distribution

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// sendQueueSize bounds the per-viewer record queue. A viewer that cannot
// keep up has records dropped rather than stalling the broadcast path.
const sendQueueSize = 256

// session delivers records to one viewer over a single writer. Send is
// non-blocking; the write loop drains the queue on its own goroutine.
type session struct {
	id          string
	remoteAddr  string
	queue       chan *Record
	sent        atomic.Int64
	dropped     atomic.Int64
	connectedAt time.Time
	log         *slog.Logger
}

func newSession(id, remoteAddr string, log *slog.Logger) *session {
	return &session{
		id:          id,
		remoteAddr:  remoteAddr,
		queue:       make(chan *Record, sendQueueSize),
		connectedAt: time.Now(),
		log:         log.With("session", id),
	}
}

// ID returns the session identifier.
func (s *session) ID() string {
	return s.id
}

// Send enqueues a record for delivery. Records are dropped when the queue
// is full; the relay must never block on a slow viewer.
func (s *session) Send(rec *Record) {
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Stats returns the session's delivery metrics.
func (s *session) Stats() ViewerStats {
	return ViewerStats{
		ID:          s.id,
		RemoteAddr:  s.remoteAddr,
		Sent:        s.sent.Load(),
		Dropped:     s.dropped.Load(),
		ConnectedAt: s.connectedAt.UnixMilli(),
	}
}

// run writes queued records to w until the context is cancelled or the
// write fails (viewer went away).
func (s *session) run(ctx context.Context, w io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-s.queue:
			if err := WriteRecord(w, rec); err != nil {
				return err
			}
			s.sent.Add(1)
		}
	}
}
