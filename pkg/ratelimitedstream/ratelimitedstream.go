/*
Package ratelimitedstream wraps a duplex byte stream so that writes
flow out no faster than a tokenbucket.Bucket allows. A
bare reverse proxy hands connections straight to httputil.ReverseProxy
and net/http, with no byte-pacing layer of its own; this package sits
between a net.Conn (or any io.ReadWriteCloser) and its caller the same
way httputil.ReverseProxy's transport sits between a backend and the
client, but paces Write calls against a shared Bucket instead of just
relaying bytes.
*/
package ratelimitedstream

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/danfuzz/lactoserv-sub005/pkg/tokenbucket"
)

// Conn is the subset of net.Conn this package passes through
// unmodified when wrapping a real socket.
type Conn interface {
	io.ReadWriteCloser
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Stream wraps an io.ReadWriteCloser, pacing Write calls against a
// shared token bucket. Reads pass straight through: only the outbound
// direction is throttled, and bytes flow out no faster than the bucket
// allows.
//
// Errors are coupled in both directions: a denied grant or a write
// error from the wrapped stream destroys the Stream (closing the
// wrapped side), and destroying the Stream closes the wrapped side.
// Read errors from the wrapped stream are returned as they are and do
// not destroy the Stream. The first error is latched; every later Read
// and Write fails with it.
type Stream struct {
	inner   io.ReadWriteCloser
	conn    Conn // nil unless inner is a real net.Conn
	bucket  *tokenbucket.Bucket
	ctx     context.Context
	written int64

	mu     sync.Mutex
	broken error
	closed bool
}

var _ net.Conn = (*Stream)(nil)

// Wrap returns a Stream that paces writes to inner against bucket. ctx
// bounds how long a Write will wait for a grant; a canceled ctx makes
// pending writes fail rather than block forever.
func Wrap(ctx context.Context, inner io.ReadWriteCloser, bucket *tokenbucket.Bucket) *Stream {
	conn, _ := inner.(Conn)
	return &Stream{inner: inner, conn: conn, bucket: bucket, ctx: ctx}
}

// failure reports the latched error, net.ErrClosed after a plain
// Close, or nil while the stream is still usable.
func (s *Stream) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken != nil {
		return s.broken
	}
	if s.closed {
		return net.ErrClosed
	}
	return nil
}

// Destroy marks the stream broken with err (the first error is
// retained), closes the wrapped stream, and fails every later Read and
// Write with the retained error. A nil err is a plain close.
func (s *Stream) Destroy(err error) error {
	s.mu.Lock()
	if s.broken == nil && err != nil {
		s.broken = err
	}
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	if alreadyClosed {
		return nil
	}
	return s.inner.Close()
}

// Read passes through to the wrapped stream, unless the stream has
// been destroyed.
func (s *Stream) Read(p []byte) (int, error) {
	if err := s.failure(); err != nil {
		return 0, err
	}
	return s.inner.Read(p)
}

// Write paces the outbound byte flow: it requests a grant of up to
// len(p) tokens (1 token = 1 byte), waits for it, writes exactly that
// many bytes, and repeats until p is exhausted or an error occurs. A
// denied grant or an error from the wrapped stream destroys the
// Stream; that first error is returned here and by every later Write.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.failure(); err != nil {
		return 0, err
	}

	if s.bucket == nil {
		n, err := s.inner.Write(p)
		s.written += int64(n)
		if err != nil {
			_ = s.Destroy(err)
		}
		return n, err
	}

	var total int
	for total < len(p) {
		if err := s.failure(); err != nil {
			return total, err
		}

		remaining := p[total:]
		chunkMax := float64(len(remaining))

		ch := s.bucket.RequestGrant(tokenbucket.Range{MinInclusive: 1, MaxInclusive: chunkMax})
		var result tokenbucket.GrantResult
		select {
		case result = <-ch:
		case <-s.ctx.Done():
			err := s.ctx.Err()
			_ = s.Destroy(err)
			return total, err
		}

		if !result.Done {
			err := &DeniedError{Reason: result.Reason}
			_ = s.Destroy(err)
			return total, err
		}

		n := int(result.Grant)
		if n <= 0 {
			continue
		}
		if n > len(remaining) {
			n = len(remaining)
		}

		written, err := s.inner.Write(remaining[:n])
		total += written
		s.written += int64(written)
		if err != nil {
			_ = s.Destroy(err)
			return total, err
		}
	}
	return total, nil
}

// Close closes both sides: the wrapped stream is closed and later
// Reads and Writes fail with net.ErrClosed.
func (s *Stream) Close() error {
	return s.Destroy(nil)
}

// BytesWritten reports the cumulative byte count actually written,
// passthrough equivalent to a socket's bytesWritten accessor.
func (s *Stream) BytesWritten() int64 {
	return s.written
}

// RemoteAddr passes through when wrapping a real net.Conn, else nil.
func (s *Stream) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

// LocalAddr passes through when wrapping a real net.Conn, else nil.
func (s *Stream) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// SetDeadline passes through when wrapping a real net.Conn, else it is
// a no-op.
func (s *Stream) SetDeadline(t time.Time) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.SetDeadline(t)
}

// SetReadDeadline passes through when wrapping a real net.Conn, else
// it is a no-op.
func (s *Stream) SetReadDeadline(t time.Time) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline passes through when wrapping a real net.Conn, else
// it is a no-op.
func (s *Stream) SetWriteDeadline(t time.Time) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.SetWriteDeadline(t)
}

// DeniedError is returned from Write when the bucket denies a grant
// (e.g. too-many-waiters, or shutdown via DenyAllRequests).
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "rate limit denied: " + e.Reason
}
