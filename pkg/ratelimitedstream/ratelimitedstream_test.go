package ratelimitedstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/danfuzz/lactoserv-sub005/pkg/tokenbucket"
	"github.com/stretchr/testify/require"
)

type readWriteCloseBuffer struct {
	buf bytes.Buffer
}

func (b *readWriteCloseBuffer) Read(p []byte) (int, error)  { return b.buf.Read(p) }
func (b *readWriteCloseBuffer) Write(p []byte) (int, error) { return b.buf.Write(p) }
func (b *readWriteCloseBuffer) Close() error                { return nil }

func TestWritePassesThroughWithoutBucket(t *testing.T) {
	inner := &readWriteCloseBuffer{}
	s := Wrap(context.Background(), inner, nil)

	n, err := s.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", inner.buf.String())
}

func TestWritePacesAgainstBucket(t *testing.T) {
	inner := &readWriteCloseBuffer{}
	bucket := tokenbucket.New(tokenbucket.Config{
		BurstSize:        3,
		InitialAvailable: 3,
		FlowRate:         1000,
		PartialTokens:    false,
		MaxWaiters:       -1,
	})
	s := Wrap(context.Background(), inner, bucket)

	n, err := s.Write([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", inner.buf.String())
	require.EqualValues(t, 11, s.BytesWritten())
}

func TestWriteFailsWhenContextCanceled(t *testing.T) {
	inner := &readWriteCloseBuffer{}
	bucket := tokenbucket.New(tokenbucket.Config{
		BurstSize:        0,
		InitialAvailable: 0,
		FlowRate:         0,
		PartialTokens:    true,
		MaxWaiters:       -1,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s := Wrap(ctx, inner, bucket)
	_, err := s.Write([]byte("x"))
	require.Error(t, err)
}

func TestWriteReturnsDeniedErrorOnTooManyWaiters(t *testing.T) {
	inner := &readWriteCloseBuffer{}
	bucket := tokenbucket.New(tokenbucket.Config{
		BurstSize:        0,
		InitialAvailable: 0,
		FlowRate:         0,
		PartialTokens:    true,
		MaxWaiters:       0,
	})
	s := Wrap(context.Background(), inner, bucket)

	_, err := s.Write([]byte("x"))
	require.Error(t, err)
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	require.Equal(t, tokenbucket.ReasonTooManyWaiters, denied.Reason)
}

type failingWriter struct {
	readWriteCloseBuffer
	writeErr error
	closed   bool
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.readWriteCloseBuffer.Write(p)
}

func (f *failingWriter) Close() error {
	f.closed = true
	return nil
}

func TestDestroyLatchesErrorAndClosesInner(t *testing.T) {
	inner := &failingWriter{}
	s := Wrap(context.Background(), inner, nil)

	boom := errors.New("boom")
	require.NoError(t, s.Destroy(boom))
	require.True(t, inner.closed)

	_, err := s.Write([]byte("x"))
	require.ErrorIs(t, err, boom)
	_, err = s.Read(make([]byte, 1))
	require.ErrorIs(t, err, boom)
	require.Equal(t, "", inner.buf.String())
}

func TestDeniedGrantDestroysStream(t *testing.T) {
	inner := &failingWriter{}
	bucket := tokenbucket.New(tokenbucket.Config{
		BurstSize:        0,
		InitialAvailable: 0,
		FlowRate:         0,
		PartialTokens:    true,
		MaxWaiters:       0,
	})
	s := Wrap(context.Background(), inner, bucket)

	_, err := s.Write([]byte("x"))
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	require.True(t, inner.closed)

	// The first error is retained for every later write.
	_, err = s.Write([]byte("y"))
	require.ErrorAs(t, err, &denied)
}

func TestInnerWriteErrorDestroysStream(t *testing.T) {
	boom := errors.New("boom")
	inner := &failingWriter{writeErr: boom}
	s := Wrap(context.Background(), inner, nil)

	_, err := s.Write([]byte("x"))
	require.ErrorIs(t, err, boom)
	require.True(t, inner.closed)

	_, err = s.Write([]byte("y"))
	require.ErrorIs(t, err, boom)
}

func TestCloseEndsBothSides(t *testing.T) {
	inner := &failingWriter{}
	s := Wrap(context.Background(), inner, nil)

	require.NoError(t, s.Close())
	require.True(t, inner.closed)

	_, err := s.Write([]byte("x"))
	require.ErrorIs(t, err, net.ErrClosed)
}

func TestReadPassesThrough(t *testing.T) {
	inner := &readWriteCloseBuffer{}
	inner.buf.WriteString("payload")
	s := Wrap(context.Background(), inner, nil)

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))
}
