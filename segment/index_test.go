// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dacapoday/readindex"
	"github.com/dacapoday/readindex/buffer"
	"github.com/dacapoday/readindex/mem"
	"github.com/dacapoday/readindex/metadata"
	"github.com/stretchr/testify/require"
)

var testConfig = readindex.Config{
	ReadAheadLength:      32,
	MaxStorageReadLength: 64,
	CacheCapacity:        1 << 20,
	CompactThreshold:     4,
}

type fixture struct {
	meta    metadata.Collection
	storage mem.Storage
	config  readindex.Config
}

func newFixture() *fixture {
	return &fixture{config: testConfig}
}

func (f *fixture) segment(t *testing.T, id int64, recovery bool) (*metadata.Segment, *Index) {
	t.Helper()
	name := "segment-" + string(rune('a'+id))
	m, err := f.meta.Add(id, name)
	require.NoError(t, err)
	require.NoError(t, f.storage.Create(name))
	ix := New(m, recovery, Options{Config: f.config, Storage: &f.storage})
	t.Cleanup(func() { ix.Close() })
	return m, ix
}

// flush writes data to storage right after the current storage length.
func (f *fixture) flush(t *testing.T, m *metadata.Segment, data []byte) {
	t.Helper()
	require.NoError(t, f.write(m, data))
}

func (f *fixture) write(m *metadata.Segment, data []byte) error {
	off := m.StorageLength()
	if err := f.storage.Write(m.Name(), off, data); err != nil {
		return err
	}
	m.SetStorageLength(off + int64(len(data)))
	if m.Length() < m.StorageLength() {
		m.SetLength(m.StorageLength())
	}
	return nil
}

func appendTail(t *testing.T, ix *Index, m *metadata.Segment, data string) {
	t.Helper()
	off := m.Length()
	m.SetLength(off + int64(len(data)))
	require.NoError(t, ix.Append(off, buffer.Array(data)))
}

func readAll(t *testing.T, ix *Index, offset int64, n int) []byte {
	t.Helper()
	data, err := tryReadAll(ix, offset, n)
	require.NoError(t, err)
	return data
}

func tryReadAll(ix *Index, offset int64, n int) ([]byte, error) {
	r, err := ix.Read(offset, n, time.Second)
	if err != nil {
		return nil, err
	}
	v, err := r.ReadAll(context.Background())
	if err != nil {
		return nil, err
	}
	defer v.Release()
	return v.Copy(), nil
}

func sequence(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i)
	}
	return p
}

func TestAppendAndRead(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)

	appendTail(t, ix, m, "hello")
	appendTail(t, ix, m, " world")

	require.Equal(t, []byte("hello world"), readAll(t, ix, 0, 11))
	require.Equal(t, []byte("lo wo"), readAll(t, ix, 3, 5))

	r, err := ix.Read(3, 100, 0)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Cache, r.Entry().Type())
	require.EqualValues(t, 3, r.Entry().Offset())
	require.Equal(t, 2, r.Entry().RequestedLength())
	v, err := r.Entry().Content(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("lo"), v.Copy())
	require.Equal(t, 2, r.Consumed())

	require.Equal(t, 2, ix.Stats().Entries)
	require.EqualValues(t, 11, ix.Stats().NextOffset)
}

func TestAppendValidation(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	m.SetLength(10)

	require.ErrorIs(t, ix.Append(-1, buffer.Array("x")), ErrBadOffset)
	require.ErrorIs(t, ix.Append(8, buffer.Array("xyz")), ErrBadOffset)
	require.NoError(t, ix.Append(0, buffer.Array("abc")))
	require.ErrorIs(t, ix.Append(4, buffer.Array("d")), ErrBadOffset)
	require.ErrorIs(t, ix.Append(2, buffer.Array("d")), readindex.ErrInvalidArgument)
	require.NoError(t, ix.Append(3, buffer.Array(nil)))
	require.NoError(t, ix.Append(3, buffer.Array("d")))

	ix.MarkMerged()
	require.ErrorIs(t, ix.Append(4, buffer.Array("e")), ErrSegmentMerged)

	_, ix2 := f.segment(t, 2, false)
	require.NoError(t, ix2.Close())
	require.ErrorIs(t, ix2.Append(0, buffer.Array("")), ErrClosed)
	require.ErrorIs(t, ix2.Close(), ErrClosed)
}

func TestAppendRetainsData(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)

	freed := 0
	data := buffer.NewRef([]byte("payload"), func([]byte) { freed++ })
	m.SetLength(7)
	require.NoError(t, ix.Append(0, data))
	require.Equal(t, 2, data.RefCount())
	data.Release()
	require.Zero(t, freed)

	r, err := ix.Read(0, 7, 0)
	require.NoError(t, err)
	require.True(t, r.Next())
	v, err := r.Entry().Content(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, data.RefCount())
	require.NoError(t, ix.Close())
	require.Zero(t, freed)
	require.Equal(t, "payload", string(v.Copy()))
	v.Release()
	require.Equal(t, 1, freed)
}

func TestReadFromStorage(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	data := sequence(100)
	f.flush(t, m, data)

	r, err := ix.Read(10, 5, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Storage, r.Entry().Type())
	v, err := r.Entry().Content(context.Background())
	require.NoError(t, err)
	require.Equal(t, data[10:15], v.Copy())
	require.False(t, r.Next())
	require.NoError(t, r.Err())

	stats := ix.Stats()
	require.Equal(t, 1, stats.Entries)
	require.EqualValues(t, 32, stats.CachedBytes)
	require.EqualValues(t, 1, f.storage.Reads())

	// served by the read-ahead
	r, err = ix.Read(20, 5, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Cache, r.Entry().Type())
	r.Close()
	require.EqualValues(t, 1, f.storage.Reads())

	require.Equal(t, data[5:95], readAll(t, ix, 5, 90))
}

func TestStorageReadStopsAtTail(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	f.flush(t, m, []byte("0123456789"))
	appendTail(t, ix, m, "abcdef")

	require.Equal(t, []byte("89abc"), readAll(t, ix, 8, 5))
	require.EqualValues(t, 2+6, ix.Stats().CachedBytes)
}

func TestConcurrentStorageReadsShareFetch(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	data := sequence(64)
	f.flush(t, m, data)

	release := make(chan struct{})
	f.storage.OnRead = func(ctx context.Context, _ string, _ int64, _ int) error {
		<-release
		return nil
	}

	var wg sync.WaitGroup
	results := make([][]byte, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = tryReadAll(ix, 0, 16)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, got := range results {
		require.NoError(t, errs[i])
		require.Equal(t, data[:16], got)
	}
	require.EqualValues(t, 1, f.storage.Reads())
}

func TestStorageReadFailure(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	f.flush(t, m, sequence(10))
	m.SetStorageLength(20)
	m.SetLength(20)

	r, err := ix.Read(0, 20, time.Second)
	require.NoError(t, err)
	_, err = r.ReadAll(context.Background())
	require.ErrorIs(t, err, ErrMetadataMismatch)
	require.ErrorIs(t, r.Err(), ErrMetadataMismatch)
}

func TestFutureRead(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)

	r, err := ix.Read(0, 5, 0)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Future, r.Entry().Type())
	require.Equal(t, 1, ix.Stats().FutureReads)

	done := make(chan []byte)
	go func() {
		v, err := r.Entry().Content(context.Background())
		if err != nil {
			done <- nil
			return
		}
		done <- v.Copy()
	}()

	appendTail(t, ix, m, "hel")
	require.Equal(t, []byte("hel"), <-done)
	require.Zero(t, ix.Stats().FutureReads)

	// the rest of the range waits again
	require.True(t, r.Next())
	require.Equal(t, Future, r.Entry().Type())
	go func() {
		v, err := r.Entry().Content(context.Background())
		if err != nil {
			done <- nil
			return
		}
		done <- v.Copy()
	}()
	appendTail(t, ix, m, "lo!")
	require.Equal(t, []byte("lo"), <-done)
	require.False(t, r.Next())
	require.Equal(t, 5, r.Consumed())
}

func TestFutureReadFromStorage(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)

	r, err := ix.Read(0, 4, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Future, r.Entry().Type())

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.write(m, []byte("data"))
		ix.TriggerFutureReads()
	}()
	v, err := r.Entry().Content(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("data"), v.Copy())
}

func TestFutureReadTimeout(t *testing.T) {
	f := newFixture()
	_, ix := f.segment(t, 1, false)

	r, err := ix.Read(0, 5, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, r.Next())
	_, err = r.Entry().Content(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, r.Err(), ErrTimeout)
	require.False(t, r.Next())
	require.Zero(t, ix.Stats().FutureReads)
}

func TestFutureReadCancel(t *testing.T) {
	f := newFixture()
	_, ix := f.segment(t, 1, false)

	r, err := ix.Read(0, 5, time.Minute)
	require.NoError(t, err)
	require.True(t, r.Next())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Entry().Content(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestFutureReadEndOfSegment(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	appendTail(t, ix, m, "abc")

	r, err := ix.Read(3, 5, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Future, r.Entry().Type())

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Seal()
		ix.TriggerFutureReads()
	}()
	_, err = r.Entry().Content(context.Background())
	require.ErrorIs(t, err, io.EOF)
	require.True(t, r.EndOfSegment())
	require.False(t, r.Next())
	require.NoError(t, r.Err())
}

func TestReadSealedSegment(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	appendTail(t, ix, m, "abc")
	m.Seal()

	r, err := ix.Read(1, 10, 0)
	require.NoError(t, err)
	v, err := r.ReadAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("bc"), v.Copy())
	require.True(t, r.EndOfSegment())

	r, err = ix.Read(3, 10, 0)
	require.NoError(t, err)
	require.False(t, r.Next())
	require.True(t, r.EndOfSegment())
}

func TestReadValidation(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	appendTail(t, ix, m, "abc")

	_, err := ix.Read(-1, 1, 0)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = ix.Read(0, -1, 0)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = ix.Read(4, 1, 0)
	require.ErrorIs(t, err, ErrOutOfRange)

	r, err := ix.Read(0, 0, 0)
	require.NoError(t, err)
	require.False(t, r.Next())
	require.NoError(t, r.Err())

	ix.MarkMerged()
	_, err = ix.Read(0, 1, 0)
	require.ErrorIs(t, err, ErrSegmentMerged)
}

func TestReadCursorMisuse(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	appendTail(t, ix, m, "ab")
	appendTail(t, ix, m, "cd")

	r, err := ix.Read(0, 4, 0)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.False(t, r.Next())
	require.ErrorIs(t, r.Err(), ErrReadPending)

	r, err = ix.Read(0, 4, 0)
	require.NoError(t, err)
	require.True(t, r.Next())
	e := r.Entry()
	_, err = e.Content(context.Background())
	require.NoError(t, err)
	_, err = e.Content(context.Background())
	require.ErrorIs(t, err, ErrEntryConsumed)

	r.Close()
	require.False(t, r.Next())
}

func TestAbandonedFutureReads(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, false)
	appendTail(t, ix, m, "ab")

	for range 1000 {
		r, err := ix.Read(2, 10, 0)
		require.NoError(t, err)
		require.True(t, r.Next())
		require.Equal(t, Future, r.Entry().Type())
		r.Close()
	}
	require.Zero(t, ix.Stats().FutureReads)

	// a cursor stopped on an unretrieved entry drops it as well
	r, err := ix.Read(2, 10, 0)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, 1, ix.Stats().FutureReads)
	require.False(t, r.Next())
	require.ErrorIs(t, r.Err(), ErrReadPending)
	require.Zero(t, ix.Stats().FutureReads)
	_, err = r.Entry().Content(context.Background())
	require.ErrorIs(t, err, ErrEntryConsumed)

	appendTail(t, ix, m, "cd")
	require.Equal(t, []byte("cd"), readAll(t, ix, 2, 2))
}

func TestCloseFailsPendingReads(t *testing.T) {
	f := newFixture()
	_, ix := f.segment(t, 1, false)

	r, err := ix.Read(0, 5, 0)
	require.NoError(t, err)
	require.True(t, r.Next())

	errs := make(chan error)
	go func() {
		_, err := r.Entry().Content(context.Background())
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ix.Close())
	require.ErrorIs(t, <-errs, ErrClosed)

	_, err = ix.Read(0, 1, 0)
	require.ErrorIs(t, err, ErrClosed)
}

func TestEviction(t *testing.T) {
	f := newFixture()
	f.config.CacheCapacity = 64
	m, ix := f.segment(t, 1, false)
	data := sequence(256)
	f.flush(t, m, data)
	appendTail(t, ix, m, "tail data is never evicted")

	for _, off := range []int64{0, 64, 128, 192} {
		require.Equal(t, data[off:off+4], readAll(t, ix, off, 4))
	}
	stats := ix.Stats()
	require.EqualValues(t, 32+26, stats.CachedBytes)
	require.Equal(t, 2, stats.Entries)

	// least recently used went first
	r, err := ix.Read(0, 4, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Storage, r.Entry().Type())
	r.Close()
	r, err = ix.Read(192, 4, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Cache, r.Entry().Type())
	r.Close()

	require.Equal(t, []byte("tail"), readAll(t, ix, 256, 4))
}

func TestMerge(t *testing.T) {
	f := newFixture()
	target, tix := f.segment(t, 1, false)
	source, six := f.segment(t, 2, false)

	appendTail(t, tix, target, "abc")
	f.flush(t, source, []byte("de"))
	appendTail(t, six, source, "fg")
	source.Seal()

	target.SetLength(7)
	require.NoError(t, tix.BeginMerge(3, six, 4))
	require.Equal(t, 1, tix.Stats().PendingMerges)

	require.Equal(t, []byte("abcdefg"), readAll(t, tix, 0, 7))

	r, err := tix.Read(4, 3, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.True(t, r.Entry().Redirected())
	require.Equal(t, Cache, r.Entry().Type())
	r.Close()

	require.ErrorIs(t, tix.CompleteMerge(2), ErrMergeIncomplete)
	require.ErrorIs(t, tix.CompleteMerge(9), ErrMergeNotFound)

	f.flush(t, target, []byte("abcdefg"))
	require.NoError(t, tix.CompleteMerge(2))
	require.Zero(t, tix.Stats().PendingMerges)
	six.MarkMerged()
	require.NoError(t, six.Close())

	require.Equal(t, []byte("abcdefg"), readAll(t, tix, 0, 7))
	r, err = tix.Read(3, 4, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.False(t, r.Entry().Redirected())
	r.Close()
}

func TestMergeFutureRead(t *testing.T) {
	f := newFixture()
	target, tix := f.segment(t, 1, false)
	source, six := f.segment(t, 2, false)

	source.SetLength(4)
	source.Seal()
	target.SetLength(4)
	require.NoError(t, tix.BeginMerge(0, six, 4))

	r, err := tix.Read(0, 4, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())
	require.Equal(t, Future, r.Entry().Type())
	require.True(t, r.Entry().Redirected())

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.write(source, []byte("wxyz"))
		tix.TriggerFutureReads()
	}()
	v, err := r.Entry().Content(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("wxyz"), v.Copy())
}

func TestMergeCompletedWhileWaiting(t *testing.T) {
	f := newFixture()
	target, tix := f.segment(t, 1, false)
	source, six := f.segment(t, 2, false)

	source.SetLength(4)
	source.Seal()
	target.SetLength(4)
	require.NoError(t, tix.BeginMerge(0, six, 4))

	r, err := tix.Read(0, 4, time.Second)
	require.NoError(t, err)
	require.True(t, r.Next())

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.write(target, []byte("wxyz"))
		if tix.CompleteMerge(2) == nil {
			six.Close()
		}
	}()
	v, err := r.Entry().Content(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("wxyz"), v.Copy())
}

func TestMergeValidation(t *testing.T) {
	f := newFixture()
	target, tix := f.segment(t, 1, false)
	source, six := f.segment(t, 2, false)
	target.SetLength(100)
	source.SetLength(4)

	require.ErrorIs(t, tix.BeginMerge(0, tix, 0), readindex.ErrInvalidArgument)
	require.ErrorIs(t, tix.BeginMerge(0, six, 4), ErrSegmentNotSealed)
	source.Seal()
	require.ErrorIs(t, tix.BeginMerge(0, six, 5), ErrMetadataMismatch)
	require.ErrorIs(t, tix.BeginMerge(98, six, 4), ErrBadOffset)
	require.NoError(t, tix.BeginMerge(0, six, 4))
	require.ErrorIs(t, tix.BeginMerge(4, six, 4), readindex.ErrInvalidArgument)

	// a segment with pending merges cannot be merged itself
	outer, oix := f.segment(t, 3, false)
	outer.SetLength(100)
	target.Seal()
	require.ErrorIs(t, oix.BeginMerge(0, tix, 100), ErrMergeIncomplete)

	// nor can a merge source take merges
	other, otherIx := f.segment(t, 5, false)
	other.SetLength(1)
	other.Seal()
	require.ErrorIs(t, six.BeginMerge(4, otherIx, 1), readindex.ErrInvalidArgument)
	require.Zero(t, six.Stats().PendingMerges)

	six.MarkMerged()
	m4, ix4 := f.segment(t, 4, false)
	m4.SetLength(4)
	require.ErrorIs(t, ix4.BeginMerge(0, six, 4), ErrSegmentMerged)

	// the rejected source is free to merge elsewhere
	require.NoError(t, ix4.BeginMerge(0, otherIx, 1))
}

func TestOpposingMerges(t *testing.T) {
	f := newFixture()
	for i := range int64(100) {
		a, aix := f.segment(t, 2*i+1, false)
		b, bix := f.segment(t, 2*i+2, false)
		for _, m := range []*metadata.Segment{a, b} {
			m.SetLength(8)
			m.Seal()
		}

		start := make(chan struct{})
		errs := make(chan error, 2)
		go func() {
			<-start
			errs <- aix.BeginMerge(0, bix, 8)
		}()
		go func() {
			<-start
			errs <- bix.BeginMerge(0, aix, 8)
		}()
		close(start)

		failed := 0
		for range 2 {
			select {
			case err := <-errs:
				if err != nil {
					failed++
				}
			case <-time.After(5 * time.Second):
				t.Fatalf("merges between %d and %d did not return", a.ID(), b.ID())
			}
		}
		require.GreaterOrEqual(t, failed, 1)
	}
}

func TestConcurrentCompleteMerge(t *testing.T) {
	f := newFixture()
	target, tix := f.segment(t, 1, false)
	source, six := f.segment(t, 2, false)

	appendTail(t, tix, target, "abc")
	f.flush(t, source, []byte("de"))
	appendTail(t, six, source, "fg")
	source.Seal()
	target.SetLength(7)
	require.NoError(t, tix.BeginMerge(3, six, 4))
	f.flush(t, target, []byte("abcdefg"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = tix.CompleteMerge(2)
		}()
	}
	wg.Wait()

	var completed int
	for _, err := range errs {
		if err == nil {
			completed++
		} else {
			require.ErrorIs(t, err, ErrMergeNotFound)
		}
	}
	require.Equal(t, 1, completed)

	stats := tix.Stats()
	require.Equal(t, 2, stats.Entries)
	require.EqualValues(t, 3+2, stats.CachedBytes)
	require.Equal(t, []byte("abcdefg"), readAll(t, tix, 0, 7))
}

func TestRecovery(t *testing.T) {
	f := newFixture()
	m, ix := f.segment(t, 1, true)
	require.True(t, ix.InRecovery())

	appendTail(t, ix, m, "abc")
	_, err := ix.Read(0, 3, 0)
	require.ErrorIs(t, err, ErrRecovering)

	other, err := f.meta.Add(2, "other")
	require.NoError(t, err)
	require.ErrorIs(t, ix.ExitRecoveryMode(nil), ErrNilMetadata)
	require.ErrorIs(t, ix.ExitRecoveryMode(other), ErrMetadataMismatch)

	short := f.meta.Clone()
	s, _ := short.Get(1)
	s.SetLength(2)
	require.ErrorIs(t, ix.CheckExitRecovery(s), ErrMetadataMismatch)
	require.True(t, ix.InRecovery())

	final := f.meta.Clone()
	fm, _ := final.Get(1)
	require.NoError(t, ix.ExitRecoveryMode(fm))
	require.False(t, ix.InRecovery())
	require.Same(t, readindex.SegmentMetadata(fm), ix.Metadata())
	require.ErrorIs(t, ix.ExitRecoveryMode(fm), ErrNotRecovering)

	require.Equal(t, []byte("abc"), readAll(t, ix, 0, 3))
}

func TestCompaction(t *testing.T) {
	f := newFixture()
	f.config.CacheCapacity = 8
	f.config.ReadAheadLength = 8
	m, ix := f.segment(t, 1, false)
	data := bytes.Repeat([]byte("0123456789abcdef"), 16)
	f.flush(t, m, data)

	for off := int64(0); off < int64(len(data)); off += 8 {
		require.Equal(t, data[off:off+8], readAll(t, ix, off, 8))
	}
	require.LessOrEqual(t, ix.tombstones, ix.config.CompactThreshold)
	require.Equal(t, 1, ix.Stats().Entries)
	require.Equal(t, data[100:140], readAll(t, ix, 100, 40))
}
