// Package metrics instruments remote store calls with Prometheus.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/csweichel/chainfs/pkg/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chainfs"

// Store wraps a store.Store and records every call.
type Store struct {
	inner store.Store

	calls        *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytesWritten prometheus.Counter
}

// Wrap instruments s, registering its collectors with reg. If s can report
// program code sizes, so can the result.
func Wrap(s store.Store, reg prometheus.Registerer) store.Store {
	m := &Store{
		inner: s,
		calls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote store calls by method and outcome",
		}, []string{"method", "outcome"}),
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of remote store calls",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"method"}),
		bytesWritten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_bytes_written_total",
			Help:      "Payload bytes accepted by remote write calls",
		}),
	}
	if cs, ok := s.(store.CodeSizer); ok {
		return &codeSizingStore{Store: m, sizer: cs}
	}
	return m
}

// outcome classifies err for the outcome label.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var re *store.RemoteError
	if errors.As(err, &re) {
		return "rejected"
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "interrupted"
	}
	return "error"
}

func (m *Store) observe(method string, start time.Time, err error) {
	m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	m.calls.WithLabelValues(method, outcome(err)).Inc()
}

func (m *Store) Stat(ctx context.Context, p store.Path) (e store.Entry, err error) {
	defer func(t time.Time) { m.observe("stat", t, err) }(time.Now())
	return m.inner.Stat(ctx, p)
}

func (m *Store) Lstat(ctx context.Context, p store.Path) (e store.Entry, err error) {
	defer func(t time.Time) { m.observe("lstat", t, err) }(time.Now())
	return m.inner.Lstat(ctx, p)
}

func (m *Store) Fstat(ctx context.Context, h store.Handle) (e store.Entry, err error) {
	defer func(t time.Time) { m.observe("fstat", t, err) }(time.Now())
	return m.inner.Fstat(ctx, h)
}

func (m *Store) ReadKeyPath(ctx context.Context, p store.Path, index uint64) (k []byte, err error) {
	defer func(t time.Time) { m.observe("readkeyPath", t, err) }(time.Now())
	return m.inner.ReadKeyPath(ctx, p, index)
}

func (m *Store) Open(ctx context.Context, p store.Path, flags store.Flags) (h store.Handle, err error) {
	defer func(t time.Time) { m.observe("open", t, err) }(time.Now())
	return m.inner.Open(ctx, p, flags)
}

func (m *Store) Read(ctx context.Context, h store.Handle, key []byte) (b []byte, err error) {
	defer func(t time.Time) { m.observe("read", t, err) }(time.Now())
	return m.inner.Read(ctx, h, key)
}

func (m *Store) ReadPath(ctx context.Context, p store.Path, key []byte) (b []byte, err error) {
	defer func(t time.Time) { m.observe("readPath", t, err) }(time.Now())
	return m.inner.ReadPath(ctx, p, key)
}

func (m *Store) Write(ctx context.Context, h store.Handle, key []byte, data []byte) (err error) {
	defer func(t time.Time) {
		m.observe("write", t, err)
		if err == nil {
			m.bytesWritten.Add(float64(len(data)))
		}
	}(time.Now())
	return m.inner.Write(ctx, h, key, data)
}

func (m *Store) Truncate(ctx context.Context, h store.Handle, key []byte, size uint64) (err error) {
	defer func(t time.Time) { m.observe("truncate", t, err) }(time.Now())
	return m.inner.Truncate(ctx, h, key, size)
}

func (m *Store) Clear(ctx context.Context, h store.Handle, key []byte) (err error) {
	defer func(t time.Time) { m.observe("clear", t, err) }(time.Now())
	return m.inner.Clear(ctx, h, key)
}

func (m *Store) Close(ctx context.Context, h store.Handle) (err error) {
	defer func(t time.Time) { m.observe("close", t, err) }(time.Now())
	return m.inner.Close(ctx, h)
}

func (m *Store) Mkdir(ctx context.Context, p store.Path) (err error) {
	defer func(t time.Time) { m.observe("mkdir", t, err) }(time.Now())
	return m.inner.Mkdir(ctx, p)
}

func (m *Store) Rmdir(ctx context.Context, p store.Path) (err error) {
	defer func(t time.Time) { m.observe("rmdir", t, err) }(time.Now())
	return m.inner.Rmdir(ctx, p)
}

func (m *Store) Unlink(ctx context.Context, p store.Path) (err error) {
	defer func(t time.Time) { m.observe("unlink", t, err) }(time.Now())
	return m.inner.Unlink(ctx, p)
}

func (m *Store) Link(ctx context.Context, src, dst store.Path) (err error) {
	defer func(t time.Time) { m.observe("link", t, err) }(time.Now())
	return m.inner.Link(ctx, src, dst)
}

func (m *Store) Symlink(ctx context.Context, target []byte, link store.Path) (err error) {
	defer func(t time.Time) { m.observe("symlink", t, err) }(time.Now())
	return m.inner.Symlink(ctx, target, link)
}

func (m *Store) Readlink(ctx context.Context, p store.Path) (b []byte, err error) {
	defer func(t time.Time) { m.observe("readlink", t, err) }(time.Now())
	return m.inner.Readlink(ctx, p)
}

func (m *Store) Rename(ctx context.Context, src, dst store.Path) (err error) {
	defer func(t time.Time) { m.observe("rename", t, err) }(time.Now())
	return m.inner.Rename(ctx, src, dst)
}

func (m *Store) Chmod(ctx context.Context, p store.Path, mode uint32) (err error) {
	defer func(t time.Time) { m.observe("chmod", t, err) }(time.Now())
	return m.inner.Chmod(ctx, p, mode)
}

func (m *Store) Chown(ctx context.Context, p store.Path, owner, group common.Address) (err error) {
	defer func(t time.Time) { m.observe("chown", t, err) }(time.Now())
	return m.inner.Chown(ctx, p, owner, group)
}

type codeSizingStore struct {
	*Store
	sizer store.CodeSizer
}

func (m *codeSizingStore) CodeSize(ctx context.Context, owner common.Address) (sz uint64, err error) {
	defer func(t time.Time) { m.observe("codeSize", t, err) }(time.Now())
	return m.sizer.CodeSize(ctx, owner)
}
