// Package chunkio splits slot writes into calls the remote store accepts
// and slices whole-slot reads locally.
package chunkio

import (
	"context"
	"fmt"

	"github.com/csweichel/chainfs/pkg/store"
	log "github.com/sirupsen/logrus"
)

// DefaultChunkSize stays well below the payload ceiling of a single remote
// call, leaving room for the call encoding.
const DefaultChunkSize = 16 * 1024

// Appender is the part of store.Store the writer needs.
type Appender interface {
	Write(ctx context.Context, h store.Handle, key []byte, data []byte) error
}

// Writer issues sequential append calls of at most ChunkSize bytes.
type Writer struct {
	store     Appender
	chunkSize int
}

// NewWriter produces a writer. chunkSize <= 0 selects DefaultChunkSize.
func NewWriter(s Appender, chunkSize int) *Writer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Writer{store: s, chunkSize: chunkSize}
}

// ChunkSize returns the maximum number of bytes per remote call.
func (w *Writer) ChunkSize() int {
	return w.chunkSize
}

// WriteAll appends buf to the slot key in order. It stops at the first failing
// chunk and returns the number of bytes the store accepted before it. Chunks
// that were accepted stay visible; there is nothing to roll back to.
func (w *Writer) WriteAll(ctx context.Context, h store.Handle, key []byte, buf []byte) (int, error) {
	var written int
	for written < len(buf) {
		end := written + w.chunkSize
		if end > len(buf) {
			end = len(buf)
		}

		err := w.store.Write(ctx, h, key, buf[written:end])
		if err != nil {
			log.WithField("handle", h).WithField("written", written).WithField("total", len(buf)).WithError(err).Debug("chunked write failed")
			return written, fmt.Errorf("chunk at %d: %w", written, err)
		}
		written = end
	}
	return written, nil
}

// Slice returns data[off:off+size], clamped to the available length. Reads
// starting at or past the end yield an empty result.
func Slice(data []byte, off int64, size int) []byte {
	if off < 0 || off >= int64(len(data)) || size <= 0 {
		return []byte{}
	}
	end := off + int64(size)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[off:end]
}
