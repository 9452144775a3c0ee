// Package codec serializes record streams for durable storage.
//
// The wire format is a sequence of uvarint-length-prefixed records inside a
// zstd stream. It is self-delimiting: the reader yields records until the
// compressed stream ends cleanly.
package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// MaxRecordSize bounds a single record; larger lengths indicate a corrupt
// stream rather than a legitimate record.
const MaxRecordSize = 256 << 20

const defaultBufferSize = 64 * 1024

// Codec produces record stream writers and readers with a configured
// buffer size.
type Codec struct {
	bufferSize int
}

// New creates a codec. bufferSize below 1 selects the default.
func New(bufferSize int) *Codec {
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	return &Codec{bufferSize: bufferSize}
}

// RecordWriter serializes records to an underlying stream. Close flushes
// and finalizes the compressed stream but does not close the underlying
// writer; the caller owns it.
type RecordWriter struct {
	bw     *bufio.Writer
	zw     *zstd.Encoder
	lenBuf [binary.MaxVarintLen64]byte
}

// NewWriter wraps w in a record stream writer.
func (c *Codec) NewWriter(w io.Writer) (*RecordWriter, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &RecordWriter{
		bw: bufio.NewWriterSize(zw, c.bufferSize),
		zw: zw,
	}, nil
}

// Write appends one record to the stream.
func (w *RecordWriter) Write(rec []byte) error {
	n := binary.PutUvarint(w.lenBuf[:], uint64(len(rec)))
	if _, err := w.bw.Write(w.lenBuf[:n]); err != nil {
		return fmt.Errorf("write record length: %w", err)
	}
	if _, err := w.bw.Write(rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close flushes buffered records and finalizes the compressed stream.
func (w *RecordWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush records: %w", err)
	}
	if err := w.zw.Close(); err != nil {
		return fmt.Errorf("close zstd encoder: %w", err)
	}
	return nil
}

// RecordReader lazily decodes a record stream. It satisfies the dataset
// iterator contract; Close releases the decoder and the underlying source
// and is safe to call more than once.
type RecordReader struct {
	br        *bufio.Reader
	zr        *zstd.Decoder
	src       io.Closer
	rec       []byte
	err       error
	closeOnce sync.Once
	closeErr  error
}

// NewReader wraps src in a lazy record stream reader. The reader takes
// ownership of src and closes it on Close.
func (c *Codec) NewReader(src io.ReadCloser) (*RecordReader, error) {
	zr, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &RecordReader{
		br:  bufio.NewReaderSize(zr, c.bufferSize),
		zr:  zr,
		src: src,
	}, nil
}

// Next advances to the next record, returning false at clean end of stream
// or on error.
func (r *RecordReader) Next() bool {
	if r.err != nil {
		return false
	}

	size, err := binary.ReadUvarint(r.br)
	if err == io.EOF {
		return false
	}
	if err != nil {
		r.err = fmt.Errorf("read record length: %w", err)
		return false
	}
	if size > MaxRecordSize {
		r.err = fmt.Errorf("record length %d exceeds limit %d", size, MaxRecordSize)
		return false
	}

	if uint64(cap(r.rec)) < size {
		r.rec = make([]byte, size)
	}
	r.rec = r.rec[:size]
	if _, err := io.ReadFull(r.br, r.rec); err != nil {
		r.err = fmt.Errorf("read record body: %w", err)
		return false
	}
	return true
}

// Record returns the current record. Valid until the next call to Next.
func (r *RecordReader) Record() []byte { return r.rec }

// Err returns the first error encountered while reading.
func (r *RecordReader) Err() error { return r.err }

// Close releases the decoder and closes the underlying source.
func (r *RecordReader) Close() error {
	r.closeOnce.Do(func() {
		r.zr.Close()
		r.closeErr = r.src.Close()
	})
	return r.closeErr
}
