// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture stores raw eBus byte streams with receive timestamps.
//
// A capture file is a sequence of CBOR arrays: one header followed by one
// record per chunk read from the transport.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const (
	magic   = "ebusstat-capture"
	version = 1
)

var (
	ErrNotCapture         = errors.New("not a capture file")
	ErrUnsupportedVersion = errors.New("unsupported capture version")
)

// Chunk is one read from the bus
type Chunk struct {
	Time time.Time
	Data []byte
}

// Header describes the recording
type Header struct {
	Source  string
	Started time.Time
}

type headerRecord struct {
	_       struct{} `cbor:",toarray"`
	Magic   string
	Version uint
	Source  string
	Started int64
}

type chunkRecord struct {
	_      struct{} `cbor:",toarray"`
	Micros int64
	Data   []byte
}

// Writer appends chunks to a capture
type Writer struct {
	enc *cbor.Encoder
}

// NewWriter writes the header and returns a writer for the chunks
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	enc := cbor.NewEncoder(w)
	err := enc.Encode(headerRecord{
		Magic:   magic,
		Version: version,
		Source:  h.Source,
		Started: h.Started.UnixMicro(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write appends one chunk
func (w *Writer) Write(c Chunk) error {
	if err := w.enc.Encode(chunkRecord{Micros: c.Time.UnixMicro(), Data: c.Data}); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	return nil
}

// WriteBytes appends data stamped with the current time
func (w *Writer) WriteBytes(data []byte) error {
	return w.Write(Chunk{Time: time.Now(), Data: data})
}

// Reader reads chunks from a capture
type Reader struct {
	dec       *cbor.Decoder
	header    Header
	chunks    int
	truncated bool
}

// NewReader reads and checks the header
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)

	var h headerRecord
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if h.Magic != magic {
		return nil, ErrNotCapture
	}
	if h.Version != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	return &Reader{
		dec: dec,
		header: Header{
			Source:  h.Source,
			Started: time.UnixMicro(h.Started),
		},
	}, nil
}

// Header returns the recording header
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next chunk, or io.EOF after the last one. A recording
// cut off in the middle of a record ends at the last complete chunk.
func (r *Reader) Next() (Chunk, error) {
	if r.truncated {
		return Chunk{}, io.EOF
	}

	var rec chunkRecord
	if err := r.dec.Decode(&rec); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return Chunk{}, io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			r.truncated = true
			slog.Warn("capture truncated, stopping at last complete chunk", "chunks", r.chunks)
			return Chunk{}, io.EOF
		}
		return Chunk{}, fmt.Errorf("failed to read chunk: %w", err)
	}
	r.chunks++
	return Chunk{Time: time.UnixMicro(rec.Micros), Data: rec.Data}, nil
}

// Truncated reports whether the recording ended inside a record
func (r *Reader) Truncated() bool {
	return r.truncated
}

// ReadAll returns the concatenated data of all remaining chunks
func (r *Reader) ReadAll() ([]byte, error) {
	var data []byte
	for {
		c, err := r.Next()
		if errors.Is(err, io.EOF) {
			return data, nil
		}
		if err != nil {
			return data, err
		}
		data = append(data, c.Data...)
	}
}
