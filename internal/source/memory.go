package source

import (
	"bytes"
	"context"
)

// Memory is a Source backed by an in-memory byte slice. It is used by
// tests and by synthetic inputs.
type Memory struct {
	cancelToken
	r        *bytes.Reader
	url      string
	metadata map[string]string
}

var _ Source = (*Memory)(nil)

// NewMemory wraps data as a fully seekable Source.
func NewMemory(ctx context.Context, url string, data []byte) *Memory {
	return &Memory{
		cancelToken: cancelToken{ctx: ctx},
		r:           bytes.NewReader(data),
		url:         url,
	}
}

// SetMetadata attaches source-level metadata, returned via Metadata.
func (s *Memory) SetMetadata(md map[string]string) { s.metadata = md }

func (s *Memory) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *Memory) Seek(offset int64, whence int) (int64, error) {
	return s.r.Seek(offset, whence)
}

// URL returns the synthetic location given at construction.
func (s *Memory) URL() string { return s.url }

// Size returns the length of the wrapped data.
func (s *Memory) Size() int64 { return int64(s.r.Size()) }

// Seekable always reports true for memory sources.
func (s *Memory) Seekable() bool { return true }

// Cancelled reports whether the cancel token has tripped.
func (s *Memory) Cancelled() bool { return s.cancelled() }

// Metadata returns attached metadata, or nil.
func (s *Memory) Metadata() map[string]string { return s.metadata }
