package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// File is a Source backed by a regular file.
type File struct {
	cancelToken
	f    *os.File
	url  string
	size int64
}

var _ Source = (*File)(nil)
var _ BaseFilenamer = (*File)(nil)

// OpenFile opens the file at path as a Source. The context acts as the
// cancel token for drivers reading from it.
func OpenFile(ctx context.Context, path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening source file: %w", err)
	}

	size := int64(-1)
	if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
		size = st.Size()
	}

	return &File{
		cancelToken: cancelToken{ctx: ctx},
		f:           f,
		url:         path,
		size:        size,
	}, nil
}

func (s *File) Read(p []byte) (int, error) {
	return s.f.Read(p)
}

func (s *File) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

// URL returns the path the file was opened from.
func (s *File) URL() string { return s.url }

// Size returns the file size, or -1 for non-regular files.
func (s *File) Size() int64 { return s.size }

// Seekable reports whether the file supports arbitrary seeks.
func (s *File) Seekable() bool { return s.size >= 0 }

// Cancelled reports whether the cancel token has tripped.
func (s *File) Cancelled() bool { return s.cancelled() }

// BaseFilename returns the file name without its directory.
func (s *File) BaseFilename() string { return filepath.Base(s.url) }

// Close closes the underlying file.
func (s *File) Close() error { return s.f.Close() }
