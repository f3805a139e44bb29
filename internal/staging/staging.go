// Package staging provides request-scoped temporary buffers for uploads.
// An inbound media stream is copied fully to local disk before any remote
// call, so the remote client gets a finite, seekable source, and the
// buffer is removed when the handle is closed.
package staging

import (
	"fmt"
	"io"
	"os"
)

// Staged is a scoped handle to a fully buffered byte stream. Callers must
// Close it on every exit path; Close releases the underlying file.
type Staged struct {
	f    *os.File
	size int64
}

// Stage copies reader to a fresh temporary file and rewinds it. The
// returned handle is positioned at the start of the data.
func Stage(reader io.Reader) (*Staged, error) {
	f, err := os.CreateTemp("", "staged-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("buffer upload stream: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("rewind staging file: %w", err)
	}

	return &Staged{f: f, size: size}, nil
}

// Read implements io.Reader over the staged bytes.
func (s *Staged) Read(p []byte) (int, error) {
	return s.f.Read(p)
}

// Seek implements io.Seeker, so the staged bytes can be re-read if the
// remote client needs a second pass.
func (s *Staged) Seek(offset int64, whence int) (int64, error) {
	return s.f.Seek(offset, whence)
}

// Size returns the exact number of buffered bytes.
func (s *Staged) Size() int64 {
	return s.size
}

// Name returns the path of the backing file.
func (s *Staged) Name() string {
	return s.f.Name()
}

// Close releases the staged buffer. Safe to call exactly once; always
// removes the backing file, even if closing the descriptor fails.
func (s *Staged) Close() error {
	closeErr := s.f.Close()
	removeErr := os.Remove(s.f.Name())
	if closeErr != nil {
		return fmt.Errorf("close staging file: %w", closeErr)
	}
	if removeErr != nil {
		return fmt.Errorf("remove staging file: %w", removeErr)
	}
	return nil
}
