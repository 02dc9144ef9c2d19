// Package upload validates incoming audio file names and stores uploads in a
// scratch directory for the duration of one request.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNoFile             = errors.New("no file part")
	ErrEmptyFilename      = errors.New("no selected file")
	ErrFileTypeNotAllowed = errors.New("file type not allowed")
)

var allowedExtensions = map[string]struct{}{
	"mp3": {}, "mp4": {}, "mpeg": {}, "mpga": {}, "m4a": {}, "wav": {}, "webm": {},
}

// Extension returns the lower-cased text after the last dot, or "".
func Extension(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(filename[i+1:])
}

func Allowed(filename string) bool {
	if !strings.Contains(filename, ".") {
		return false
	}
	_, ok := allowedExtensions[Extension(filename)]
	return ok
}

// Validate checks a client-supplied file name.
func Validate(filename string) error {
	if filename == "" {
		return ErrEmptyFilename
	}
	if !Allowed(filename) {
		return ErrFileTypeNotAllowed
	}
	return nil
}

type Store struct {
	dir string
}

type Saved struct {
	ID   string
	Path string
	Ext  string
	Size int64
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save copies r to "<uuid>_<base name>" inside the store directory.
func (s *Store) Save(r io.Reader, originalName string) (Saved, error) {
	id := uuid.NewString()
	base := filepath.Base(filepath.Clean("/" + originalName))
	path := filepath.Join(s.dir, id+"_"+base)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Saved{}, fmt.Errorf("create upload file: %w", err)
	}
	size, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(path)
		return Saved{}, fmt.Errorf("save upload: %w", err)
	}

	return Saved{ID: id, Path: path, Ext: Extension(originalName), Size: size}, nil
}

// Remove deletes the saved file; a missing file is not an error.
func (s Saved) Remove() error {
	if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
