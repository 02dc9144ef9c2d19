package upload

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAllowed(t *testing.T) {
	cases := map[string]bool{
		"talk.mp3":       true,
		"TALK.WAV":       true,
		"a.b.m4a":        true,
		"clip.webm":      true,
		"notes.txt":      false,
		"mp3":            false,
		"archive.mp3.gz": false,
		"":               false,
	}
	for name, want := range cases {
		if got := Allowed(name); got != want {
			t.Fatalf("Allowed(%q): got %v want %v", name, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(""); !errors.Is(err, ErrEmptyFilename) {
		t.Fatalf("expected ErrEmptyFilename, got %v", err)
	}
	if err := Validate("x.exe"); !errors.Is(err, ErrFileTypeNotAllowed) {
		t.Fatalf("expected ErrFileTypeNotAllowed, got %v", err)
	}
	if err := Validate("x.mpga"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStoreSaveAndRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	saved, err := s.Save(strings.NewReader("audio-bytes"), "../../etc/Meeting.M4A")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if filepath.Dir(saved.Path) != dir {
		t.Fatalf("file escaped upload dir: %s", saved.Path)
	}
	if !strings.HasSuffix(saved.Path, saved.ID+"_Meeting.M4A") {
		t.Fatalf("unexpected path: %s", saved.Path)
	}
	if saved.Ext != "m4a" || saved.Size != int64(len("audio-bytes")) {
		t.Fatalf("unexpected saved file: %+v", saved)
	}

	if err := saved.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(saved.Path); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
	if err := saved.Remove(); err != nil {
		t.Fatalf("second Remove() error = %v", err)
	}
}
