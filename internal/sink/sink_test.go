package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkWriteAtAndSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core")
	s, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if _, err := s.WriteAt([]byte("hello"), 10); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	size, err := s.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 15 {
		t.Fatalf("expected size 15, got %d", size)
	}
}

func TestFileSinkTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core")
	s, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if err := s.Truncate(4096); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	size, err := s.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 4096 {
		t.Fatalf("expected size 4096, got %d", size)
	}
}

func TestNewFDAcceptsNonNegativeDescriptor(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "core")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	fd := int(f.Fd())
	f.Close()

	s, err := NewFD(fd)
	if err != nil {
		t.Fatalf("NewFD: %v", err)
	}
	defer s.Close()
}
