//go:build darwin && (amd64 || arm64)

package minicore

import (
	"errors"
	"testing"

	"github.com/appsworld/minicore/internal/sink"
)

func TestWriteCoreRejectsZeroTask(t *testing.T) {
	s, err := sink.Create(t.TempDir() + "/core")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	err = WriteCore(Task(0), s, nil)
	if !errors.Is(err, ErrInvalidTask) {
		t.Fatalf("expected ErrInvalidTask, got %v", err)
	}
}
