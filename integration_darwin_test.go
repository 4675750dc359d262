//go:build darwin && (amd64 || arm64)

package minicore_test

import (
	"encoding/binary"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/appsworld/minicore"
	"github.com/appsworld/minicore/types"
)

// TestWriteCoreAgainstLiveChild dumps a running helper process and checks
// the resulting file's header. It needs a live Darwin target and
// task_for_pid entitlement, so it's skipped under -short (e.g. on a CI
// runner without the right privileges).
func TestWriteCoreAgainstLiveChild(t *testing.T) {
	if testing.Short() {
		t.Skip("requires task_for_pid privileges on a live Darwin target")
	}

	cmd := exec.Command("/bin/sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start helper: %v", err)
	}
	defer cmd.Process.Kill()
	time.Sleep(100 * time.Millisecond)

	task, err := taskForPIDForTest(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("task_for_pid: %v", err)
	}

	path := filepath.Join(t.TempDir(), "core")
	if err := minicore.WriteCoreToPath(task, path, nil); err != nil {
		t.Fatalf("WriteCore: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open core: %v", err)
	}
	defer f.Close()

	hdr := make([]byte, types.FileHeaderSize64)
	if _, err := f.Read(hdr); err != nil {
		t.Fatalf("read header: %v", err)
	}
	magic := types.Magic(binary.LittleEndian.Uint32(hdr[0:4]))
	if magic != types.Magic64 {
		t.Fatalf("expected Magic64, got %v", magic)
	}
	fileType := types.HeaderFileType(binary.LittleEndian.Uint32(hdr[12:16]))
	if fileType != types.MH_CORE {
		t.Fatalf("expected MH_CORE, got %v", fileType)
	}
}
