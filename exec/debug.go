package exec

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// debugEnabled mirrors the upstream PYTORCH_CUDA_FUSER_DEBUG switch: set
// FUSER_DEBUG to have CompileFusion print (and archive) the source text it
// emits for every compile.
func debugEnabled() bool {
	return os.Getenv("FUSER_DEBUG") != ""
}

// newTraceID returns a short id for correlating one compile/run's log
// lines, independent of the monotonic fusion id (which only increases,
// never repeats, and says nothing about which process/run produced it).
func newTraceID() string {
	return uuid.New().String()
}

// dumpDebugArtifact zstd-compresses source and writes it to dir/name.cu.zst,
// alongside the stdout print FUSER_DEBUG mandates — an offline-inspectable
// record of exactly what text the emitter produced for a given kernel.
func dumpDebugArtifact(dir, name, source string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("exec: creating debug artifact directory: %w", err)
	}
	w, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("exec: creating zstd writer: %w", err)
	}
	defer w.Close()
	compressed := w.EncodeAll([]byte(source), nil)
	path := filepath.Join(dir, name+".cu.zst")
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("exec: writing debug artifact %s: %w", path, err)
	}
	return nil
}

// debugLogger returns a logger writing to stdout with no prefix, matching
// cmd_teacher/snellerd/run_worker.go's log.New(os.Stdout, "", 0) style.
func debugLogger() *log.Logger {
	return log.New(os.Stdout, "", 0)
}
