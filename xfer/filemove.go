package xfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FileMove is the in-process test double modeled on the original's
// lta/transfer/move.py: it "transfers" by copying bytes on a shared local
// filesystem, letting component tests exercise the full Replicator/Verifier
// flow without any network dependency.
type FileMove struct {
	mu    sync.Mutex
	tasks map[string]string // taskID -> destination path actually written
}

func NewFileMove() *FileMove {
	return &FileMove{tasks: make(map[string]string)}
}

func (f *FileMove) Scheme() string { return "file" }

func (f *FileMove) TransferFile(_ context.Context, sourcePath, destURL string, _ time.Duration) (string, error) {
	if !filepath.IsAbs(sourcePath) {
		return "", errors.Errorf("source path must be absolute: %q", sourcePath)
	}
	dest := strings.TrimPrefix(destURL, "file://")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.Wrap(err, "mkdir destination")
	}
	in, err := os.Open(sourcePath)
	if err != nil {
		return "", errors.Wrap(err, "open source")
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return "", errors.Wrap(err, "create destination")
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return "", errors.Wrap(err, "copy bytes")
	}
	taskID := uuid.NewString()
	f.mu.Lock()
	f.tasks[taskID] = dest
	f.mu.Unlock()
	return taskID, nil
}

func (f *FileMove) WaitForTransferToFinish(_ context.Context, taskID string, _ time.Duration) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[taskID]; !ok {
		return StatusInactive, errors.Errorf("unknown task %q", taskID)
	}
	return StatusSucceeded, nil
}

func (f *FileMove) CancelTask(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, taskID)
	return nil
}

func (f *FileMove) FetchFile(_ context.Context, destURL string, w io.Writer) error {
	dest := strings.TrimPrefix(destURL, "file://")
	in, err := os.Open(dest)
	if err != nil {
		return errors.Wrap(err, "open remote copy")
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}
