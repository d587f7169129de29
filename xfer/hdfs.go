package xfer

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/colinmarc/hdfs/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// HDFS models a tape-robot-fronted archival site that only exposes a
// POSIX-like staging filesystem: put/get/stat by path. This is the closest
// shape in the example pack to the original's GridFTP/Globus driver
// (lta/transfer/gridftp.py, see SPEC_FULL.md §11).
type HDFS struct {
	client *hdfs.Client

	mu    sync.Mutex
	tasks map[string]hdfsTask
}

type hdfsTask struct {
	path string
	done bool
}

func NewHDFS(namenode, user string) (*HDFS, error) {
	client, err := hdfs.NewClient(hdfs.ClientOptions{Addresses: []string{namenode}, User: user})
	if err != nil {
		return nil, errors.Wrap(err, "new hdfs client")
	}
	return &HDFS{client: client, tasks: make(map[string]hdfsTask)}, nil
}

func (b *HDFS) Scheme() string { return "hdfs" }

func parseHDFSPath(destURL string) string {
	return strings.TrimPrefix(destURL, "hdfs://")
}

func (b *HDFS) TransferFile(_ context.Context, sourcePath, destURL string, _ time.Duration) (string, error) {
	dest := parseHDFSPath(destURL)
	if err := b.client.MkdirAll(path.Dir(dest), 0o755); err != nil && !os.IsExist(err) {
		return "", errors.Wrap(err, "hdfs mkdir")
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		return "", errors.Wrap(err, "open source")
	}
	defer src.Close()

	w, err := b.client.Create(dest)
	if err != nil {
		return "", errors.Wrap(err, "hdfs create")
	}
	_, copyErr := io.Copy(w, src)
	closeErr := w.Close()
	ok := copyErr == nil && closeErr == nil

	taskID := uuid.NewString()
	b.mu.Lock()
	b.tasks[taskID] = hdfsTask{path: dest, done: ok}
	b.mu.Unlock()
	if !ok {
		if copyErr != nil {
			return taskID, errors.Wrap(copyErr, "hdfs write")
		}
		return taskID, errors.Wrap(closeErr, "hdfs close")
	}
	return taskID, nil
}

func (b *HDFS) WaitForTransferToFinish(_ context.Context, taskID string, _ time.Duration) (Status, error) {
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	b.mu.Unlock()
	if !ok {
		return StatusInactive, errors.Errorf("unknown task %q", taskID)
	}
	if !t.done {
		return StatusFailed, nil
	}
	if _, err := b.client.Stat(t.path); err != nil {
		return StatusFailed, nil
	}
	return StatusSucceeded, nil
}

func (b *HDFS) CancelTask(_ context.Context, taskID string) error {
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	delete(b.tasks, taskID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.client.Remove(t.path)
}

func (b *HDFS) FetchFile(_ context.Context, destURL string, w io.Writer) error {
	dest := parseHDFSPath(destURL)
	r, err := b.client.Open(dest)
	if err != nil {
		return errors.Wrap(err, "hdfs open")
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}
