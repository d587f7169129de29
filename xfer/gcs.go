package xfer

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// GCS is a Transfer Service backend for a GCS-fronted disk-cache site.
type GCS struct {
	client *storage.Client

	mu    sync.Mutex
	tasks map[string]gcsTask
}

type gcsTask struct {
	bucket, object string
	done           bool
}

func NewGCS(ctx context.Context) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "new gcs client")
	}
	return &GCS{client: client, tasks: make(map[string]gcsTask)}, nil
}

func (b *GCS) Scheme() string { return "gcs" }

func parseGCSURL(destURL string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(destURL, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("malformed gcs url %q", destURL)
	}
	return parts[0], parts[1], nil
}

func (b *GCS) TransferFile(ctx context.Context, sourcePath, destURL string, timeout time.Duration) (string, error) {
	bucket, object, err := parseGCSURL(destURL)
	if err != nil {
		return "", err
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	f, err := os.Open(sourcePath)
	if err != nil {
		return "", errors.Wrap(err, "open source")
	}
	defer f.Close()

	w := b.client.Bucket(bucket).Object(object).NewWriter(cctx)
	_, copyErr := io.Copy(w, f)
	closeErr := w.Close()
	ok := copyErr == nil && closeErr == nil

	taskID := uuid.NewString()
	b.mu.Lock()
	b.tasks[taskID] = gcsTask{bucket: bucket, object: object, done: ok}
	b.mu.Unlock()
	if !ok {
		if copyErr != nil {
			return taskID, errors.Wrap(copyErr, "gcs upload copy")
		}
		return taskID, errors.Wrap(closeErr, "gcs upload close")
	}
	return taskID, nil
}

func (b *GCS) WaitForTransferToFinish(ctx context.Context, taskID string, _ time.Duration) (Status, error) {
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	b.mu.Unlock()
	if !ok {
		return StatusInactive, errors.Errorf("unknown task %q", taskID)
	}
	if !t.done {
		return StatusFailed, nil
	}
	if _, err := b.client.Bucket(t.bucket).Object(t.object).Attrs(ctx); err != nil {
		return StatusFailed, nil
	}
	return StatusSucceeded, nil
}

func (b *GCS) CancelTask(ctx context.Context, taskID string) error {
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	delete(b.tasks, taskID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.client.Bucket(t.bucket).Object(t.object).Delete(ctx)
}

func (b *GCS) FetchFile(ctx context.Context, destURL string, w io.Writer) error {
	bucket, object, err := parseGCSURL(destURL)
	if err != nil {
		return err
	}
	r, err := b.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return errors.Wrap(err, "gcs new reader")
	}
	defer r.Close()
	_, err = io.Copy(w, r)
	return err
}
