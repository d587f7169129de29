package xfer

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Azure is a Transfer Service backend for an Azure-Blob-fronted site.
type Azure struct {
	client *azblob.Client

	mu    sync.Mutex
	tasks map[string]azureTask
}

type azureTask struct {
	container, blob string
	done            bool
}

// NewAzure builds a driver against serviceURL (e.g.
// "https://<account>.blob.core.windows.net") using shared-key credentials.
func NewAzure(serviceURL, accountName, accountKey string) (*Azure, error) {
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, errors.Wrap(err, "azure shared key credential")
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new azure client")
	}
	return &Azure{client: client, tasks: make(map[string]azureTask)}, nil
}

func (b *Azure) Scheme() string { return "azure" }

// parseAzureURL accepts "azure://<container>/<blob>".
func parseAzureURL(destURL string) (container, blob string, err error) {
	trimmed := strings.TrimPrefix(destURL, "azure://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("malformed azure url %q", destURL)
	}
	return parts[0], parts[1], nil
}

func (b *Azure) TransferFile(ctx context.Context, sourcePath, destURL string, timeout time.Duration) (string, error) {
	container, blob, err := parseAzureURL(destURL)
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

	_, uploadErr := b.client.UploadStream(cctx, container, blob, f, nil)

	taskID := uuid.NewString()
	b.mu.Lock()
	b.tasks[taskID] = azureTask{container: container, blob: blob, done: uploadErr == nil}
	b.mu.Unlock()
	if uploadErr != nil {
		return taskID, errors.Wrap(uploadErr, "azure upload stream")
	}
	return taskID, nil
}

func (b *Azure) WaitForTransferToFinish(ctx context.Context, taskID string, _ time.Duration) (Status, error) {
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	b.mu.Unlock()
	if !ok {
		return StatusInactive, errors.Errorf("unknown task %q", taskID)
	}
	if !t.done {
		return StatusFailed, nil
	}
	if _, err := b.client.ServiceClient().NewContainerClient(t.container).NewBlobClient(t.blob).GetProperties(ctx, nil); err != nil {
		return StatusFailed, nil
	}
	return StatusSucceeded, nil
}

func (b *Azure) CancelTask(ctx context.Context, taskID string) error {
	b.mu.Lock()
	t, ok := b.tasks[taskID]
	delete(b.tasks, taskID)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := b.client.DeleteBlob(ctx, t.container, t.blob, nil)
	return err
}

func (b *Azure) FetchFile(ctx context.Context, destURL string, w io.Writer) error {
	container, blob, err := parseAzureURL(destURL)
	if err != nil {
		return err
	}
	resp, err := b.client.DownloadStream(ctx, container, blob, nil)
	if err != nil {
		return errors.Wrap(err, "azure download stream")
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}
