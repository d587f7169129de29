package replicator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/replicator"
	"github.com/WIPACrepo/lta-sub001/worker"
	"github.com/WIPACrepo/lta-sub001/xfer"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

// fakeLTADB serves just enough of the LTA DB surface for one pop+patch cycle.
type fakeLTADB struct {
	mu      sync.Mutex
	bundle  *lta.Bundle
	popped  bool
	patches []map[string]any
}

func (f *fakeLTADB) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/Bundles/actions/pop":
			if f.popped || f.bundle == nil {
				json.NewEncoder(w).Encode(map[string]any{"bundle": nil})
				return
			}
			f.popped = true
			json.NewEncoder(w).Encode(map[string]any{"bundle": f.bundle})
		case r.Method == http.MethodPatch:
			var patch map[string]any
			json.NewDecoder(r.Body).Decode(&patch)
			f.patches = append(f.patches, patch)
			if status, ok := patch["status"]; ok {
				f.bundle.Status = lta.BundleStatus(status.(string))
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestComponent(t *testing.T, f *fakeLTADB, srv *httptest.Server, backend xfer.Backend, destPrefix string) *replicator.Component {
	t.Helper()
	client := ltadb.New(srv.URL, staticTokens{"test-token"}, 0)
	return replicator.New(client, backend, "replicator-1", "site-a", "site-b", destPrefix, false, time.Second, time.Millisecond)
}

func TestReplicatorHappyPath(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "bundle.zip")
	if err := os.WriteFile(srcPath, []byte("archive-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	destDir := filepath.Join(dir, "dest")

	f := &fakeLTADB{bundle: &lta.Bundle{UUID: "b-1", Status: lta.BundleCreated, BundlePath: srcPath, FileCount: 1}}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	backend := xfer.NewFileMove()
	c := newTestComponent(t, f, srv, backend, "file://"+destDir)

	outcome := c.DoWorkClaim(context.Background())
	if outcome != worker.OutcomeProcessed {
		t.Fatalf("expected OutcomeProcessed, got %v", outcome)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bundle.Status != lta.BundleTransferring {
		t.Fatalf("expected bundle status transferring, got %s", f.bundle.Status)
	}
	if len(f.patches) < 2 {
		t.Fatalf("expected at least 2 patches (reference + status), got %d", len(f.patches))
	}
	if _, ok := f.patches[0]["transfer_reference"]; !ok {
		t.Fatalf("expected first patch to record transfer_reference, got %v", f.patches[0])
	}
}

func TestReplicatorNoWorkReturnsEmpty(t *testing.T) {
	f := &fakeLTADB{bundle: nil}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := newTestComponent(t, f, srv, xfer.NewFileMove(), "file:///tmp/dest")
	if outcome := c.DoWorkClaim(context.Background()); outcome != worker.OutcomeEmpty {
		t.Fatalf("expected OutcomeEmpty, got %v", outcome)
	}
}
