package locator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/WIPACrepo/lta-sub001/fcatalog"
	"github.com/WIPACrepo/lta-sub001/locator"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

type fakeLTADB struct {
	mu      sync.Mutex
	tr      *lta.TransferRequest
	popped  bool
	created []*lta.Bundle
	patches []map[string]any
}

func (f *fakeLTADB) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/TransferRequests/actions/pop":
			if f.popped || f.tr == nil {
				json.NewEncoder(w).Encode(map[string]any{"transfer_request": nil})
				return
			}
			f.popped = true
			json.NewEncoder(w).Encode(map[string]any{"transfer_request": f.tr})
		case r.Method == http.MethodPost && r.URL.Path == "/Bundles/actions/bulk_create":
			var body struct {
				Bundles []*lta.Bundle `json:"bundles"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			uuids := make([]string, len(body.Bundles))
			for i := range body.Bundles {
				uuids[i] = "new-bundle"
				f.created = append(f.created, body.Bundles[i])
			}
			json.NewEncoder(w).Encode(map[string]any{"bundles": uuids})
		case r.Method == http.MethodPatch:
			var patch map[string]any
			json.NewDecoder(r.Body).Decode(&patch)
			f.patches = append(f.patches, patch)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

type fakeFC struct {
	files   []fcatalog.File
	archive map[string]fcatalog.File
}

func (f *fakeFC) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Path == "/api/files" {
			start := r.URL.Query().Get("start")
			if start != "0" {
				json.NewEncoder(w).Encode(map[string]any{"files": []fcatalog.File{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"files": f.files})
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/files/") {
			uuid := strings.TrimPrefix(r.URL.Path, "/api/files/")
			rec, ok := f.archive[uuid]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(rec)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestLocatorGroupsByArchivePathAndCreatesLocatedBundles(t *testing.T) {
	tr := &lta.TransferRequest{UUID: "tr-1", Source: "site-b", Dest: "site-a", Path: "/data/run1", Status: lta.TRStatusEthereal}
	ldb := &fakeLTADB{tr: tr}
	dbSrv := httptest.NewServer(ldb.handler())
	defer dbSrv.Close()

	fc := &fakeFC{files: []fcatalog.File{
		{"uuid": "fc-1", "file_size": float64(100), "locations": []any{
			map[string]any{"site": "site-b", "path": "/archive/bundle-A.zip", "archive": true},
		}},
		{"uuid": "fc-2", "file_size": float64(200), "locations": []any{
			map[string]any{"site": "site-b", "path": "/archive/bundle-A.zip", "archive": true},
		}},
		{"uuid": "fc-3", "file_size": float64(50), "locations": []any{
			map[string]any{"site": "site-b", "path": "/archive/bundle-B.zip", "archive": true},
		}},
	}, archive: map[string]fcatalog.File{
		"bundle-A": {"uuid": "bundle-A", "file_size": float64(300), "logical_name": "/archive/bundle-A.zip",
			"checksum": map[string]any{"sha512": "aaaa", "adler32": "1111"}},
		"bundle-B": {"uuid": "bundle-B", "file_size": float64(50), "logical_name": "/archive/bundle-B.zip",
			"checksum": map[string]any{"sha512": "bbbb", "adler32": "2222"}},
	}}
	fcSrv := httptest.NewServer(fc.handler())
	defer fcSrv.Close()

	dbClient := ltadb.New(dbSrv.URL, staticTokens{"t"}, 0)
	fcClient := fcatalog.New(fcSrv.URL, staticTokens{"t"}, 0)
	c := locator.New(dbClient, fcClient, "locator-1", "site-b", "site-a", 1000)

	outcome := c.DoWorkClaim(context.Background())
	if outcome != worker.OutcomeProcessed {
		t.Fatalf("expected OutcomeProcessed, got %v", outcome)
	}
	ldb.mu.Lock()
	defer ldb.mu.Unlock()
	if len(ldb.created) != 2 {
		t.Fatalf("expected 2 located bundles (one per archive path), got %d", len(ldb.created))
	}
	for _, b := range ldb.created {
		if b.Status != lta.BundleLocated {
			t.Fatalf("expected bundle status located, got %s", b.Status)
		}
		if b.Size == 0 || b.Checksum.SHA512 == "" || b.Catalog == nil {
			t.Fatalf("expected size/checksum/catalog from the archive's own record, got %+v", b)
		}
	}
	last := ldb.patches[len(ldb.patches)-1]
	if last["status"] != string(lta.TRStatusSpecified) {
		t.Fatalf("expected transfer request patched to specified, got %v", last)
	}
}

func TestLocatorQuarantinesWhenNoArchivedCopyFound(t *testing.T) {
	tr := &lta.TransferRequest{UUID: "tr-2", Source: "site-b", Dest: "site-a", Path: "/data/missing", Status: lta.TRStatusEthereal}
	ldb := &fakeLTADB{tr: tr}
	dbSrv := httptest.NewServer(ldb.handler())
	defer dbSrv.Close()

	fc := &fakeFC{files: nil}
	fcSrv := httptest.NewServer(fc.handler())
	defer fcSrv.Close()

	dbClient := ltadb.New(dbSrv.URL, staticTokens{"t"}, 0)
	fcClient := fcatalog.New(fcSrv.URL, staticTokens{"t"}, 0)
	c := locator.New(dbClient, fcClient, "locator-1", "site-b", "site-a", 1000)

	outcome := c.DoWorkClaim(context.Background())
	if outcome != worker.OutcomeQuarantined {
		t.Fatalf("expected OutcomeQuarantined, got %v", outcome)
	}
}
