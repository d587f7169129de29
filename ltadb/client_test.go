package ltadb_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(context.Context) (string, error) { return s.token, nil }

func TestPopTransferRequestNoWork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"transfer_request": nil})
	}))
	defer srv.Close()

	c := ltadb.New(srv.URL, staticTokens{"test-token"}, 0)
	_, err := c.PopTransferRequest(context.Background(), "WIPAC", "NERSC", "picker-1")
	if err != ltadb.ErrNoWork {
		t.Fatalf("expected ErrNoWork, got %v", err)
	}
}

func TestPopBundleReturnsClaim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"bundle": map[string]any{"uuid": "abc-123", "status": "specified", "file_count": 3},
		})
	}))
	defer srv.Close()

	c := ltadb.New(srv.URL, staticTokens{"test-token"}, 0)
	b, err := c.PopBundle(context.Background(), "WIPAC", "NERSC", lta.BundleSpecified, "bundler-1")
	if err != nil {
		t.Fatalf("PopBundle: %v", err)
	}
	if b.UUID != "abc-123" || b.FileCount != 3 {
		t.Fatalf("unexpected bundle: %+v", b)
	}
}

func TestBulkCreateMetadataChunking(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var body struct {
			Files []string `json:"files"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"count": len(body.Files)})
	}))
	defer srv.Close()

	files := make([]string, 2500)
	for i := range files {
		files[i] = "file-uuid"
	}

	c := ltadb.New(srv.URL, staticTokens{"test-token"}, 0)
	n, err := c.BulkCreateMetadata(context.Background(), "bundle-uuid", files)
	if err != nil {
		t.Fatalf("BulkCreateMetadata: %v", err)
	}
	if n != len(files) {
		t.Fatalf("expected %d rows created, got %d", len(files), n)
	}
	if calls != 3 {
		t.Fatalf("expected 3 chunked calls for 2500 files, got %d", calls)
	}
}

func TestAllMetadataStopsOnShortPage(t *testing.T) {
	pages := [][]lta.Metadata{
		make([]lta.Metadata, 1000),
		make([]lta.Metadata, 1000),
		make([]lta.Metadata, 137),
	}
	var served int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		page := pages[served]
		served++
		json.NewEncoder(w).Encode(map[string]any{"results": page})
	}))
	defer srv.Close()

	c := ltadb.New(srv.URL, staticTokens{"test-token"}, 0)
	var total int
	err := c.AllMetadata(context.Background(), "bundle-uuid", 1000, func(page []lta.Metadata) error {
		total += len(page)
		return nil
	})
	if err != nil {
		t.Fatalf("AllMetadata: %v", err)
	}
	if total != 2137 {
		t.Fatalf("expected 2137 rows across 3 pages, got %d", total)
	}
	if served != 3 {
		t.Fatalf("expected 3 page requests, got %d", served)
	}
}
