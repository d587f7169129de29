package cataloger_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/WIPACrepo/lta-sub001/cataloger"
	"github.com/WIPACrepo/lta-sub001/fcatalog"
	"github.com/WIPACrepo/lta-sub001/lta"
	"github.com/WIPACrepo/lta-sub001/ltadb"
	"github.com/WIPACrepo/lta-sub001/worker"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(ctx context.Context) (string, error) { return s.token, nil }

type fakeLTADB struct {
	mu      sync.Mutex
	bundle  *lta.Bundle
	popped  bool
	meta    []lta.Metadata
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
		case r.Method == http.MethodGet && r.URL.Path == "/Metadata":
			skip := r.URL.Query().Get("skip")
			if skip != "0" {
				json.NewEncoder(w).Encode(map[string]any{"results": []lta.Metadata{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"results": f.meta})
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
	mu        sync.Mutex
	locations map[string]int
	created   []map[string]any
}

func (f *fakeFC) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/locations") {
			uuid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/files/"), "/locations")
			if f.locations == nil {
				f.locations = map[string]int{}
			}
			f.locations[uuid]++
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/files" {
			var rec map[string]any
			json.NewDecoder(r.Body).Decode(&rec)
			f.created = append(f.created, rec)
			json.NewEncoder(w).Encode(map[string]any{"uuid": rec["uuid"]})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestCatalogerRecordsLocationsAndCompletes(t *testing.T) {
	bundle := &lta.Bundle{UUID: "b-1", Status: lta.BundleTaping, FileCount: 2, BundlePath: "/archive/b-1.zip"}
	ldb := &fakeLTADB{bundle: bundle, meta: []lta.Metadata{
		{UUID: "m-1", BundleUUID: "b-1", FileCatalogUUID: "fc-1"},
		{UUID: "m-2", BundleUUID: "b-1", FileCatalogUUID: "fc-2"},
	}}
	dbSrv := httptest.NewServer(ldb.handler())
	defer dbSrv.Close()

	fc := &fakeFC{}
	fcSrv := httptest.NewServer(fc.handler())
	defer fcSrv.Close()

	dbClient := ltadb.New(dbSrv.URL, staticTokens{"t"}, 0)
	fcClient := fcatalog.New(fcSrv.URL, staticTokens{"t"}, 0)
	c := cataloger.New(dbClient, fcClient, "cataloger-1", "site-a", "site-b")

	outcome := c.DoWorkClaim(context.Background())
	if outcome != worker.OutcomeProcessed {
		t.Fatalf("expected OutcomeProcessed, got %v", outcome)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.locations["fc-1"] != 1 || fc.locations["fc-2"] != 1 {
		t.Fatalf("expected exactly one location recorded per file, got %v", fc.locations)
	}
	if len(fc.created) != 1 || fc.created[0]["uuid"] != "b-1" {
		t.Fatalf("expected the archive bundle itself to be catalogued under its own uuid, got %v", fc.created)
	}
	ldb.mu.Lock()
	defer ldb.mu.Unlock()
	last := ldb.patches[len(ldb.patches)-1]
	if last["status"] != string(lta.BundleCompleted) {
		t.Fatalf("expected final patch to set status completed, got %v", last)
	}
	if last["verified"] != true {
		t.Fatalf("expected final patch to set verified=true, got %v", last)
	}
}

func TestCatalogerQuarantinesOnFileCountMismatch(t *testing.T) {
	bundle := &lta.Bundle{UUID: "b-2", Status: lta.BundleTaping, FileCount: 5, BundlePath: "/archive/b-2.zip"}
	ldb := &fakeLTADB{bundle: bundle, meta: []lta.Metadata{
		{UUID: "m-1", BundleUUID: "b-2", FileCatalogUUID: "fc-1"},
	}}
	dbSrv := httptest.NewServer(ldb.handler())
	defer dbSrv.Close()
	fc := &fakeFC{}
	fcSrv := httptest.NewServer(fc.handler())
	defer fcSrv.Close()

	dbClient := ltadb.New(dbSrv.URL, staticTokens{"t"}, 0)
	fcClient := fcatalog.New(fcSrv.URL, staticTokens{"t"}, 0)
	c := cataloger.New(dbClient, fcClient, "cataloger-1", "site-a", "site-b")

	outcome := c.DoWorkClaim(context.Background())
	if outcome != worker.OutcomeQuarantined {
		t.Fatalf("expected OutcomeQuarantined, got %v", outcome)
	}
}
