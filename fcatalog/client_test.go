package fcatalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WIPACrepo/lta-sub001/fcatalog"
)

type staticTokens struct{ token string }

func (s staticTokens) Token(context.Context) (string, error) { return s.token, nil }

func TestAllPagesStopsOnEmptyPage(t *testing.T) {
	pages := [][]fcatalog.File{
		{{"uuid": "a"}, {"uuid": "b"}},
		{{"uuid": "c"}},
		{},
	}
	var served int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		page := pages[served]
		served++
		json.NewEncoder(w).Encode(map[string]any{"files": page})
	}))
	defer srv.Close()

	c := fcatalog.New(srv.URL, staticTokens{"tok"}, 0)
	var uuids []string
	sel := fcatalog.SelectorSiteAndPath("WIPAC", "/data/exp", nil)
	err := c.AllPages(context.Background(), sel, []string{"uuid"}, 2, func(page []fcatalog.File) error {
		for _, f := range page {
			uuids = append(uuids, f.UUID())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("AllPages: %v", err)
	}
	if len(uuids) != 3 {
		t.Fatalf("expected 3 files across pages, got %d: %v", len(uuids), uuids)
	}
}

func TestFileSizeHandlesJSONNumber(t *testing.T) {
	f := fcatalog.File{"file_size": float64(12345)}
	if f.FileSize() != 12345 {
		t.Fatalf("FileSize() = %d, want 12345", f.FileSize())
	}
}

func TestSelectorSiteAndPathWithArchiveFilter(t *testing.T) {
	archive := true
	sel := fcatalog.SelectorSiteAndPath("NERSC", "/data/exp/foo", &archive)
	loc, ok := sel["locations.archive"].(map[string]any)
	if !ok {
		t.Fatalf("expected locations.archive selector, got %#v", sel["locations.archive"])
	}
	if loc["$eq"] != true {
		t.Fatalf("expected archive=true filter, got %#v", loc)
	}
}

func TestGetFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/files/xyz" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"uuid": "xyz", "logical_name": "/data/exp/foo/bar.dat"})
	}))
	defer srv.Close()

	c := fcatalog.New(srv.URL, staticTokens{"tok"}, 0)
	f, err := c.GetFile(context.Background(), "xyz")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if f.UUID() != "xyz" {
		t.Fatalf("unexpected file: %+v", f)
	}
}
