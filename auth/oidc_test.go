package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WIPACrepo/lta-sub001/auth"
)

func TestClientCredentialsFetchesAndCachesToken(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "abc.def.ghi",
			"expires_in":   3600,
		})
	}))
	defer srv.Close()

	cache, err := auth.OpenCache(":memory:")
	if err != nil {
		t.Fatalf("OpenCache: %v", err)
	}
	defer cache.Close()

	cc := auth.NewClientCredentials(srv.URL, "client-id", "client-secret", cache)

	tok1, err := cc.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok1 != "abc.def.ghi" {
		t.Fatalf("unexpected token %q", tok1)
	}

	tok2, err := cc.Token(context.Background())
	if err != nil {
		t.Fatalf("Token (cached): %v", err)
	}
	if tok2 != tok1 {
		t.Fatalf("expected cached token to match, got %q vs %q", tok2, tok1)
	}
	if requests != 1 {
		t.Fatalf("expected exactly 1 token request due to in-memory caching, got %d", requests)
	}
}
