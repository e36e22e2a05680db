package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()

	if got := ValidateAPIKey("provided", "provided"); !got {
		t.Fatalf("expected true for matching keys")
	}
	if got := ValidateAPIKey("provided", "other"); got {
		t.Fatalf("expected false for mismatched keys")
	}
	if got := ValidateAPIKey("", "configured"); got {
		t.Fatalf("expected false for empty provided key")
	}
	if got := ValidateAPIKey("provided", ""); got {
		t.Fatalf("expected false for empty configured key")
	}
}

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	key, err := ExtractAPIKey(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if key != "test-key" {
		t.Fatalf("expected key %q, got %q", "test-key", key)
	}

	for name, header := range map[string]string{
		"missing":    "",
		"non-bearer": "Basic abc",
		"empty key":  "Bearer   ",
	} {
		req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if _, err := ExtractAPIKey(req); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
