package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	cases := []struct {
		name     string
		apiKey   string
		header   string
		value    string
		wantCode int
	}{
		{"disabled passes all", "", "", "", http.StatusOK},
		{"bearer token accepted", "secret", "Authorization", "Bearer secret", http.StatusOK},
		{"api key header accepted", "secret", "X-API-Key", "secret", http.StatusOK},
		{"missing token rejected", "secret", "", "", http.StatusUnauthorized},
		{"wrong token rejected", "secret", "X-API-Key", "nope", http.StatusUnauthorized},
		{"wrong scheme rejected", "secret", "Authorization", "Basic secret", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := Auth(tc.apiKey)(okHandler())
			r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tc.header != "" {
				r.Header.Set(tc.header, tc.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			if rec.Code != tc.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantCode)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://ops.example.com"})(okHandler())

	r := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	r.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("allow-origin = %q", got)
	}

	// Unlisted origin gets no CORS headers.
	r = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("allow-origin for unlisted origin = %q, want empty", got)
	}
}
