package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDKeepsOrReplacesClientValue(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	cases := []struct {
		name   string
		header string
		keep   bool
	}{
		{"empty", "", false},
		{"token", "run-42_retry.1", true},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
		{"control chars", "abc\r\nX-Injected: 1", false},
		{"spaces", "two words", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		if tc.header != "" {
			req.Header.Set("X-Request-ID", tc.header)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		got := rr.Header().Get("X-Request-ID")
		if got == "" || got != seen {
			t.Fatalf("%s: header %q, context %q", tc.name, got, seen)
		}
		if tc.keep && got != tc.header {
			t.Fatalf("%s: expected client id to be kept, got %q", tc.name, got)
		}
		if !tc.keep && got == tc.header {
			t.Fatalf("%s: expected client id to be replaced", tc.name)
		}
		if len(got) > maxRequestIDLen {
			t.Fatalf("%s: id too long: %d", tc.name, len(got))
		}
	}
}
