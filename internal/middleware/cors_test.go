package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, allowed []string, method, origin string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/chat", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	CORS(allowed)(next).ServeHTTP(rec, req)
	return rec, reached
}

func TestCORSWildcard(t *testing.T) {
	t.Parallel()

	rec, reached := corsRequest(t, []string{"*"}, http.MethodPost, "https://example.com")
	if !reached {
		t.Error("handler not reached")
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
		t.Errorf("Allow-Origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard match must not allow credentials")
	}
}

func TestCORSExplicitOrigin(t *testing.T) {
	t.Parallel()

	allowed := []string{"https://app.example"}
	rec, _ := corsRequest(t, allowed, http.MethodPost, "https://app.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Allow-Origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("explicit origin should allow credentials")
	}

	rec, reached := corsRequest(t, allowed, http.MethodPost, "https://evil.example")
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin must not get CORS headers")
	}
	if !reached {
		t.Error("non-preflight requests still pass through")
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	t.Parallel()

	rec, reached := corsRequest(t, []string{"*"}, http.MethodOptions, "https://example.com")
	if reached {
		t.Error("preflight must not reach the handler")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("preflight status %d", rec.Code)
	}
}
