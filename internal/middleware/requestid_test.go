package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func serveWithID(t *testing.T, incoming string) (ctxID, headerID string, rec *httptest.ResponseRecorder) {
	t.Helper()
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = GetRequestID(r.Context())
		headerID = r.Header.Get("X-Request-ID")
	}))

	req := httptest.NewRequest("GET", "/user/octocat", nil)
	if incoming != "" {
		req.Header.Set("X-Request-ID", incoming)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return ctxID, headerID, rec
}

func TestRequestID_GeneratesUUID(t *testing.T) {
	ctxID, headerID, rec := serveWithID(t, "")

	parsed, err := uuid.Parse(ctxID)
	if err != nil {
		t.Fatalf("expected UUID, got %q: %v", ctxID, err)
	}
	if parsed.Version() != 4 {
		t.Errorf("expected UUID v4, got version %d", parsed.Version())
	}
	if headerID != ctxID {
		t.Errorf("request header %q != context ID %q", headerID, ctxID)
	}
	if got := rec.Header().Get("X-Request-ID"); got != ctxID {
		t.Errorf("response header %q != context ID %q", got, ctxID)
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	const existing = "frontend-abc-123"

	ctxID, _, rec := serveWithID(t, existing)

	if ctxID != existing {
		t.Errorf("expected preserved ID %q, got %q", existing, ctxID)
	}
	if got := rec.Header().Get("X-Request-ID"); got != existing {
		t.Errorf("response header %q != existing ID %q", got, existing)
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	long := strings.Repeat("x", maxRequestIDLen+1)

	ctxID, _, _ := serveWithID(t, long)

	if ctxID == long {
		t.Fatal("oversized request ID should be replaced")
	}
	if _, err := uuid.Parse(ctxID); err != nil {
		t.Errorf("expected generated UUID, got %q", ctxID)
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	ids := make(map[string]bool)

	for i := 0; i < 100; i++ {
		id, _, _ := serveWithID(t, "")
		if ids[id] {
			t.Fatalf("duplicate request ID generated: %s", id)
		}
		ids[id] = true
	}
}

func TestGetRequestID_EmptyContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/test", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("expected empty string for context without request ID, got %q", id)
	}
}
