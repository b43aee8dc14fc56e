package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testStatus() Status {
	return Status{
		ClientID:         "client-1",
		SessionState:     "active",
		FramesSent:       7,
		FramesSkipped:    1,
		CapturePublished: 12,
		CaptureDropped:   4,
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := NewRouter(testStatus, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("body=%q, want ok status", rec.Body.String())
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := NewRouter(testStatus, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got != testStatus() {
		t.Fatalf("stats=%+v, want %+v", got, testStatus())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(testStatus, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("metrics output missing default collectors")
	}
}
