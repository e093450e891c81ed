package feeder

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleRun(t *testing.T) {
	store := newTestStore(t)
	writeCatalog(t, store, "inventory/granule_report.parquet", []string{"A", "B"})

	backend := &fakeBackend{capacity: true}
	f, _ := newTestFeeder(t, store, backend)
	server := httptest.NewServer(f.Router())
	defer server.Close()

	resp, err := http.Post(server.URL+"/run", "application/json", strings.NewReader(`{"granule_submit_count": 1}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}

	var result RunResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Submitted != 1 || result.RunID == "" {
		t.Fatalf("result: %+v", result)
	}
}

func TestHandleRunEmptyBody(t *testing.T) {
	store := newTestStore(t)
	writeCatalog(t, store, "inventory/granule_report.parquet", []string{"A"})

	backend := &fakeBackend{capacity: true}
	f, _ := newTestFeeder(t, store, backend)
	server := httptest.NewServer(f.Router())
	defer server.Close()

	resp, err := http.Post(server.URL+"/run", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestHandleRunBadJSON(t *testing.T) {
	store := newTestStore(t)
	backend := &fakeBackend{capacity: true}
	f, _ := newTestFeeder(t, store, backend)
	server := httptest.NewServer(f.Router())
	defer server.Close()

	resp, err := http.Post(server.URL+"/run", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
