package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:8080/"})

	if client.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", client.baseURL)
	}
	if client.maxRetries != 2 {
		t.Errorf("default maxRetries = %d, want 2", client.maxRetries)
	}
}

func TestClient_GetJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("address") != "Via Roma 1" {
			t.Errorf("query not forwarded: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"status":"OK"}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Backoff: time.Millisecond})
	body, err := client.GetJSON(context.Background(), "/geocode/json", url.Values{"address": {"Via Roma 1"}})
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if string(body) != `{"status":"OK"}` {
		t.Fatalf("unexpected body %s", body)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestClient_GetJSONClientErrorNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL, Backoff: time.Millisecond})
	_, err := client.GetJSON(context.Background(), "/x", nil)
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected 400 error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestReadAllStrict(t *testing.T) {
	if _, err := ReadAllStrict(strings.NewReader("abcdef"), 3); err == nil {
		t.Fatalf("expected limit error")
	}
	data, err := ReadAllStrict(strings.NewReader("abc"), 3)
	if err != nil || string(data) != "abc" {
		t.Fatalf("unexpected %q %v", data, err)
	}
}
