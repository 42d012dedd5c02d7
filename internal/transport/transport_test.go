package transport_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wattline/wattline-core/internal/transport"
)

// waitReady polls a request until it is ready or the deadline expires.
func waitReady(t *testing.T, req *transport.Request) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !req.Ready() {
		if time.Now().After(deadline) {
			t.Fatal("request never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.RawQuery != "limit=1" {
			t.Errorf("query = %q, want limit=1", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"timestamp":"2023-10-15T14:30:00Z"}]`))
	}))
	defer srv.Close()

	client := transport.New(srv.URL, time.Second)
	req := client.Get("/energy?limit=1", nil)
	waitReady(t, req)

	if req.Err() != nil {
		t.Fatalf("Err() = %v", req.Err())
	}
	if req.StatusCode() != http.StatusOK {
		t.Errorf("StatusCode() = %d, want 200", req.StatusCode())
	}
	if string(req.Body()) != `[{"timestamp":"2023-10-15T14:30:00Z"}]` {
		t.Errorf("Body() = %q", req.Body())
	}
}

func TestPost_HeadersAndBody(t *testing.T) {
	var gotAuth, gotPrefer, gotContentType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPrefer = r.Header.Get("Prefer")
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := transport.New(srv.URL, time.Second)
	req := client.Post("/energy", "text/csv", []byte("a,b,c"), map[string]string{
		"Authorization": "Bearer tok",
		"Prefer":        "return=minimal",
	})
	waitReady(t, req)

	if req.StatusCode() != http.StatusCreated {
		t.Errorf("StatusCode() = %d, want 201", req.StatusCode())
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPrefer != "return=minimal" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
	if gotContentType != "text/csv" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotBody != "a,b,c" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestTransportFailure(t *testing.T) {
	// Nothing listens here.
	client := transport.New("http://127.0.0.1:59999", 500*time.Millisecond)
	req := client.Get("/nope", nil)
	waitReady(t, req)

	if req.Err() == nil {
		t.Error("Err() = nil, want transport error")
	}
	if req.StatusCode() != 0 {
		t.Errorf("StatusCode() = %d, want 0 for transport failure", req.StatusCode())
	}
}

func TestRemoteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"duplicate key"}`))
	}))
	defer srv.Close()

	client := transport.New(srv.URL, time.Second)
	req := client.Post("/energy", "text/csv", []byte("x"), nil)
	waitReady(t, req)

	if req.Err() != nil {
		t.Errorf("Err() = %v, want nil for HTTP-level rejection", req.Err())
	}
	if req.StatusCode() != http.StatusConflict {
		t.Errorf("StatusCode() = %d, want 409", req.StatusCode())
	}
	if string(req.Body()) != `{"message":"duplicate key"}` {
		t.Errorf("Body() = %q", req.Body())
	}
}

func TestNotReadyBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := transport.New(srv.URL, 5*time.Second)
	req := client.Get("/slow", nil)

	if req.Ready() {
		t.Error("Ready() = true before server responded")
	}

	close(release)
	waitReady(t, req)
}
