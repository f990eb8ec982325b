package hubclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sairen/sairen-os/internal/wire"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, "rig-1", "cred-1", "secret-1", TLSConfig{}, time.Second)
	if err != nil {
		t.Fatalf("building client: %v", err)
	}
	return c
}

func TestUpload_SendsBearerTokenAndBody(t *testing.T) {
	var gotAuth string
	var gotBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/fleet/events", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = readAll(r)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{"status":"accepted"}}`))
	})
	c := newTestClient(t, mux)

	if err := c.Upload(t.Context(), "rig-1", []byte("payload")); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotAuth != "Bearer cred-1.secret-1" {
		t.Fatalf("expected bearer token forwarded, got %q", gotAuth)
	}
	if string(gotBody) != "payload" {
		t.Fatalf("expected body forwarded, got %q", gotBody)
	}
}

func TestUpload_NonSuccessStatusBecomesTaggedError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fleet/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"data":{"error":"duplicate"}}`))
	})
	c := newTestClient(t, mux)

	err := c.Upload(t.Context(), "rig-1", []byte("payload"))
	if err == nil {
		t.Fatalf("expected an error for 409 response")
	}
}

func TestFetchLibrary_NotModifiedShortCircuits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fleet/library", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	})
	c := newTestClient(t, mux)

	_, _, _, notModified, err := c.FetchLibrary(t.Context(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !notModified {
		t.Fatalf("expected notModified=true")
	}
}

func TestFetchLibrary_AdvancesLastPullAtAcrossCalls(t *testing.T) {
	var sinceSeen []string
	mux := http.NewServeMux()
	mux.HandleFunc("/fleet/library", func(w http.ResponseWriter, r *http.Request) {
		sinceSeen = append(sinceSeen, r.URL.Query().Get("since"))
		resp := wire.LibraryResponse{Version: 3}
		body, _ := json.Marshal(struct {
			Data wire.LibraryResponse `json:"data"`
		}{Data: resp})
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
	c := newTestClient(t, mux)

	if _, _, version, _, err := c.FetchLibrary(t.Context(), 0); err != nil || version != 3 {
		t.Fatalf("first pull: version=%d err=%v", version, err)
	}
	if _, _, _, _, err := c.FetchLibrary(t.Context(), 3); err != nil {
		t.Fatalf("second pull: %v", err)
	}

	if len(sinceSeen) != 2 {
		t.Fatalf("expected two requests, got %d", len(sinceSeen))
	}
	if sinceSeen[0] != "" {
		t.Fatalf("expected first pull to omit since, got %q", sinceSeen[0])
	}
	if sinceSeen[1] == "" {
		t.Fatalf("expected second pull to carry a since cursor from the first pull's timestamp")
	}
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
