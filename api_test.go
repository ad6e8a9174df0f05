package supportchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSendRequestGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method: got %s", r.Method)
		}
		if got := r.URL.Query().Get("q"); got != "billing" {
			t.Errorf("query q: got %q", got)
		}
		if r.URL.Query().Has("n") {
			t.Errorf("non-string parameter sent in the query")
		}
		if r.Header.Get("ASAPP-ClientType") != "consumer-go-sdk" {
			t.Errorf("header: got %q", r.Header.Get("ASAPP-ClientType"))
		}
		w.Write([]byte(`{"items":[1,2]}`))
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set("ASAPP-ClientType", "consumer-go-sdk")
	c := NewHTTPClient(h, srv.Client(), nil)

	got, err := c.SendRequest(testContext(t), http.MethodGet, srv.URL+"/search", map[string]any{"q": "billing", "n": 3})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"items": []any{float64(1), float64(2)}}, got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
}

func TestSendRequestPOST(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: got %q", ct)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{"echo": body["n"]})
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, srv.Client(), nil)
	got, err := c.SendRequest(testContext(t), http.MethodPost, srv.URL, map[string]any{"n": 3})
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if got["echo"] != float64(3) {
		t.Errorf("echo: got %v", got["echo"])
	}
}

func TestSendRequestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, srv.Client(), nil)
	_, err := c.SendRequest(testContext(t), http.MethodPost, srv.URL, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error: got %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Body != "nope\n" {
		t.Errorf("APIError: %+v", apiErr)
	}
}

func TestSendRequestNonObjectBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1,2,3]`))
	}))
	defer srv.Close()

	c := NewHTTPClient(nil, srv.Client(), nil)
	got, err := c.SendRequest(testContext(t), http.MethodGet, srv.URL, nil)
	if err != nil || got != nil {
		t.Errorf("got %v, %v; want nil, nil", got, err)
	}
}

// testContext mirrors testing.T.Context (Go 1.24+): a context canceled when
// the test finishes.
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
