// internal/infra/webmeta/fetcher_test.go
package webmeta

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantTitle string
		wantPrice string
	}{
		{
			name:      "title and price",
			status:    http.StatusOK,
			body:      `<html><head><title> Cool Gadget </title></head><body>Only $49.99 today!</body></html>`,
			wantTitle: "Cool Gadget",
			wantPrice: "$49.99",
		},
		{
			name:      "title with attributes",
			status:    http.StatusOK,
			body:      `<title data-test="x">Gadget</title>`,
			wantTitle: "Gadget",
		},
		{
			name:      "price with space after dollar sign",
			status:    http.StatusOK,
			body:      `costs $ 15`,
			wantPrice: "$15",
		},
		{
			name:   "no metadata",
			status: http.StatusOK,
			body:   `<html><body>nothing useful</body></html>`,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `<title>Error Page</title>`,
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `<title>404</title>`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.status, tc.body)
			f := NewFetcher()
			got := f.Fetch(context.Background(), srv.URL)
			if got.Title != tc.wantTitle {
				t.Errorf("Title = %q, want %q", got.Title, tc.wantTitle)
			}
			if got.Price != tc.wantPrice {
				t.Errorf("Price = %q, want %q", got.Price, tc.wantPrice)
			}
		})
	}
}

func TestFetchUnreachableHost(t *testing.T) {
	f := NewFetcher()
	got := f.Fetch(context.Background(), "http://127.0.0.1:1/nope")
	if got != (Meta{}) {
		t.Errorf("unreachable host: got %+v, want empty Meta", got)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	f := NewFetcher()
	got := f.Fetch(context.Background(), "://not-a-url")
	if got != (Meta{}) {
		t.Errorf("invalid url: got %+v, want empty Meta", got)
	}
}
