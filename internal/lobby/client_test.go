package lobby

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestAnnounceBuildsExpectedQueryAndAuth(t *testing.T) {
	var gotQuery, gotUser, gotAgent string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUser, _, gotOK = r.BasicAuth()
		gotAgent = r.UserAgent()
	}))
	defer srv.Close()

	c := New(time.Second)
	err := c.Announce(context.Background(), srv.URL, AnnounceParams{
		Port: 12345, Name: "room1", Pin: 42, ServerJitter: 1.25, Group: "g", Version: "1.0",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !gotOK || gotUser != "room" {
		t.Fatalf("expected basic auth room:room, got user=%q ok=%v", gotUser, gotOK)
	}
	if gotAgent != userAgent {
		t.Fatalf("expected user agent %q, got %q", userAgent, gotAgent)
	}
	if gotQuery == "" {
		t.Fatal("expected non-empty query string")
	}
	q, err := url.ParseQuery(gotQuery)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"port": "12345", "name": "room1", "pin": "42", "srvjit": "1.2", "grp": "g", "version": "1.0",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Fatalf("expected %s=%q, got %q (query %q)", k, v, got, gotQuery)
		}
	}
	if q.Has("empty") {
		t.Fatalf("did not expect empty flag, got query %q", gotQuery)
	}
}

func TestAnnounceEmptyFlag(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
	}))
	defer srv.Close()

	c := New(time.Second)
	if err := c.Announce(context.Background(), srv.URL, AnnounceParams{Empty: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(gotQuery, "empty=1") {
		t.Fatalf("expected empty=1 in query, got %q", gotQuery)
	}
}

func TestNonEmptyBodyIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nope"))
	}))
	defer srv.Close()

	c := New(time.Second)
	if err := c.Announce(context.Background(), srv.URL, AnnounceParams{}); err == nil {
		t.Fatal("expected error for non-empty body")
	}
}

func TestHTTPErrorStatusIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(time.Second)
	if err := c.ReportLatency(context.Background(), srv.URL, LatencyParams{}); err == nil {
		t.Fatal("expected error for 500 status")
	}
}
