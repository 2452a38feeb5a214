package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr/funcr"
)

func TestCheckLatest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Version":"v1.4.0"}`))
	}))
	t.Cleanup(server.Close)

	old := latestEndpoint
	latestEndpoint = server.URL
	t.Cleanup(func() { latestEndpoint = old })

	var logged []string
	log := funcr.New(func(prefix, args string) {
		logged = append(logged, args)
	}, funcr.Options{})

	CheckLatest(context.Background(), "v1.2.0", log)
	if len(logged) != 1 {
		t.Fatalf("older build must log the newer release, got %v", logged)
	}

	logged = nil
	CheckLatest(context.Background(), "v1.4.0", log)
	if len(logged) != 0 {
		t.Fatalf("up-to-date build must stay quiet, got %v", logged)
	}

	// Garbage versions never log and never panic.
	logged = nil
	CheckLatest(context.Background(), "dev", log)
	if len(logged) != 0 {
		t.Fatalf("unparseable build version must stay quiet")
	}
}

func TestCheckLatestSilentOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	old := latestEndpoint
	latestEndpoint = server.URL
	t.Cleanup(func() { latestEndpoint = old })

	var logged []string
	log := funcr.New(func(prefix, args string) {
		logged = append(logged, args)
	}, funcr.Options{})

	CheckLatest(context.Background(), "v1.0.0", log)
	if len(logged) != 0 {
		t.Fatalf("server failure must stay silent, got %v", logged)
	}
}
