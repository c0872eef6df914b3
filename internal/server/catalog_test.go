package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

var testEndpoints = []Endpoint{
	{ID: 1, Name: "Frankfurt", Sponsor: "ExampleNet", Country: "DE", Host: "fra.example.net:8081", URL: "https://fra.example.net:8080", Lat: 50.11, Lon: 8.68},
	{ID: 2, Name: "Singapore", Country: "SG", Host: "sin.example.net:8081", URL: "https://sin.example.net:8080", Lat: 1.35, Lon: 103.82},
	{ID: 3, Name: "New York", Country: "US", Host: "nyc.example.net:8081", URL: "https://nyc.example.net:8080", Lat: 40.71, Lon: -74.01},
}

func TestEndpointURLs(t *testing.T) {
	ep := testEndpoints[0]
	if got := ep.DownloadURL(); got != "https://fra.example.net:8080/download" {
		t.Fatalf("unexpected download URL: %s", got)
	}
	if got := ep.UploadURL(); got != "https://fra.example.net:8080/upload" {
		t.Fatalf("unexpected upload URL: %s", got)
	}
	if got := ep.Label(); got != "Frankfurt (ExampleNet)" {
		t.Fatalf("unexpected label: %s", got)
	}
	if got := testEndpoints[1].Label(); got != "Singapore" {
		t.Fatalf("label without sponsor: %s", got)
	}
}

func TestCatalogByID(t *testing.T) {
	catalog := NewCatalog(testEndpoints)
	ep, ok := catalog.ByID(2)
	if !ok || ep.Name != "Singapore" {
		t.Fatalf("expected Singapore, got %+v ok=%v", ep, ok)
	}
	if _, ok := catalog.ByID(99); ok {
		t.Fatalf("unknown ID must not resolve")
	}
}

func TestCatalogRankOrdersByDistance(t *testing.T) {
	catalog := NewCatalog(testEndpoints)

	// Berlin: Frankfurt first, New York second, Singapore last.
	ranked := catalog.Rank(52.52, 13.40)
	if ranked[0].Name != "Frankfurt" || ranked[2].Name != "Singapore" {
		t.Fatalf("unexpected ranking: %s, %s, %s", ranked[0].Name, ranked[1].Name, ranked[2].Name)
	}
	for i := 1; i < len(ranked); i++ {
		if ranked[i].DistanceKm < ranked[i-1].DistanceKm {
			t.Fatalf("distances out of order: %v", ranked)
		}
	}
	// Berlin to Frankfurt is roughly 420 km.
	if math.Abs(ranked[0].DistanceKm-420) > 50 {
		t.Fatalf("implausible Berlin-Frankfurt distance: %.0f km", ranked[0].DistanceKm)
	}

	nearest, err := catalog.Nearest(52.52, 13.40)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nearest.Name != "Frankfurt" {
		t.Fatalf("expected Frankfurt nearest to Berlin, got %s", nearest.Name)
	}
}

func TestNearestEmptyCatalog(t *testing.T) {
	_, err := NewCatalog(nil).Nearest(0, 0)
	if !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	body := `
- id: 1
  name: Frankfurt
  sponsor: ExampleNet
  country: DE
  host: fra.example.net:8081
  url: https://fra.example.net:8080
  lat: 50.11
  lon: 8.68
- id: 2
  name: Singapore
  country: SG
  host: sin.example.net:8081
  url: https://sin.example.net:8080
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	catalog, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(catalog.All()) != 2 {
		t.Fatalf("expected 2 endpoints, got %d", len(catalog.All()))
	}
	ep, ok := catalog.ByID(1)
	if !ok || ep.Host != "fra.example.net:8081" {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
}

func TestLoadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	if err := os.WriteFile(path, []byte("[]"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":5,"name":"Tokyo","country":"JP","host":"tyo.example.net:8081","url":"https://tyo.example.net:8080"}]`))
	}))
	defer srv.Close()

	catalog, err := Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ep, ok := catalog.ByID(5)
	if !ok || ep.Name != "Tokyo" {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for 500 response")
	}
}

func TestDistanceKm(t *testing.T) {
	// London to Paris, roughly 344 km.
	d := distanceKm(51.5074, -0.1278, 48.8566, 2.3522)
	if math.Abs(d-344) > 20 {
		t.Fatalf("implausible London-Paris distance: %.0f km", d)
	}
	if got := distanceKm(10, 20, 10, 20); got > 0.001 {
		t.Fatalf("identical points must be at distance 0, got %v", got)
	}
}
