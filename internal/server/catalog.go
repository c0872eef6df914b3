// Package server supplies the endpoint descriptors the engine tests
// against: a catalog loaded from disk or fetched remotely, ranked by
// distance from the client's location.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-resty/resty/v2"
	"gopkg.in/yaml.v3"
)

// Endpoint describes one test server. Immutable for the duration of a run.
type Endpoint struct {
	ID      int     `yaml:"id" json:"id"`
	Name    string  `yaml:"name" json:"name"`
	Sponsor string  `yaml:"sponsor" json:"sponsor"`
	Country string  `yaml:"country" json:"country"`
	// Host is the host:port of the echo service used by the latency
	// prober.
	Host string `yaml:"host" json:"host"`
	// URL is the base URL for transfer streams; /download and /upload
	// are resolved against it.
	URL string  `yaml:"url" json:"url"`
	Lat float64 `yaml:"lat" json:"lat"`
	Lon float64 `yaml:"lon" json:"lon"`
	// DistanceKm is filled in by ranking; zero when the client location
	// is unknown.
	DistanceKm float64 `yaml:"-" json:"distance_km"`
}

// DownloadURL returns the transfer URL for download streams.
func (e Endpoint) DownloadURL() string { return e.URL + "/download" }

// UploadURL returns the transfer URL for upload streams.
func (e Endpoint) UploadURL() string { return e.URL + "/upload" }

func (e Endpoint) Label() string {
	if e.Sponsor != "" {
		return fmt.Sprintf("%s (%s)", e.Name, e.Sponsor)
	}
	return e.Name
}

var ErrNoEndpoints = errors.New("server: catalog is empty")

// Catalog is an immutable set of endpoints.
type Catalog struct {
	endpoints []Endpoint
}

func NewCatalog(endpoints []Endpoint) *Catalog {
	return &Catalog{endpoints: endpoints}
}

// LoadFile reads a YAML endpoint list from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server: read catalog: %w", err)
	}
	var endpoints []Endpoint
	if err := yaml.Unmarshal(data, &endpoints); err != nil {
		return nil, fmt.Errorf("server: parse catalog: %w", err)
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return NewCatalog(endpoints), nil
}

// Fetch retrieves a JSON endpoint list from a catalog service.
func Fetch(ctx context.Context, url string) (*Catalog, error) {
	var endpoints []Endpoint
	resp, err := resty.New().R().
		SetContext(ctx).
		SetResult(&endpoints).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("server: fetch catalog: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("server: fetch catalog: status %s", resp.Status())
	}
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return NewCatalog(endpoints), nil
}

// All returns the endpoints in catalog order.
func (c *Catalog) All() []Endpoint {
	out := make([]Endpoint, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// ByID looks up an endpoint by its catalog ID.
func (c *Catalog) ByID(id int) (Endpoint, bool) {
	for _, e := range c.endpoints {
		if e.ID == id {
			return e, true
		}
	}
	return Endpoint{}, false
}

// Rank returns the endpoints ordered by distance from the given location,
// with DistanceKm filled in.
func (c *Catalog) Rank(lat, lon float64) []Endpoint {
	ranked := c.All()
	for i := range ranked {
		ranked[i].DistanceKm = distanceKm(lat, lon, ranked[i].Lat, ranked[i].Lon)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return ranked[i].DistanceKm < ranked[j].DistanceKm
	})
	return ranked
}

// Nearest picks the closest endpoint to the given location.
func (c *Catalog) Nearest(lat, lon float64) (Endpoint, error) {
	if len(c.endpoints) == 0 {
		return Endpoint{}, ErrNoEndpoints
	}
	return c.Rank(lat, lon)[0], nil
}
