package server

import (
	"fmt"
	"math"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

const earthRadiusKm = 6371.0

// distanceKm is the haversine great-circle distance between two points.
func distanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Locator resolves an IP address to coordinates using a MaxMind database.
type Locator struct {
	db *maxminddb.Reader
}

func OpenLocator(path string) (*Locator, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("server: open geo database: %w", err)
	}
	return &Locator{db: db}, nil
}

func (l *Locator) Close() error {
	return l.db.Close()
}

// Lookup returns the coordinates recorded for ip.
func (l *Locator) Lookup(ip net.IP) (lat, lon float64, err error) {
	var record struct {
		Location struct {
			Latitude  float64 `maxminddb:"latitude"`
			Longitude float64 `maxminddb:"longitude"`
		} `maxminddb:"location"`
	}
	if err := l.db.Lookup(ip, &record); err != nil {
		return 0, 0, fmt.Errorf("server: geo lookup: %w", err)
	}
	return record.Location.Latitude, record.Location.Longitude, nil
}
