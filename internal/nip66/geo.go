package nip66

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

// GeoData is the city-level geolocation result, including a geohash for
// compact indexing (precision 9, per spec.md §4.5).
type GeoData struct {
	Country    string
	City       string
	Region     string
	Continent  string
	Latitude   float64
	Longitude  float64
	Accuracy   int
	Timezone   string
	Geohash    string
	GeonameID  uint
	IsEU       bool
}

// GeoReader wraps an open MaxMind GeoLite2/GeoIP2 city database.
type GeoReader struct {
	db *geoip2.Reader
}

func OpenGeoReader(path string) (*GeoReader, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nip66: open geo database %s: %w", path, err)
	}
	return &GeoReader{db: db}, nil
}

func (r *GeoReader) Close() error { return r.db.Close() }

// ProbeGeo looks up resolvedIP in reader's city database. Clearnet only;
// requires a caller-supplied reader.
func ProbeGeo(_ context.Context, relay models.Relay, resolvedIP string, reader *GeoReader) (GeoData, Logs) {
	if relay.IsOverlay() {
		return GeoData{}, fail("geolocation not applicable to overlay networks")
	}
	if reader == nil {
		return GeoData{}, fail("skipped: no geo database reader configured")
	}

	ip := net.ParseIP(resolvedIP)
	if ip == nil {
		return GeoData{}, fail("no resolved IP available")
	}

	record, err := reader.db.City(ip)
	if err != nil {
		return GeoData{}, fail("geo lookup failed: " + err.Error())
	}
	if record.Country.IsoCode == "" && record.City.Names["en"] == "" {
		return GeoData{}, fail("no geo data for address")
	}

	data := GeoData{
		Country:   record.Country.IsoCode,
		City:      record.City.Names["en"],
		Continent: record.Continent.Code,
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
		Accuracy:  int(record.Location.AccuracyRadius),
		Timezone:  record.Location.TimeZone,
		GeonameID: record.City.GeoNameID,
		IsEU:      record.Country.IsInEuropeanUnion,
		Geohash:   encodeGeohash(record.Location.Latitude, record.Location.Longitude, 9),
	}
	if len(record.Subdivisions) > 0 {
		data.Region = record.Subdivisions[0].IsoCode
	}
	return data, ok()
}

const geohashBase32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// encodeGeohash implements the standard geohash algorithm to the requested
// character precision.
func encodeGeohash(lat, lon float64, precision int) string {
	latRange := [2]float64{-90, 90}
	lonRange := [2]float64{-180, 180}

	var hash []byte
	bit, ch := 0, 0
	evenBit := true

	for len(hash) < precision {
		if evenBit {
			mid := (lonRange[0] + lonRange[1]) / 2
			if lon >= mid {
				ch |= 1 << (4 - bit)
				lonRange[0] = mid
			} else {
				lonRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}
		evenBit = !evenBit

		if bit < 4 {
			bit++
		} else {
			hash = append(hash, geohashBase32[ch])
			bit, ch = 0, 0
		}
	}
	return string(hash)
}
