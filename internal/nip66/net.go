package nip66

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

// NetData is the ASN/network result for resolved IPv4 and IPv6 addresses.
// Failure of one address family does not erase the other's data; IPv4 ASN
// takes precedence when both resolve (spec.md §4.5).
type NetData struct {
	ASN       uint
	ASNOrg    string
	NetworkV4 string
	NetworkV6 string
}

// ASNReader wraps an open MaxMind ASN database. Opened via maxminddb
// directly (rather than geoip2.Reader) because the network CIDR spec.md
// asks for comes from maxminddb's LookupNetwork, not from any field on
// geoip2's ASN record.
type ASNReader struct {
	db *maxminddb.Reader
}

func OpenASNReader(path string) (*ASNReader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nip66: open asn database %s: %w", path, err)
	}
	return &ASNReader{db: db}, nil
}

func (r *ASNReader) Close() error { return r.db.Close() }

// asnRecord mirrors the fields of MaxMind's ASN database schema that
// geoip2.ASN also decodes; LookupNetwork additionally returns the network
// the lookup resolved within.
type asnRecord struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

// ProbeNet resolves ASN/network ownership for the given IPv4 and/or IPv6
// addresses. Either may be empty if that address family didn't resolve.
func ProbeNet(_ context.Context, relay models.Relay, ipv4, ipv6 string, reader *ASNReader) (NetData, Logs) {
	if relay.IsOverlay() {
		return NetData{}, fail("ASN lookup not applicable to overlay networks")
	}
	if reader == nil {
		return NetData{}, fail("skipped: no ASN database reader configured")
	}
	if ipv4 == "" && ipv6 == "" {
		return NetData{}, fail("no resolved IP available")
	}

	var data NetData
	resolvedAny := false

	if ipv4 != "" {
		if asn, network, err := lookupASN(reader, ipv4); err == nil {
			data.ASN = asn.AutonomousSystemNumber
			data.ASNOrg = asn.AutonomousSystemOrganization
			data.NetworkV4 = network
			resolvedAny = true
		}
	}
	if ipv6 != "" {
		if asn, network, err := lookupASN(reader, ipv6); err == nil {
			data.NetworkV6 = network
			// IPv4 ASN takes precedence; only fill ASN/org from v6 if v4
			// didn't resolve.
			if !resolvedAny {
				data.ASN = asn.AutonomousSystemNumber
				data.ASNOrg = asn.AutonomousSystemOrganization
			}
			resolvedAny = true
		}
	}

	if !resolvedAny {
		return data, fail("ASN lookup failed for all resolved addresses")
	}
	return data, ok()
}

func lookupASN(reader *ASNReader, address string) (asnRecord, string, error) {
	ip := net.ParseIP(address)
	if ip == nil {
		return asnRecord{}, "", fmt.Errorf("invalid IP %q", address)
	}

	var rec asnRecord
	network, ok, err := reader.db.LookupNetwork(ip, &rec)
	if err != nil {
		return asnRecord{}, "", err
	}
	if !ok {
		return asnRecord{}, "", fmt.Errorf("no ASN record for %q", address)
	}

	netStr := ""
	if network != nil {
		netStr = network.String()
	}
	return rec, netStr, nil
}
