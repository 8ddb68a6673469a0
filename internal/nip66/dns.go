package nip66

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

// DNSData carries every record type spec.md's DNS probe asks for. Per-
// record-type resolution failures are suppressed individually — the caller
// sees whatever did resolve (spec.md §4.5).
type DNSData struct {
	A     []string
	AAAA  []string
	CNAME []string
	NS    []string
	PTR   []string
	TTL   uint32
}

// Resolver abstracts the DNS server used, so tests can point at a
// disposable local server instead of a real recursive resolver.
type Resolver struct {
	ServerAddr string // host:port of a DNS server, e.g. "1.1.1.1:53"
	Timeout    time.Duration
}

// ProbeDNS resolves A/AAAA/CNAME/NS records for host, and PTR records for
// any resolved A address. Clearnet only.
func ProbeDNS(ctx context.Context, relay models.Relay, r Resolver) (DNSData, Logs) {
	if relay.IsOverlay() {
		return DNSData{}, fail("DNS resolution not applicable to overlay networks")
	}
	if r.ServerAddr == "" {
		return DNSData{}, fail("skipped: no DNS server configured")
	}

	client := &dns.Client{Timeout: r.Timeout}
	if client.Timeout == 0 {
		client.Timeout = 5 * time.Second
	}

	var data DNSData
	anyResolved := false

	if ips, ttl, ok := queryRecords(client, r.ServerAddr, relay.Host(), dns.TypeA); ok {
		data.A = ips
		data.TTL = ttl
		anyResolved = true
	}
	if ips, _, ok := queryRecords(client, r.ServerAddr, relay.Host(), dns.TypeAAAA); ok {
		data.AAAA = ips
		anyResolved = true
	}
	if names, _, ok := queryRecords(client, r.ServerAddr, relay.Host(), dns.TypeCNAME); ok {
		data.CNAME = names
		anyResolved = true
	}
	if names, _, ok := queryRecords(client, r.ServerAddr, relay.Host(), dns.TypeNS); ok {
		data.NS = names
		anyResolved = true
	}
	for _, ip := range data.A {
		if names, _, ok := reversePTR(client, r.ServerAddr, ip); ok {
			data.PTR = append(data.PTR, names...)
			anyResolved = true
		}
	}

	if !anyResolved {
		return data, fail("no DNS records resolved")
	}
	return data, ok()
}

func queryRecords(client *dns.Client, server, host string, qtype uint16) ([]string, uint32, bool) {
	if server == "" {
		return nil, 0, false
	}
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)

	resp, _, err := client.Exchange(msg, server)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return nil, 0, false
	}

	var out []string
	var ttl uint32
	for _, rr := range resp.Answer {
		ttl = rr.Header().Ttl
		switch rec := rr.(type) {
		case *dns.A:
			out = append(out, rec.A.String())
		case *dns.AAAA:
			out = append(out, rec.AAAA.String())
		case *dns.CNAME:
			out = append(out, rec.Target)
		case *dns.NS:
			out = append(out, rec.Ns)
		case *dns.PTR:
			out = append(out, rec.Ptr)
		}
	}
	if len(out) == 0 {
		return nil, 0, false
	}
	return out, ttl, true
}

func reversePTR(client *dns.Client, server, ip string) ([]string, uint32, bool) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return nil, 0, false
	}
	return queryRecords(client, server, arpa, dns.TypePTR)
}
