package nip66

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

// Deps supplies everything the individual probes need. Any field may be the
// zero value; the probe that depends on it reports a "skipped" failure
// rather than raising, per spec.md §4.5.
type Deps struct {
	DialOpts   transport.Options
	RTT        RTTDeps
	SSLTimeout time.Duration
	DNS        Resolver
	Geo        *GeoReader
	Net        *ASNReader
}

// Report is the result of running a relay through the selected probes. Each
// data field is non-nil whenever its test was selected, even if the test
// failed; the matching Logs field says whether it succeeded.
type Report struct {
	RTT  *RTTData
	SSL  *SSLData
	DNS  *DNSData
	Geo  *GeoData
	Net  *NetData
	HTTP *HTTPData

	RTTLogs  RTTLogs
	SSLLogs  Logs
	DNSLogs  Logs
	GeoLogs  Logs
	NetLogs  Logs
	HTTPLogs Logs
}

// Run executes the selected tests for relay. Every test is isolated: one
// test's failure never prevents the others from running; panics are not
// recovered. DNS runs first among the independent group
// because Geo and Net need a resolved IP address; HTTP needs a connection
// handshake, so it opens its own short-lived Dial rather than reusing RTT's
// (RTT's connection may be disabled by Selection).
func Run(ctx context.Context, relay models.Relay, sel Selection, deps Deps) Report {
	var report Report

	if sel.DNS {
		data, logs := ProbeDNS(ctx, relay, deps.DNS)
		report.DNS = &data
		report.DNSLogs = logs
	} else {
		report.DNSLogs = fail("skipped: test disabled")
	}

	resolvedV4, resolvedV6 := "", ""
	if report.DNS != nil {
		if len(report.DNS.A) > 0 {
			resolvedV4 = report.DNS.A[0]
		}
		if len(report.DNS.AAAA) > 0 {
			resolvedV6 = report.DNS.AAAA[0]
		}
	}

	var g errgroup.Group

	if sel.RTT {
		g.Go(func() error {
			data, logs := ProbeRTT(ctx, relay, deps.DialOpts, deps.RTT)
			report.RTT = &data
			report.RTTLogs = logs
			return nil
		})
	} else {
		report.RTTLogs = RTTLogs{Open: fail("skipped: test disabled")}
	}

	if sel.SSL {
		g.Go(func() error {
			data, logs := ProbeSSL(ctx, relay, deps.SSLTimeout)
			report.SSL = &data
			report.SSLLogs = logs
			return nil
		})
	} else {
		report.SSLLogs = fail("skipped: test disabled")
	}

	if sel.Geo {
		g.Go(func() error {
			ip := preferredIP(resolvedV4, resolvedV6)
			data, logs := ProbeGeo(ctx, relay, ip, deps.Geo)
			report.Geo = &data
			report.GeoLogs = logs
			return nil
		})
	} else {
		report.GeoLogs = fail("skipped: test disabled")
	}

	if sel.Net {
		g.Go(func() error {
			data, logs := ProbeNet(ctx, relay, resolvedV4, resolvedV6, deps.Net)
			report.Net = &data
			report.NetLogs = logs
			return nil
		})
	} else {
		report.NetLogs = fail("skipped: test disabled")
	}

	if sel.HTTP {
		g.Go(func() error {
			data, logs := probeHTTPViaHandshake(ctx, relay, deps.DialOpts)
			report.HTTP = &data
			report.HTTPLogs = logs
			return nil
		})
	} else {
		report.HTTPLogs = fail("skipped: test disabled")
	}

	_ = g.Wait() // stage functions never return errors; isolation happens inside each one

	return report
}

func probeHTTPViaHandshake(ctx context.Context, relay models.Relay, opts transport.Options) (HTTPData, Logs) {
	conn, err := transport.Dial(ctx, relay, opts)
	if err != nil {
		return HTTPData{}, fail("handshake failed: " + err.Error())
	}
	defer conn.Close()
	return ProbeHTTP(conn.HandshakeHeader)
}

func preferredIP(v4, v6 string) string {
	if v4 != "" {
		return v4
	}
	return v6
}
