package nip66

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

// SSLData is the leaf-certificate inspection result. Clearnet only; overlay
// relays return a failure with an explicit reason (spec.md §4.5).
type SSLData struct {
	Valid       bool
	Issuer      string
	Subject     string
	SAN         []string
	Protocol    string
	Cipher      string
	Fingerprint string
	NotBefore   int64
	NotAfter    int64
	Serial      string
	Version     int
}

// ProbeSSL performs a TLS handshake against relay.Host():port and inspects
// the leaf certificate.
func ProbeSSL(ctx context.Context, relay models.Relay, timeout time.Duration) (SSLData, Logs) {
	if relay.IsOverlay() {
		return SSLData{}, fail("SSL inspection not applicable to overlay networks")
	}

	dialer := &net.Dialer{Timeout: timeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(relay.Host(), relay.Port()))
	if err != nil {
		return SSLData{}, fail("tcp dial failed: " + err.Error())
	}
	defer rawConn.Close()

	tlsConn := tls.Client(rawConn, &tls.Config{ServerName: relay.Host(), InsecureSkipVerify: true}) //nolint:gosec // inspecting, not trusting
	if deadline, ok := ctx.Deadline(); ok {
		_ = tlsConn.SetDeadline(deadline)
	}
	if err := tlsConn.Handshake(); err != nil {
		return SSLData{}, fail("tls handshake failed: " + err.Error())
	}
	defer tlsConn.Close()

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return SSLData{}, fail("no peer certificates presented")
	}
	leaf := state.PeerCertificates[0]

	valid := true
	verifyErr := ""
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: relay.Host()}); err != nil {
		valid = false
		verifyErr = err.Error()
	}

	fingerprint := sha256.Sum256(leaf.Raw)

	data := SSLData{
		Valid:       valid,
		Issuer:      leaf.Issuer.String(),
		Subject:     leaf.Subject.String(),
		SAN:         leaf.DNSNames,
		Protocol:    tlsVersionName(state.Version),
		Cipher:      tls.CipherSuiteName(state.CipherSuite),
		Fingerprint: hex.EncodeToString(fingerprint[:]),
		NotBefore:   leaf.NotBefore.Unix(),
		NotAfter:    leaf.NotAfter.Unix(),
		Serial:      leaf.SerialNumber.String(),
		Version:     leaf.Version,
	}

	if !valid {
		return data, fail("certificate failed verification: " + verifyErr)
	}
	return data, ok()
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS13:
		return "TLS 1.3"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS10:
		return "TLS 1.0"
	default:
		return fmt.Sprintf("unknown (0x%04x)", v)
	}
}
