package nip66

import (
	"net/http"
)

// HTTPData captures the handshake response headers spec.md asks for. Works
// for both clearnet and overlay relays (via proxy), since it only reads
// headers already obtained during the WebSocket upgrade.
type HTTPData struct {
	Server       string
	XPoweredBy   string
}

// ProbeHTTP extracts Server/X-Powered-By from a relay's WebSocket upgrade
// response headers, captured by the caller during Dial.
func ProbeHTTP(headers http.Header) (HTTPData, Logs) {
	if headers == nil {
		return HTTPData{}, fail("no handshake response headers available")
	}
	data := HTTPData{
		Server:     headers.Get("Server"),
		XPoweredBy: headers.Get("X-Powered-By"),
	}
	if data.Server == "" && data.XPoweredBy == "" {
		return data, fail("no identifying headers present")
	}
	return data, ok()
}
