// Package nip11 fetches and permissively parses a relay's NIP-11 relay
// information document, per spec.md §4.4.
package nip11

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

const maxBodyBytes = 64 * 1024

// Result carries the parsed info document (if any) and a logs block,
// mirroring spec.md's "(data, logs); success=true <=> reason=null"
// invariant.
type Result struct {
	Info    map[string]any
	Success bool
	Reason  string
}

// Options configures a single fetch attempt.
type Options struct {
	AllowInsecure bool
	Timeout       time.Duration
}

// Fetch retrieves and parses relay's NIP-11 document. It never returns a Go
// error for relay-side failures — those are reported through Result.
func Fetch(ctx context.Context, relay models.Relay, opts Options) Result {
	httpURL := toHTTPURL(relay)

	client := httpClient(relay, opts)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return Result{Success: false, Reason: "invalid request: " + err.Error()}
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{Success: false, Reason: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Success: false, Reason: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/nostr+json") && !strings.Contains(contentType, "application/json") {
		return Result{Success: false, Reason: "unexpected content-type " + contentType}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return Result{Success: false, Reason: "read body failed: " + err.Error()}
	}
	if len(body) > maxBodyBytes {
		return Result{Success: false, Reason: "body exceeds 64 KiB limit"}
	}

	if !gjson.ValidBytes(body) {
		return Result{Success: false, Reason: "invalid JSON body"}
	}

	info := parsePermissive(body)
	return Result{Info: info, Success: true}
}

func toHTTPURL(relay models.Relay) string {
	scheme := "http"
	if relay.Scheme() == models.SchemeWSS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%s%s", scheme, relay.Host(), relay.Port(), relay.Path())
}

func httpClient(relay models.Relay, opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	// overlay hosts always use an insecure TLS context; the overlay network
	// itself provides the encryption (spec.md §4.4).
	insecure := opts.AllowInsecure || relay.IsOverlay()
	if !insecure {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		},
	}
}

var stringFields = []string{
	"name", "description", "pubkey", "contact", "software", "version", "icon",
	"privacy_policy", "terms_of_service", "payments_url",
}

var arrayFields = []string{"supported_nips", "relay_countries", "language_tags", "tags"}

func parsePermissive(body []byte) map[string]any {
	out := map[string]any{}
	root := gjson.ParseBytes(body)

	for _, field := range stringFields {
		v := root.Get(field)
		if v.Exists() && v.Type == gjson.String {
			out[field] = v.String()
		}
	}
	for _, field := range arrayFields {
		v := root.Get(field)
		if v.Exists() && v.IsArray() {
			var vals []any
			for _, item := range v.Array() {
				vals = append(vals, item.Value())
			}
			if len(vals) > 0 {
				out[field] = vals
			}
		}
	}

	if limitation := root.Get("limitation"); limitation.Exists() && limitation.IsObject() {
		out["limitation"] = parseLimitation(limitation)
	}
	if fees := root.Get("fees"); fees.Exists() && fees.IsObject() {
		out["fees"] = fees.Value()
	}

	return out
}

func parseLimitation(limitation gjson.Result) map[string]any {
	out := map[string]any{}
	boolFields := []string{"payment_required", "auth_required", "restricted_writes"}
	numberFields := []string{"max_message_length", "max_subscriptions", "max_filters", "max_limit", "max_event_tags", "max_content_length", "min_pow_difficulty", "max_subid_length"}

	for _, f := range boolFields {
		v := limitation.Get(f)
		if v.Exists() && (v.Type == gjson.True || v.Type == gjson.False) {
			out[f] = v.Bool()
		}
	}
	for _, f := range numberFields {
		v := limitation.Get(f)
		if v.Exists() && v.Type == gjson.Number {
			out[f] = v.Num
		}
	}
	return out
}
