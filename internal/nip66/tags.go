package nip66

import (
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/bigbrotr/bigbrotr/internal/models"
)

// MonitorProfile is the Kind 0 (profile) content the monitor announces
// itself with.
type MonitorProfile struct {
	Name  string
	About string
}

// BuildProfileEvent builds the monitor's own Kind 0 metadata event.
func BuildProfileEvent(profile MonitorProfile) nostr.Event {
	content := `{"name":"` + jsonEscape(profile.Name) + `","about":"` + jsonEscape(profile.About) + `"}`
	return nostr.Event{
		Kind:      0,
		Content:   content,
		CreatedAt: nostr.Now(),
	}
}

// BuildAnnouncementEvent builds the Kind 10166 monitor announcement: the
// checks it runs ("c" tags) and how often, so consumers of its 30166 events know how
// fresh to expect them (the "frequency" tag read by downstream aggregators,
// grounded on how feedbuilder's analyze step reads it back).
func BuildAnnouncementEvent(sel Selection, frequency time.Duration) nostr.Event {
	tags := nostr.Tags{
		{"d", "bigbrotr-monitor"},
		{"frequency", strconv.FormatInt(int64(frequency.Seconds()), 10)},
	}
	for _, k := range selectedKinds(sel) {
		tags = append(tags, nostr.Tag{"k", k})
	}
	checks := []struct {
		name    string
		enabled bool
	}{
		{"rtt", sel.RTT}, {"ssl", sel.SSL}, {"dns", sel.DNS},
		{"geo", sel.Geo}, {"net", sel.Net}, {"http", sel.HTTP},
	}
	for _, c := range checks {
		if c.enabled {
			tags = append(tags, nostr.Tag{"c", c.name})
		}
	}
	return nostr.Event{
		Kind:      10166,
		Content:   "",
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
}

// DiscoveryTagInput carries the probe outputs a Kind 30166 discovery event
// summarizes for a single relay.
type DiscoveryTagInput struct {
	Relay             models.Relay
	NIP11             []string // NIPs the relay advertises supporting, from its NIP-11 document
	Software          string
	Languages         []string // NIP-11 language_tags
	RestrictedWrites  bool     // NIP-11 limitation.restricted_writes
	AdmissionRequired bool     // NIP-11 limitation.auth_required
	PaidWrite         bool     // NIP-11 limitation.payment_required
	Country           string
	ASN               uint
	RTTOpen           *int64
	RTTRead           *int64
	RTTWrite          *int64
}

// BuildDiscoveryEvent builds the Kind 30166 per-relay discovery event,
// tagging network, supported NIPs, software, language tags, requirement
// flags, admission-required/paid-write, geo country and ASN (spec.md §4.10,
// §6). The "d" tag carries the relay's URL with a trailing slash, per
// NIP-66's convention; a slash is appended only when the normalized URL does
// not already end in one.
func BuildDiscoveryEvent(in DiscoveryTagInput) nostr.Event {
	tags := nostr.Tags{
		{"d", discoveryDTag(in.Relay)},
		{"n", string(in.Relay.Network())},
	}
	for _, nip := range in.NIP11 {
		tags = append(tags, nostr.Tag{"N", nip})
	}
	if in.Software != "" {
		tags = append(tags, nostr.Tag{"s", in.Software})
	}
	for _, lang := range in.Languages {
		tags = append(tags, nostr.Tag{"L", lang})
	}
	if in.RestrictedWrites {
		tags = append(tags, nostr.Tag{"R", "restricted-writes"})
	}
	if in.AdmissionRequired {
		tags = append(tags, nostr.Tag{"T", "admission-required"})
	}
	if in.PaidWrite {
		tags = append(tags, nostr.Tag{"T", "paid-write"})
	}
	if in.Country != "" {
		tags = append(tags, nostr.Tag{"G", in.Country})
	}
	if in.ASN != 0 {
		tags = append(tags, nostr.Tag{"ASN", strconv.FormatUint(uint64(in.ASN), 10)})
	}
	if in.RTTOpen != nil {
		tags = append(tags, nostr.Tag{"rtt-open", strconv.FormatInt(*in.RTTOpen, 10)})
	}
	if in.RTTRead != nil {
		tags = append(tags, nostr.Tag{"rtt-read", strconv.FormatInt(*in.RTTRead, 10)})
	}
	if in.RTTWrite != nil {
		tags = append(tags, nostr.Tag{"rtt-write", strconv.FormatInt(*in.RTTWrite, 10)})
	}

	return nostr.Event{
		Kind:      30166,
		Content:   "",
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
}

func discoveryDTag(relay models.Relay) string {
	url := relay.URL()
	if strings.HasSuffix(url, "/") {
		return url
	}
	return url + "/"
}

func selectedKinds(sel Selection) []string {
	var kinds []string
	if sel.RTT {
		kinds = append(kinds, "30166")
	}
	return kinds
}

func jsonEscape(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return replacer.Replace(s)
}
