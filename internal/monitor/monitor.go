// Package monitor periodically runs NIP-11 and NIP-66 checks against known
// relays and optionally publishes NIP-66 discovery events, per spec.md
// §4.10.
package monitor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"

	"github.com/bigbrotr/bigbrotr/internal/config"
	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/netsem"
	"github.com/bigbrotr/bigbrotr/internal/nip11"
	"github.com/bigbrotr/bigbrotr/internal/nip66"
	"github.com/bigbrotr/bigbrotr/internal/pool"
	"github.com/bigbrotr/bigbrotr/internal/store"
	"github.com/bigbrotr/bigbrotr/internal/transport"
)

const serviceName = "monitor"
const lastCheckStateKind = "last_check"

// Monitor drives one NIP-11 + NIP-66 cycle per relay that is due for a
// check, and optionally publishes discovery events describing what it
// found.
type Monitor struct {
	store      *store.Store
	pool       *pool.Pool
	netsem     *netsem.Manager
	cfg        config.MonitorConfig
	selection  nip66.Selection
	geoReader  *nip66.GeoReader
	asnReader  *nip66.ASNReader
	privateKey string
	log        *zap.Logger
}

func New(st *store.Store, p *pool.Pool, sem *netsem.Manager, cfg config.MonitorConfig, log *zap.Logger) (*Monitor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	sel := selectionFromConfig(cfg.EnabledTests)

	m := &Monitor{
		store: st, pool: p, netsem: sem, cfg: cfg, selection: sel,
		privateKey: os.Getenv("PRIVATE_KEY"),
		log:        log.With(zap.String("service", serviceName)),
	}
	if cfg.GeoDatabasePath != "" {
		reader, err := nip66.OpenGeoReader(cfg.GeoDatabasePath)
		if err != nil {
			return nil, fmt.Errorf("monitor: open geo database: %w", err)
		}
		m.geoReader = reader
	}
	if cfg.ASNDatabasePath != "" {
		reader, err := nip66.OpenASNReader(cfg.ASNDatabasePath)
		if err != nil {
			return nil, fmt.Errorf("monitor: open asn database: %w", err)
		}
		m.asnReader = reader
	}
	return m, nil
}

func selectionFromConfig(tests []string) nip66.Selection {
	if len(tests) == 0 {
		return nip66.AllTests()
	}
	var sel nip66.Selection
	for _, t := range tests {
		switch t {
		case "rtt":
			sel.RTT = true
		case "ssl":
			sel.SSL = true
		case "dns":
			sel.DNS = true
		case "geo":
			sel.Geo = true
		case "net":
			sel.Net = true
		case "http":
			sel.HTTP = true
		}
	}
	return sel
}

// Result summarizes one monitor cycle.
type Result struct {
	Due       int
	Checked   int
	Published int
}

// Run loads relays due for a check, probes each within its network's
// concurrency budget, batch-persists the resulting metadata, and
// optionally publishes NIP-66 discovery events.
func (m *Monitor) Run(ctx context.Context) (Result, error) {
	due, err := m.loadDueRelays(ctx)
	if err != nil {
		return Result{}, err
	}
	var result Result
	result.Due = len(due)
	if len(due) == 0 {
		return result, nil
	}

	outcomes := make(chan checkOutcome, len(due))

	for _, relay := range due {
		go func(relay models.Relay) {
			outcomes <- m.checkOne(ctx, relay)
		}(relay)
	}

	var allMetadata []models.RelayMetadata
	var cursorStates []models.ServiceState
	results := make([]checkOutcome, 0, len(due))
	for range due {
		o := <-outcomes
		results = append(results, o)
		allMetadata = append(allMetadata, o.metadata...)
		result.Checked++

		cursorStates = append(cursorStates, models.ServiceState{
			ServiceName: serviceName,
			StateType:   models.StateTypeOther,
			StateKey:    lastCheckStateKind + ":" + o.relay.URL(),
			StateValue:  map[string]any{"checked_at": float64(time.Now().Unix())},
			UpdatedAt:   time.Now().Unix(),
		})
	}

	if len(allMetadata) > 0 {
		if err := m.store.InsertRelayMetadata(ctx, allMetadata, true); err != nil {
			return result, fmt.Errorf("monitor: insert relay metadata: %w", err)
		}
	}
	if err := m.store.UpsertServiceState(ctx, cursorStates); err != nil {
		return result, fmt.Errorf("monitor: upsert last-check cursors: %w", err)
	}

	if m.cfg.PublishEvents && m.privateKey != "" {
		published, err := m.publishDiscovery(ctx, results)
		if err != nil {
			m.log.Warn("publish discovery events failed", zap.Error(err))
		}
		result.Published = published
	}

	m.log.Info("monitor cycle complete", zap.Int("due", result.Due), zap.Int("checked", result.Checked), zap.Int("published", result.Published))
	return result, nil
}

// loadDueRelays returns relays whose last-check row is missing or older
// than the configured staleness window.
func (m *Monitor) loadDueRelays(ctx context.Context) ([]models.Relay, error) {
	type relayRow struct {
		url          string
		discoveredAt int64
	}
	rows, err := pool.Fetch(ctx, m.pool,
		`SELECT url, discovered_at FROM relay ORDER BY discovered_at ASC`,
		nil,
		func(row pgx.Rows) (relayRow, error) {
			var r relayRow
			if err := row.Scan(&r.url, &r.discoveredAt); err != nil {
				return r, err
			}
			return r, nil
		})
	if err != nil {
		return nil, fmt.Errorf("monitor: load relays: %w", err)
	}

	lastChecks, err := m.store.GetServiceState(ctx, serviceName, models.StateTypeOther, "")
	if err != nil {
		return nil, fmt.Errorf("monitor: load last-check state: %w", err)
	}
	checkedAt := make(map[string]int64, len(lastChecks))
	for _, st := range lastChecks {
		if v, ok := st.StateValue["checked_at"].(float64); ok {
			checkedAt[st.StateKey] = int64(v)
		}
	}

	staleness := m.cfg.StalenessSeconds
	if staleness <= 0 {
		staleness = 86400
	}
	now := time.Now().Unix()

	var due []models.Relay
	for _, row := range rows {
		relay, err := models.NewRelay(row.url, row.discoveredAt)
		if err != nil {
			continue
		}
		last, seen := checkedAt[lastCheckStateKind+":"+relay.URL()]
		if !seen || now-last >= int64(staleness) {
			due = append(due, relay)
		}
		if len(due) >= m.cfg.ChunkSize && m.cfg.ChunkSize > 0 {
			break
		}
	}
	return due, nil
}

type checkOutcome struct {
	relay    models.Relay
	metadata []models.RelayMetadata
	nip11    map[string]any
	nip66    nip66.Report
}

// checkOne acquires relay's network budget and runs the fetch -> probe
// sequence in declared order, per spec.md §5's ordering guarantee. It does
// not persist anything; Run batch-persists every relay's metadata afterwards.
func (m *Monitor) checkOne(ctx context.Context, relay models.Relay) checkOutcome {
	opCtx, release, err := m.netsem.Acquire(ctx, relay.Network())
	if err != nil {
		return checkOutcome{relay: relay}
	}
	defer release()

	limit := m.netsem.Limit(relay.Network())
	dialOpts := transport.Options{ProxyURL: limit.ProxyURL, Timeout: limit.Timeout, AllowInsecure: limit.AllowInsecure}

	out := checkOutcome{relay: relay}
	now := time.Now().Unix()

	if m.cfg.EnableNIP11 {
		res := nip11.Fetch(opCtx, relay, nip11.Options{AllowInsecure: limit.AllowInsecure, Timeout: limit.Timeout})
		if res.Success {
			out.nip11 = res.Info
			if md, err := models.NewMetadata(models.MetadataNIP11Info, res.Info); err == nil {
				out.metadata = append(out.metadata, models.NewRelayMetadata(relay, md, now))
			}
		}
	}

	report := nip66.Run(opCtx, relay, m.selection, nip66.Deps{
		DialOpts:   dialOpts,
		RTT:        nip66.RTTDeps{PrivateKeyHex: m.privateKey, ReadFilter: nostr.Filter{Limit: 1}},
		SSLTimeout: limit.Timeout,
		DNS:        nip66.Resolver{ServerAddr: m.cfg.DNSServer, Timeout: limit.Timeout},
		Geo:        m.geoReader,
		Net:        m.asnReader,
	})
	out.nip66 = report
	out.metadata = append(out.metadata, buildNIP66Metadata(relay, report, now)...)

	return out
}

func buildNIP66Metadata(relay models.Relay, report nip66.Report, now int64) []models.RelayMetadata {
	var records []models.RelayMetadata

	if report.RTT != nil && report.RTTLogs.Open.Success {
		payload := map[string]any{}
		if report.RTT.OpenMs != nil {
			payload["open_ms"] = float64(*report.RTT.OpenMs)
		}
		if report.RTT.ReadMs != nil {
			payload["read_ms"] = float64(*report.RTT.ReadMs)
		}
		if report.RTT.WriteMs != nil {
			payload["write_ms"] = float64(*report.RTT.WriteMs)
		}
		if md, err := models.NewMetadata(models.MetadataNIP66RTT, payload); err == nil {
			records = append(records, models.NewRelayMetadata(relay, md, now))
		}
	}
	if report.SSL != nil && report.SSLLogs.Success {
		payload := map[string]any{
			"valid": report.SSL.Valid, "issuer": report.SSL.Issuer, "subject": report.SSL.Subject,
			"san": toAnySlice(report.SSL.SAN), "protocol": report.SSL.Protocol, "cipher": report.SSL.Cipher,
			"fingerprint": report.SSL.Fingerprint, "not_before": float64(report.SSL.NotBefore),
			"not_after": float64(report.SSL.NotAfter), "serial": report.SSL.Serial, "version": float64(report.SSL.Version),
		}
		if md, err := models.NewMetadata(models.MetadataNIP66SSL, payload); err == nil {
			records = append(records, models.NewRelayMetadata(relay, md, now))
		}
	}
	if report.DNS != nil && report.DNSLogs.Success {
		payload := map[string]any{
			"a": toAnySlice(report.DNS.A), "aaaa": toAnySlice(report.DNS.AAAA), "cname": toAnySlice(report.DNS.CNAME),
			"ns": toAnySlice(report.DNS.NS), "ptr": toAnySlice(report.DNS.PTR), "ttl": float64(report.DNS.TTL),
		}
		if md, err := models.NewMetadata(models.MetadataNIP66DNS, payload); err == nil {
			records = append(records, models.NewRelayMetadata(relay, md, now))
		}
	}
	if report.Geo != nil && report.GeoLogs.Success {
		payload := map[string]any{
			"country": report.Geo.Country, "city": report.Geo.City, "region": report.Geo.Region,
			"continent": report.Geo.Continent, "latitude": report.Geo.Latitude, "longitude": report.Geo.Longitude,
			"accuracy": float64(report.Geo.Accuracy), "timezone": report.Geo.Timezone, "geohash": report.Geo.Geohash,
			"geoname_id": float64(report.Geo.GeonameID), "is_eu": report.Geo.IsEU,
		}
		if md, err := models.NewMetadata(models.MetadataNIP66Geo, payload); err == nil {
			records = append(records, models.NewRelayMetadata(relay, md, now))
		}
	}
	if report.Net != nil && report.NetLogs.Success {
		payload := map[string]any{
			"asn": float64(report.Net.ASN), "asn_org": report.Net.ASNOrg,
			"network_v4": report.Net.NetworkV4, "network_v6": report.Net.NetworkV6,
		}
		if md, err := models.NewMetadata(models.MetadataNIP66Net, payload); err == nil {
			records = append(records, models.NewRelayMetadata(relay, md, now))
		}
	}
	if report.HTTP != nil && report.HTTPLogs.Success {
		payload := map[string]any{"server": report.HTTP.Server, "x_powered_by": report.HTTP.XPoweredBy}
		if md, err := models.NewMetadata(models.MetadataNIP66HTTP, payload); err == nil {
			records = append(records, models.NewRelayMetadata(relay, md, now))
		}
	}
	return records
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// publishDiscovery sends the monitor's profile, its announcement event, and
// that relay's 30166 discovery event to every checked relay, whether or not
// the relay accepted the profile write. The returned count is the number of
// relays that accepted the profile event.
func (m *Monitor) publishDiscovery(ctx context.Context, results []checkOutcome) (int, error) {
	profile := nip66.BuildProfileEvent(nip66.MonitorProfile{Name: "bigbrotr-monitor", About: "NIP-66 relay monitor"})
	if err := profile.Sign(m.privateKey); err != nil {
		return 0, fmt.Errorf("monitor: sign profile event: %w", err)
	}
	announcement := nip66.BuildAnnouncementEvent(m.selection, time.Duration(m.cfg.AnnounceFrequency)*time.Second)
	if err := announcement.Sign(m.privateKey); err != nil {
		return 0, fmt.Errorf("monitor: sign announcement event: %w", err)
	}

	published := 0
	for _, o := range results {
		nips := extractSupportedNIPs(o.nip11)
		software, _ := o.nip11["software"].(string)
		languages := extractLanguages(o.nip11)
		restrictedWrites, admissionRequired, paidWrite := extractLimitation(o.nip11)
		country := ""
		var asn uint
		if o.nip66.Geo != nil {
			country = o.nip66.Geo.Country
		}
		if o.nip66.Net != nil {
			asn = o.nip66.Net.ASN
		}

		discovery := nip66.BuildDiscoveryEvent(nip66.DiscoveryTagInput{
			Relay: o.relay, NIP11: nips, Software: software, Country: country, ASN: asn,
			Languages:         languages,
			RestrictedWrites:  restrictedWrites,
			AdmissionRequired: admissionRequired,
			PaidWrite:         paidWrite,
			RTTOpen:           rttField(o.nip66), RTTRead: rttReadField(o.nip66), RTTWrite: rttWriteField(o.nip66),
		})
		if err := discovery.Sign(m.privateKey); err != nil {
			continue
		}

		if m.publishOne(ctx, o.relay, profile) == nil {
			published++
		}
		_ = m.publishOne(ctx, o.relay, announcement)
		_ = m.publishOne(ctx, o.relay, discovery)
	}
	return published, nil
}

func (m *Monitor) publishOne(ctx context.Context, relay models.Relay, ev nostr.Event) error {
	limit := m.netsem.Limit(relay.Network())
	conn, err := transport.Dial(ctx, relay, transport.Options{ProxyURL: limit.ProxyURL, Timeout: limit.Timeout, AllowInsecure: limit.AllowInsecure})
	if err != nil {
		return err
	}
	defer conn.Close()

	payload, err := sonic.Marshal([]any{"EVENT", ev})
	if err != nil {
		return err
	}
	return conn.WriteText(ctx, payload)
}

func extractSupportedNIPs(info map[string]any) []string {
	raw, ok := info["supported_nips"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case float64:
			out = append(out, fmt.Sprintf("%d", int(val)))
		case string:
			out = append(out, val)
		}
	}
	return out
}

func extractLanguages(info map[string]any) []string {
	raw, ok := info["language_tags"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func extractLimitation(info map[string]any) (restrictedWrites, admissionRequired, paidWrite bool) {
	limitation, ok := info["limitation"].(map[string]any)
	if !ok {
		return false, false, false
	}
	restrictedWrites, _ = limitation["restricted_writes"].(bool)
	admissionRequired, _ = limitation["auth_required"].(bool)
	paidWrite, _ = limitation["payment_required"].(bool)
	return restrictedWrites, admissionRequired, paidWrite
}

func rttField(r nip66.Report) *int64 {
	if r.RTT == nil {
		return nil
	}
	return r.RTT.OpenMs
}
func rttReadField(r nip66.Report) *int64 {
	if r.RTT == nil {
		return nil
	}
	return r.RTT.ReadMs
}
func rttWriteField(r nip66.Report) *int64 {
	if r.RTT == nil {
		return nil
	}
	return r.RTT.WriteMs
}
