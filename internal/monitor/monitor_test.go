package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigbrotr/bigbrotr/internal/models"
	"github.com/bigbrotr/bigbrotr/internal/nip66"
)

func TestSelectionFromConfig_EmptyMeansAllTests(t *testing.T) {
	assert.Equal(t, nip66.AllTests(), selectionFromConfig(nil))
}

func TestSelectionFromConfig_EnablesOnlyNamedTests(t *testing.T) {
	sel := selectionFromConfig([]string{"rtt", "geo"})
	assert.Equal(t, nip66.Selection{RTT: true, Geo: true}, sel)
}

func TestExtractSupportedNIPs_HandlesNumbersAndStrings(t *testing.T) {
	info := map[string]any{"supported_nips": []any{float64(1), "11", float64(66)}}
	assert.Equal(t, []string{"1", "11", "66"}, extractSupportedNIPs(info))
}

func TestExtractSupportedNIPs_MissingFieldReturnsNil(t *testing.T) {
	assert.Nil(t, extractSupportedNIPs(map[string]any{}))
}

func TestBuildNIP66Metadata_OnlyIncludesSuccessfulProbes(t *testing.T) {
	relay, err := models.NewRelay("wss://relay.example", 0)
	require.NoError(t, err)

	openMs := int64(42)
	report := nip66.Report{
		RTT:     &nip66.RTTData{OpenMs: &openMs},
		RTTLogs: nip66.RTTLogs{Open: nip66.Logs{Success: true}},
		SSL:     &nip66.SSLData{Valid: false},
		SSLLogs: nip66.Logs{Success: false, Reason: "handshake failed"},
	}

	records := buildNIP66Metadata(relay, report, 1000)
	require.Len(t, records, 1)
	assert.Equal(t, models.MetadataNIP66RTT, records[0].Metadata.Type)
	assert.Equal(t, float64(42), records[0].Metadata.Payload["open_ms"])
	assert.Equal(t, relay.URL(), records[0].RelayURL)
}

func TestBuildNIP66Metadata_NoSuccessfulProbesYieldsNoRecords(t *testing.T) {
	relay, err := models.NewRelay("wss://relay.example", 0)
	require.NoError(t, err)

	report := nip66.Report{}
	assert.Empty(t, buildNIP66Metadata(relay, report, 1000))
}

func TestRTTFields_NilWhenRTTMissing(t *testing.T) {
	var r nip66.Report
	assert.Nil(t, rttField(r))
	assert.Nil(t, rttReadField(r))
	assert.Nil(t, rttWriteField(r))
}

func TestToAnySlice(t *testing.T) {
	assert.Equal(t, []any{"a", "b"}, toAnySlice([]string{"a", "b"}))
}
