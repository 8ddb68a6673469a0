package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeederConfig_RequiresSeedFile(t *testing.T) {
	path := writeTempYAML(t, "max_batch_size: 100\n")
	_, err := LoadSeederConfig(path)
	require.Error(t, err)
}

func TestLoadSeederConfig_AppliesDefaults(t *testing.T) {
	path := writeTempYAML(t, "seed_file: seeds.txt\n")
	cfg, err := LoadSeederConfig(path)
	require.NoError(t, err)
	require.Equal(t, 10000, cfg.MaxBatchSize)
}

func TestLoadFinderConfig_RejectsIncompleteAPISource(t *testing.T) {
	path := writeTempYAML(t, "api_sources:\n  - name: test\n    url: https://example.com\n")
	_, err := LoadFinderConfig(path)
	require.Error(t, err)
}

func TestLoadMonitorConfig_RejectsUnknownTest(t *testing.T) {
	path := writeTempYAML(t, "enabled_tests: [rtt, bogus]\n")
	_, err := LoadMonitorConfig(path)
	require.Error(t, err)
}

func TestLoadMonitorConfig_PublishRequiresPrivateKey(t *testing.T) {
	os.Unsetenv("PRIVATE_KEY")
	path := writeTempYAML(t, "publish_events: true\n")
	_, err := LoadMonitorConfig(path)
	require.Error(t, err)
}

func TestValidateBrotrConfig_OverlayRequiresProxy(t *testing.T) {
	cfg := DefaultBrotrConfig()
	cfg.Pool.Host = "localhost"
	cfg.Pool.Database = "bigbrotr"
	cfg.Network.TorMaxConcurrent = 4
	cfg.Network.TorProxyURL = ""
	err := ValidateBrotrConfig(&cfg)
	require.Error(t, err)
}
