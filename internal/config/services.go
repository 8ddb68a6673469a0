package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeederConfig drives the one-shot Seeder service.
type SeederConfig struct {
	SeedFile     string `yaml:"seed_file"`
	MaxBatchSize int    `yaml:"max_batch_size"`
}

func LoadSeederConfig(path string) (*SeederConfig, error) {
	cfg := SeederConfig{MaxBatchSize: 10000}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.SeedFile == "" {
		return nil, fmt.Errorf("config: seeder.seed_file is required")
	}
	if cfg.MaxBatchSize < 1 {
		return nil, fmt.Errorf("config: seeder.max_batch_size must be >= 1")
	}
	return &cfg, nil
}

// FinderConfig drives the periodic Finder service.
type FinderConfig struct {
	IntervalSeconds   int          `yaml:"interval_seconds"`
	APISources        []APISource  `yaml:"api_sources"`
	EventTagKinds     []int        `yaml:"event_tag_kinds"`
	MaxBatchSize      int          `yaml:"max_batch_size"`
}

type APISource struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	JSONPath string `yaml:"json_path"`
}

func LoadFinderConfig(path string) (*FinderConfig, error) {
	cfg := FinderConfig{
		IntervalSeconds: 3600,
		EventTagKinds:   []int{2, 3, 10002, 10006},
		MaxBatchSize:    10000,
	}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.IntervalSeconds < 1 {
		return nil, fmt.Errorf("config: finder.interval_seconds must be >= 1")
	}
	for _, src := range cfg.APISources {
		if src.Name == "" || src.URL == "" || src.JSONPath == "" {
			return nil, fmt.Errorf("config: finder.api_sources entries require name, url and json_path")
		}
	}
	return &cfg, nil
}

// ValidatorConfig drives the periodic Validator service.
type ValidatorConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	ChunkSize       int `yaml:"chunk_size"`
	MaxAttempts     int `yaml:"max_attempts"`
}

func LoadValidatorConfig(path string) (*ValidatorConfig, error) {
	cfg := ValidatorConfig{IntervalSeconds: 300, ChunkSize: 200, MaxAttempts: 5}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.IntervalSeconds < 1 {
		return nil, fmt.Errorf("config: validator.interval_seconds must be >= 1")
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("config: validator.chunk_size must be >= 1")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("config: validator.max_attempts must be >= 1")
	}
	return &cfg, nil
}

// MonitorConfig drives the periodic Monitor service.
type MonitorConfig struct {
	IntervalSeconds    int      `yaml:"interval_seconds"`
	StalenessSeconds   int      `yaml:"staleness_seconds"`
	ChunkSize          int      `yaml:"chunk_size"`
	EnabledTests       []string `yaml:"enabled_tests"`
	EnableNIP11        bool     `yaml:"enable_nip11"`
	PublishEvents      bool     `yaml:"publish_events"`
	GeoDatabasePath    string   `yaml:"geo_database_path"`
	ASNDatabasePath    string   `yaml:"asn_database_path"`
	AnnounceFrequency  int      `yaml:"announce_frequency_seconds"`
	DNSServer          string   `yaml:"dns_server"`
}

var validNIP66Tests = map[string]bool{
	"rtt": true, "ssl": true, "dns": true, "geo": true, "net": true, "http": true,
}

func LoadMonitorConfig(path string) (*MonitorConfig, error) {
	cfg := MonitorConfig{
		IntervalSeconds:   900,
		StalenessSeconds:  86400,
		ChunkSize:         100,
		EnabledTests:      []string{"rtt", "ssl", "dns", "geo", "net", "http"},
		EnableNIP11:       true,
		AnnounceFrequency: 900,
		DNSServer:         "1.1.1.1:53",
	}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.IntervalSeconds < 1 {
		return nil, fmt.Errorf("config: monitor.interval_seconds must be >= 1")
	}
	dnsEnabled := false
	for _, test := range cfg.EnabledTests {
		if !validNIP66Tests[test] {
			return nil, fmt.Errorf("config: monitor.enabled_tests contains unknown test %q", test)
		}
		if test == "dns" {
			dnsEnabled = true
		}
	}
	if dnsEnabled && cfg.DNSServer == "" {
		return nil, fmt.Errorf("config: monitor.dns_server is required when the dns test is enabled")
	}
	if cfg.PublishEvents && os.Getenv("PRIVATE_KEY") == "" {
		return nil, fmt.Errorf("config: monitor.publish_events requires PRIVATE_KEY env var")
	}
	return &cfg, nil
}

// SynchronizerConfig drives the periodic Synchronizer service.
type SynchronizerConfig struct {
	IntervalSeconds int      `yaml:"interval_seconds"`
	Kinds           []int    `yaml:"kinds"`
	Authors         []string `yaml:"authors"`
	SinceFloor      int64    `yaml:"since_floor"`
	MaxBatchSize    int      `yaml:"max_batch_size"`
	ChunkSize       int      `yaml:"chunk_size"`
}

func LoadSynchronizerConfig(path string) (*SynchronizerConfig, error) {
	cfg := SynchronizerConfig{
		IntervalSeconds: 120,
		MaxBatchSize:    10000,
		ChunkSize:       50,
	}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.IntervalSeconds < 1 {
		return nil, fmt.Errorf("config: synchronizer.interval_seconds must be >= 1")
	}
	if cfg.MaxBatchSize < 1 {
		return nil, fmt.Errorf("config: synchronizer.max_batch_size must be >= 1")
	}
	if cfg.SinceFloor < 0 {
		return nil, fmt.Errorf("config: synchronizer.since_floor must be >= 0")
	}
	return &cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
