package store

import "github.com/bigbrotr/bigbrotr/internal/config"

func testPoolConfig() config.PoolConfig {
	cfg := config.DefaultBrotrConfig()
	cfg.Pool.Host = "localhost"
	cfg.Pool.Database = "bigbrotr_test"
	return cfg.Pool
}
