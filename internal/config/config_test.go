package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, 5*time.Second, cfg.StoreTimeout)
	require.Equal(t, []string{"triage", "parse", "attachment"}, cfg.BackfillQueues)
	require.Equal(t, -100, cfg.BackfillPriority)
	require.Equal(t, "triage", cfg.BackfillQueue)
	require.Equal(t, "triage", cfg.TriageQueue)
	require.Equal(t, 7, cfg.TriageRerunDays)
	require.Equal(t, "Cortex/Uncategorized", cfg.UncategorizedLabel)
	require.Equal(t, 3650, cfg.SyncMaxDays)
	require.Equal(t, 50, cfg.DeadLetterPageSize)
	require.Equal(t, 100, cfg.DeadLetterMaxPage)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEWAY_STORE", "memory")
	t.Setenv("BACKFILL_QUEUES", "triage,parse")
	t.Setenv("BACKFILL_DEFAULT_QUEUE", "parse")
	t.Setenv("STORE_TIMEOUT", "2s")
	t.Setenv("REDIS_ADDR", "localhost:6380")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Store)
	require.Equal(t, []string{"triage", "parse"}, cfg.BackfillQueues)
	require.Equal(t, "parse", cfg.BackfillQueue)
	require.Equal(t, 2*time.Second, cfg.StoreTimeout)
	require.Equal(t, "localhost:6380", cfg.RedisAddr)
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "sqlite" }},
		{"page larger than max", func(c *Config) { c.DeadLetterPageSize = 500 }},
		{"empty priority range", func(c *Config) { c.BackfillPriorityMin = 10; c.BackfillPriorityMax = 0 }},
		{"default priority outside range", func(c *Config) { c.BackfillPriority = 5 }},
		{"no queues", func(c *Config) { c.BackfillQueues = nil }},
		{"zero timeout", func(c *Config) { c.StoreTimeout = 0 }},
		{"default queue not allowed", func(c *Config) { c.BackfillQueue = "attachments" }},
		{"zero rerun window", func(c *Config) { c.TriageRerunDays = 0 }},
		{"zero sync window", func(c *Config) { c.SyncMaxDays = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
