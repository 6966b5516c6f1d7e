package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputable-values-monitor/internal/feed"
)

const sampleYAML = `
app:
  monitor_name: Pulse
chains:
  - chain_id: 369
    name: pulsechain
    rpc_url: https://rpc.pulsechain.com
    explorer: https://scan.pulsechain.com/
    oracles: ["0x00000000000000000000000000000000000000a1"]
    governance: "0x00000000000000000000000000000000000000b2"
    token: "0x00000000000000000000000000000000000000c3"
monitor:
  confidence_threshold: "0.05"
  feeds:
    - tag: eth-usd-spot
      metric: percentage
      amount: "0.75"
    - query_type: EVMCall
      metric: equality
balances:
  chain_id: 369
  reporters:
    - address: "0x00000000000000000000000000000000000000d4"
      token_threshold: "200"
      report_interval: 45m
alerting:
  kinds: [DISPUTABLE_REPORT, REPORTER_STOP]
  discord:
    enabled: true
    webhooks: ["https://discord.example/1"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 7*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, 3, cfg.Monitor.RetryAttempts)
	assert.Equal(t, 20*time.Second, cfg.Monitor.RetryDelay)
	assert.Equal(t, "Pulse", cfg.App.MonitorName)

	require.Len(t, cfg.Chains, 1)
	ch, ok := cfg.Chain(369)
	require.True(t, ok)
	assert.Equal(t, "pulsechain", ch.Name)
	assert.Len(t, ch.Oracles, 1)

	thr, err := cfg.DefaultThreshold()
	require.NoError(t, err)
	assert.Equal(t, feed.MetricPercentage, thr.Metric)
	assert.Equal(t, "0.05", thr.Amount.Decimal.String())

	require.Len(t, cfg.Monitor.Feeds, 2)
	generic, err := cfg.Monitor.Feeds[1].Threshold()
	require.NoError(t, err)
	assert.False(t, generic.Amount.Valid)

	assert.Equal(t, 45*time.Minute, cfg.Balances.Reporters[0].ReportInterval)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DVMONITOR_SCHEDULER_INTERVAL", "30s")
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"negative feed amount": func(c *Config) {
			c.Monitor.Feeds = []MonitoredFeedConfig{{Tag: "x", Metric: "range", Amount: "-1"}}
		},
		"missing percentage amount": func(c *Config) {
			c.Monitor.Feeds = []MonitoredFeedConfig{{Tag: "x", Metric: "percentage"}}
		},
		"bad query id": func(c *Config) {
			c.Monitor.Feeds = []MonitoredFeedConfig{{QueryID: "0x1234", Metric: "equality"}}
		},
		"duplicate chain": func(c *Config) {
			c.Chains = append(c.Chains, c.Chains[0])
		},
		"missing discord webhook": func(c *Config) {
			c.Alerting.Discord.Webhooks = nil
		},
		"unknown alert kind": func(c *Config) {
			c.Alerting.Kinds = []string{"EVERYTHING"}
		},
		"bad reporter threshold": func(c *Config) {
			c.Balances.Reporters[0].TokenThreshold = "lots"
		},
		"bad confidence": func(c *Config) {
			c.Monitor.ConfidenceThreshold = "-0.1"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sampleYAML))
			require.NoError(t, err)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseThreshold(t *testing.T) {
	d, err := ParseThreshold("  ")
	require.NoError(t, err)
	assert.False(t, d.Valid)

	d, err = ParseThreshold("200")
	require.NoError(t, err)
	assert.True(t, d.Valid)
}
