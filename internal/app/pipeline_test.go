package app

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputable-values-monitor/internal/alerting"
	"disputable-values-monitor/internal/balance"
	"disputable-values-monitor/internal/config"
	"disputable-values-monitor/internal/oracle"
	"disputable-values-monitor/internal/poller"
)

const (
	oracleAddr     = "0x1111111111111111111111111111111111111111"
	governanceAddr = "0x2222222222222222222222222222222222222222"
	tokenAddr      = "0x3333333333333333333333333333333333333333"
	reporterAddr   = "0xd5f1Cc896542C111c7Aa7D7fae2C3D654f34b927"
	disputerAddr   = "0x4444444444444444444444444444444444444444"
)

func testApp(mutate func(*config.Config)) *App {
	cfg := &config.Config{
		Chains: []config.ChainConfig{
			{ChainID: 943, RPCURL: "http://localhost:8545", Oracles: []string{oracleAddr}, Governance: governanceAddr, Token: tokenAddr},
			{ChainID: 369, RPCURL: "http://localhost:8546", Oracles: []string{oracleAddr}},
		},
		Monitor: config.MonitorConfig{ConfidenceThreshold: "0.1", RetryAttempts: 1},
		Balances: config.BalancesConfig{
			ChainID:   943,
			Reporters: []config.ReporterConfig{{Address: reporterAddr, NativeThreshold: "0.5", TokenThreshold: "100"}},
			Disputer:  config.DisputerConfig{Address: disputerAddr, NativeThreshold: "1"},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	return NewApp(cfg, zerolog.Nop())
}

func TestTargetsPerChain(t *testing.T) {
	targets := testApp(nil).targets()
	require.Len(t, targets, 4)

	assert.Equal(t, poller.StreamReports, targets[0].Stream)
	assert.Equal(t, []common.Address{common.HexToAddress(oracleAddr)}, targets[0].Addresses)
	assert.Equal(t, oracle.TopicNewReport, targets[0].Topics[0][0])

	assert.Equal(t, poller.StreamDisputes, targets[1].Stream)
	assert.Equal(t, oracle.TopicNewDispute, targets[1].Topics[0][0])

	assert.Equal(t, poller.StreamGovernance, targets[2].Stream)
	assert.ElementsMatch(t, []common.Hash{oracle.TopicNewOracleAddress, oracle.TopicNewProposedOracleAddress}, targets[2].Topics[0])

	assert.Equal(t, uint64(369), targets[3].ChainID)
	assert.Equal(t, poller.StreamReports, targets[3].Stream)
}

func TestBalanceCyclesPerRoleAndAsset(t *testing.T) {
	a := testApp(func(c *config.Config) {
		c.Chains[0].NativeSymbol = "PLS"
		c.Chains[0].TokenSymbol = "FETCH"
	})
	cycles, err := a.balanceCycles(a.newChains(), func(context.Context, balance.Alert) {})
	require.NoError(t, err)
	require.Len(t, cycles, 4)

	type key struct {
		role  balance.Role
		asset string
	}
	got := make([]key, 0, len(cycles))
	for _, c := range cycles {
		got = append(got, key{c.Role(), c.Asset()})
	}
	assert.Equal(t, []key{
		{balance.RoleReporter, "PLS"},
		{balance.RoleReporter, "FETCH"},
		{balance.RoleDisputer, "PLS"},
		{balance.RoleDisputer, "FETCH"},
	}, got)
}

func TestBalanceCyclesWithoutToken(t *testing.T) {
	a := testApp(func(c *config.Config) {
		c.Chains[0].Token = ""
		c.Balances.Disputer = config.DisputerConfig{}
	})
	cycles, err := a.balanceCycles(a.newChains(), func(context.Context, balance.Alert) {})
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "ETH", cycles[0].Asset())
}

func TestBalanceCyclesUnknownChain(t *testing.T) {
	a := testApp(func(c *config.Config) { c.Balances.ChainID = 1 })
	_, err := a.balanceCycles(a.newChains(), nil)
	require.Error(t, err)
}

func TestNewDispatcherSinks(t *testing.T) {
	a := testApp(func(c *config.Config) {
		c.Alerting.Enabled = true
		c.Alerting.Discord.Enabled = true
		c.Alerting.Discord.Webhooks = []string{"https://discord.test/1", "", "https://discord.test/3"}
		c.Alerting.Kinds = []string{"disputable_report"}
	})
	d := a.newDispatcher()
	assert.True(t, d.HasSinks())
	assert.True(t, d.Enabled(alerting.KindDisputableReport))
	assert.False(t, d.Enabled(alerting.KindReporterBalance))
	assert.True(t, d.Enabled(alerting.KindNewReport))

	disabled := testApp(nil).newDispatcher()
	assert.False(t, disabled.HasSinks())
	assert.True(t, disabled.Enabled(alerting.KindReporterBalance), "default levels enable balance alerts")
}

func TestManagedFeedsAndReporters(t *testing.T) {
	id := "0x83a7f3d48786ac2667503a61e8c415438ed2922eb86a2906e4ee66d9a2ce4992"
	a := testApp(func(c *config.Config) { c.Monitor.ManagedFeeds = []string{id} })

	_, ok := a.managedFeeds()[common.HexToHash(id)]
	assert.True(t, ok)
	_, ok = a.monitoredReporters()[common.HexToAddress(reporterAddr)]
	assert.True(t, ok)
	assert.Equal(t, common.HexToAddress(governanceAddr), a.governance()[943])
	assert.True(t, a.dashboards()[943].Known())
}
