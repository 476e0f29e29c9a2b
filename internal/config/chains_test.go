package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChains(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chains.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validChains = `
confirmationTimeoutSeconds: 60
chains:
  - chainId: 1
    name: ethereum
    rpcUrl: https://rpc.example.com
    indexerParam: "0x1"
    priceSymbol: ETH
    minConfirmations: 3
  - chainId: 250
    name: fantom
    rpcUrl: https://ftm.example.com
    indexerParam: "0xfa"
    priceSymbol: FTM
    feeOverride:
      feeCapMultiplier: 2
      tipCapMultiplier: 14
stellar:
  enabled: true
  horizonUrl: https://horizon.example.com
  chainId: 1500
  networkPassphrase: "Test SDF Network ; September 2015"
  priceSymbol: XLM
products:
  - name: idServer
    partition: idServer
    kind: session
    refundRatioBps: 5000
    priceUsd: 12.47
    provisioningUrl: https://id.example.com
  - name: orders
    partition: orders
    kind: order
    refundRatioBps: 10000
    priceUsd: 10
`

func TestLoadChains(t *testing.T) {
	c, err := LoadChains(writeChains(t, validChains))
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, c.ConfirmationTimeout())
	require.Len(t, c.Chains, 2)

	eth, ok := c.Chain(1)
	require.True(t, ok)
	assert.Equal(t, uint64(3), eth.MinConfirmations)
	assert.Nil(t, eth.FeeOverride)

	ftm, ok := c.Chain(250)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ftm.MinConfirmations, "defaults to 1")
	require.NotNil(t, ftm.FeeOverride)
	assert.Equal(t, int64(2), ftm.FeeOverride.FeeCapMultiplier)
	assert.Equal(t, int64(14), ftm.FeeOverride.TipCapMultiplier)

	assert.True(t, c.Stellar.Enabled)
	assert.Equal(t, uint64(1500), c.Stellar.ChainID)

	p, ok := c.Product("idServer")
	require.True(t, ok)
	assert.Equal(t, int64(5000), p.RefundRatioBps)
	assert.Equal(t, "session", p.Kind)

	_, ok = c.Product("unknown")
	assert.False(t, ok)
}

func TestLoadChainsDefaultsTimeout(t *testing.T) {
	c, err := LoadChains(writeChains(t, `
chains:
  - chainId: 1
    rpcUrl: https://rpc.example.com
`))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, c.ConfirmationTimeout())
}

func TestLoadChainsValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "no chains", content: `products: []`},
		{name: "missing chain id", content: `
chains:
  - rpcUrl: https://rpc.example.com
`},
		{name: "missing rpc url", content: `
chains:
  - chainId: 1
`},
		{name: "unknown product kind", content: `
chains:
  - chainId: 1
    rpcUrl: https://rpc.example.com
products:
  - name: x
    partition: x
    kind: subscription
    refundRatioBps: 5000
`},
		{name: "refund ratio out of range", content: `
chains:
  - chainId: 1
    rpcUrl: https://rpc.example.com
products:
  - name: x
    partition: x
    kind: session
    refundRatioBps: 10001
`},
		{name: "product without partition", content: `
chains:
  - chainId: 1
    rpcUrl: https://rpc.example.com
products:
  - name: x
    kind: session
    refundRatioBps: 5000
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadChains(writeChains(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadChainsMissingFile(t *testing.T) {
	_, err := LoadChains(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
