package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndParsesChains(t *testing.T) {
	path := writeConfig(t, `
chains:
  - name: base
    chain_id: 8453
    rpc_url: https://base.example/rpc
sources:
  - chain: base
    kind: block
    interval: 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, int64(8), cfg.Historical.Concurrency)
	require.Equal(t, 93, cfg.Historical.EventChunkSize)
	require.Equal(t, "./data/syncer.db", cfg.Persistence.SQLitePath)
	require.Len(t, cfg.Chains, 1)
	require.Equal(t, "base", cfg.Chains[0].Name)
}

func TestLoadRejectsMissingRPCURL(t *testing.T) {
	path := writeConfig(t, `
chains:
  - name: base
    chain_id: 8453
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsSourceReferencingUnknownChain(t *testing.T) {
	path := writeConfig(t, `
chains:
  - name: base
    chain_id: 8453
    rpc_url: https://base.example/rpc
sources:
  - chain: optimism
    kind: block
    interval: 1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBlockSourceWithoutInterval(t *testing.T) {
	path := writeConfig(t, `
chains:
  - name: base
    chain_id: 8453
    rpc_url: https://base.example/rpc
sources:
  - chain: base
    kind: block
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverridesRPCURLPerChain(t *testing.T) {
	path := writeConfig(t, `
chains:
  - name: base
    chain_id: 8453
    rpc_url: https://placeholder.example/rpc
`)
	t.Setenv("CHAINSYNC_RPC_URL_BASE", "https://overridden.example/rpc")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://overridden.example/rpc", cfg.Chains[0].RPCURL)
}
