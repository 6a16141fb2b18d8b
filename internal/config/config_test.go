package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  addr: ":9000"
  watch: true
chains:
  - chain_id: 31337
    rpc_url: http://localhost:8545
    ws_url: ws://localhost:8545
    token_address: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
    marketplace_address: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
    signer_key_env: LOCAL_KEY
rpc:
  max_concurrency: 8
cache:
  backend: redis
  ttl: 1h
  redis_addr: localhost:6379
log:
  level: debug
  format: console
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoad_FileOverDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.True(t, cfg.Server.Watch)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout, "unset fields keep defaults")
	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, int64(31337), cfg.Chains[0].ChainID)
	assert.Equal(t, 8, cfg.RPC.MaxConcurrency)
	assert.Equal(t, 3, cfg.RPC.MaxRetries)
	assert.Equal(t, BackendRedis, cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "chains: [\n"))
	assert.Error(t, err)
}

func TestApplyEnv_SingleChain(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"NFTSYNC_CHAIN_ID":            "1337",
		"NFTSYNC_RPC_URL":             "http://node:8545",
		"NFTSYNC_TOKEN_ADDRESS":       "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"NFTSYNC_MARKETPLACE_ADDRESS": "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		"NFTSYNC_CACHE_TTL":           "30m",
		"NFTSYNC_RPC_MAX_CONCURRENCY": "4",
	}))
	require.NoError(t, err)

	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, "http://node:8545", cfg.Chains[0].RPCURL)
	assert.Equal(t, "NFTSYNC_SIGNER_KEY", cfg.Chains[0].SignerKeyEnv)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 4, cfg.RPC.MaxConcurrency)
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_OverridesExistingChain(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	err = cfg.applyEnv(env(map[string]string{
		"NFTSYNC_CHAIN_ID": "31337",
		"NFTSYNC_RPC_URL":  "http://other:8545",
	}))
	require.NoError(t, err)
	require.Len(t, cfg.Chains, 1)
	assert.Equal(t, "http://other:8545", cfg.Chains[0].RPCURL)
	assert.Equal(t, "LOCAL_KEY", cfg.Chains[0].SignerKeyEnv)
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(env(map[string]string{
		"NFTSYNC_CACHE_TTL":           "soon",
		"NFTSYNC_RPC_MAX_CONCURRENCY": "many",
		"NFTSYNC_CHAIN_ID":            "mainnet",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NFTSYNC_CACHE_TTL")
	assert.Contains(t, err.Error(), "NFTSYNC_RPC_MAX_CONCURRENCY")
	assert.Contains(t, err.Error(), "NFTSYNC_CHAIN_ID")
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Chains = []ChainConfig{
		{ChainID: 1, TokenAddress: "nope", MarketplaceAddress: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512", WSURL: "http://x"},
		{ChainID: 1, RPCURL: "http://a", TokenAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3", MarketplaceAddress: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"},
	}
	cfg.Cache.Backend = BackendPostgres
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "chains[0]: rpc_url is required")
	assert.Contains(t, msg, "chains[0]: ws_url must use")
	assert.Contains(t, msg, "invalid token_address")
	assert.Contains(t, msg, "duplicate chain_id 1")
	assert.Contains(t, msg, "postgres_dsn is required")
	assert.Contains(t, msg, `unknown log.format "xml"`)
}

func TestValidate_NoChains(t *testing.T) {
	assert.ErrorContains(t, Default().Validate(), "at least one chain")
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "# comment\nNFTSYNC_TEST_A=one\nNFTSYNC_TEST_B=\"two\"\nmalformed\n")
	t.Setenv("NFTSYNC_TEST_B", "kept")

	require.NoError(t, LoadEnvFile(path))
	t.Cleanup(func() { os.Unsetenv("NFTSYNC_TEST_A") })

	assert.Equal(t, "one", os.Getenv("NFTSYNC_TEST_A"))
	assert.Equal(t, "kept", os.Getenv("NFTSYNC_TEST_B"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestChainConfig_SignerKey(t *testing.T) {
	t.Setenv("NFTSYNC_TEST_KEY", "0xabc")
	assert.Equal(t, "0xabc", ChainConfig{SignerKeyEnv: "NFTSYNC_TEST_KEY"}.SignerKey())
	assert.Empty(t, ChainConfig{}.SignerKey())
}
