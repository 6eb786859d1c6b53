package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yaml string) string {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return path
}

const primaryYAML = `
id: node-a
port: 7001
apiPort: 8001
metricsPort: 9001
primary: true
privateKey: "0102030405060708090a0b0c0d0e0f100102030405060708090a0b0c0d0e0f10"
publicKey: "02aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
peers:
  - id: node-b
    publicKey: "02bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
    address: "127.0.0.1:7002"
peerTimeoutMs: 15000
minSignaturesRequired: 2
cache:
  backend: bbolt
  bboltPath: /tmp/oraclenode/cache.db
`

func TestLoadResolvesPrimaryNode(t *testing.T) {
	path := writeTempConfig(t, primaryYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "node-a", cfg.ID)
	assert.True(t, cfg.Primary)
	assert.Equal(t, 15000, cfg.PeerTimeoutMs)
	assert.Equal(t, 2, cfg.MinSignaturesRequired)
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "node-b", cfg.Peers[0].ID)
	assert.Equal(t, "bbolt", cfg.Cache.Backend)
	assert.Len(t, cfg.PrivateKey, 32)
}

func TestLoadDefaultsPeerTimeoutAndQuorum(t *testing.T) {
	path := writeTempConfig(t, `
id: node-a
primary: true
privateKey: "0102030405060708090a0b0c0d0e0f100102030405060708090a0b0c0d0e0f"
publicKey: "02aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
peers:
  - id: node-b
    publicKey: "02bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
    address: "127.0.0.1:7002"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30000, cfg.PeerTimeoutMs)
	assert.Equal(t, 2, cfg.MinSignaturesRequired, "default quorum is the full cluster including self")
}

func TestLoadRejectsQuorumLargerThanCluster(t *testing.T) {
	path := writeTempConfig(t, `
id: node-a
primary: true
privateKey: "0102030405060708090a0b0c0d0e0f100102030405060708090a0b0c0d0e0f"
publicKey: "02aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
minSignaturesRequired: 5
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRequiresPrimaryPublicKeyOnSecondary(t *testing.T) {
	path := writeTempConfig(t, `
id: node-b
primary: false
privateKey: "0102030405060708090a0b0c0d0e0f100102030405060708090a0b0c0d0e0f"
publicKey: "02bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingRequiredKey(t *testing.T) {
	path := writeTempConfig(t, `
id: node-a
primary: true
publicKey: "02aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
`)
	_, err := Load(path)
	assert.Error(t, err)
}
