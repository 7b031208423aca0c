package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/celo-org/snark-setup-coordinator/store"
)

const sample = `
[server]
listen = "0.0.0.0:8443"
public_url = "https://coordinator.example.org/"
tls_self_signed = true

[store]
backend = "Bolt"
path = "/var/lib/coordinator"

[storage]
backend = "s3"

[storage.s3]
bucket = "ceremony"
region = "eu-west-1"
prefix = "round"

[auth]
strategy = "ethereum"

[metrics]
bind = "127.0.0.1:9090"
`

func TestReadSample(t *testing.T) {
	c, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	require.Equal(t, store.BackendBolt, c.Store.Backend)
	require.Equal(t, "https://coordinator.example.org", c.PublicURL())
	require.True(t, c.TLS())
	require.Equal(t, StorageS3, c.Storage.Backend)
	require.Equal(t, "ceremony", c.Storage.S3.Bucket)
	require.Equal(t, "ethereum", c.Auth.Strategy)
	require.Equal(t, DefaultCacheSize, c.Auth.CacheSize)
	require.Equal(t, "127.0.0.1:9090", c.Metrics.Bind)
}

func TestDefaults(t *testing.T) {
	c, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default(), c)
	require.Equal(t, "http://"+DefaultListen, c.PublicURL())
	require.False(t, c.TLS())
}

func TestInvalid(t *testing.T) {
	for name, input := range map[string]string{
		"unknown key":      "[server]\nlisten_on = \"x\"\n",
		"unknown store":    "[store]\nbackend = \"sqlite\"\n",
		"missing bucket":   "[storage]\nbackend = \"s3\"\n",
		"unknown strategy": "[auth]\nstrategy = \"oauth\"\n",
		"cert without key": "[server]\ntls_cert = \"cert.pem\"\n",
		"not toml":         "[server\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(input))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\nbackend = \"memory\"\n"), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, store.BackendMemory, c.Store.Backend)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
