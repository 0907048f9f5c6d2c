package configloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConf struct {
	Endpoint string        `yaml:"endpoint"`
	ApiKey   string        `yaml:"api_key"`
	Interval time.Duration `yaml:"interval"`
}

func TestLoadConfig_ExpandsEnv(t *testing.T) {
	t.Setenv("CHAIN_STREAM_TEST_KEY", "secret-token")

	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	content := "endpoint: mainnet.helius-rpc.com:443\napi_key: ${CHAIN_STREAM_TEST_KEY}\ninterval: 30s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var c sampleConf
	require.NoError(t, LoadConfig(path, &c))

	assert.Equal(t, "mainnet.helius-rpc.com:443", c.Endpoint)
	assert.Equal(t, "secret-token", c.ApiKey)
	assert.Equal(t, 30*time.Second, c.Interval)
}

func TestLoadConfig_UnknownField(t *testing.T) {
	var c sampleConf
	err := LoadConfigBytes([]byte("endpoint: x\nbogus: 1\n"), &c)
	assert.Error(t, err)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	var c sampleConf
	err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), &c)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
