package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docopt/docopt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bringyour/chaindb/chaindb"
)

func writeFile(t *testing.T, path string, content string) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoadConfigMissingFile(t *testing.T) {
	v, err := loadConfig(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, chaindb.DefaultServer, v.GetString(cfgKeyServer))
	assert.Equal(t, "", v.GetString(cfgKeyDatabase))
}

func TestLoadConfigInvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "server: [unclosed\n")

	_, err := loadConfig(configPath)
	assert.Error(t, err)
}

func TestResolveConnectionPrecedence(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, configPath, "server: http://db.example.com:2818\ndatabase: file-db\nuser: file-user\n")

	t.Setenv("CHAINDB_USER", "env-user")
	t.Setenv("CHAINDB_PASSWORD", "env-password")

	v, err := loadConfig(configPath)
	require.NoError(t, err)

	connection := resolveConnection(v, docopt.Opts{
		"--database": "flag-db",
		"--user":     nil,
	})
	assert.Equal(t, chaindb.Connection{
		Server:   "http://db.example.com:2818",
		Database: "flag-db",
		User:     "env-user",
		Password: "env-password",
	}, connection)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	// missing is fine
	require.NoError(t, loadDotEnv(filepath.Join(dir, ".env")))

	envPath := filepath.Join(dir, ".env")
	writeFile(t, envPath, "CHAINDB_DATABASE=dotenv-db\n")
	t.Setenv("CHAINDB_DATABASE", "")
	os.Unsetenv("CHAINDB_DATABASE")
	require.NoError(t, loadDotEnv(envPath))

	v, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-db", v.GetString(cfgKeyDatabase))
}
