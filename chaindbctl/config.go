package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/docopt/docopt-go"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/bringyour/chaindb/chaindb"
)

const envPrefix = "chaindb"

// config keys. Each can be set in the config file, as `CHAINDB_<KEY>` in the
// environment or `.env`, or with the matching `--<key>` option
const (
	cfgKeyServer   = "server"
	cfgKeyDatabase = "database"
	cfgKeyUser     = "user"
	cfgKeyPassword = "password"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chaindb", "config.yaml")
}

// loads `.env` from the working directory if present.
// Values already in the environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// A missing config file is not an error.
func loadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyServer, chaindb.DefaultServer)
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if configPath == "" {
		return v, nil
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	return v, nil
}

func optString(opts docopt.Opts, key string) string {
	value, err := opts.String(key)
	if err != nil {
		return ""
	}
	return value
}

// options override config values
func resolveConnection(v *viper.Viper, opts docopt.Opts) chaindb.Connection {
	value := func(key string) string {
		if opt := optString(opts, "--"+key); opt != "" {
			return opt
		}
		return v.GetString(key)
	}
	return chaindb.Connection{
		Server:   value(cfgKeyServer),
		Database: value(cfgKeyDatabase),
		User:     value(cfgKeyUser),
		Password: value(cfgKeyPassword),
	}
}
