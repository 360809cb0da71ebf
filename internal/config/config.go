package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rescp17/lantransfer/internal/util"
	"github.com/rescp17/lantransfer/pkg/receiver"
)

const (
	// EnvPrefix namespaces environment overrides, e.g. LANTRANSFER_PORT or
	// LANTRANSFER_TRANSFER_TRANSFER_TIMEOUT.
	EnvPrefix = "LANTRANSFER"

	// FileName is looked up in the home directory when no file is given.
	FileName = ".lantransfer"
)

// FlagKeys maps command-line flag names onto configuration keys. Only the
// flags present in the set handed to Load are bound.
var FlagKeys = map[string]string{
	"host":       "host",
	"port":       "port",
	"name":       "device_name",
	"dest":       "destination_dir",
	"temp":       "temp_dir",
	"max-size":   "transfer.max_file_size",
	"timeout":    "transfer.transfer_timeout",
	"extensions": "transfer.allowed_extensions",
}

// Load builds the receiver configuration from, in increasing precedence:
// built-in defaults, the YAML file at path (or ~/.lantransfer.yaml when
// path is empty), LANTRANSFER_* environment variables and changed flags.
func Load(path string, flags *pflag.FlagSet) (receiver.Config, error) {
	v := viper.New()
	setDefaults(v, receiver.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readFile(v, path); err != nil {
		return receiver.Config{}, err
	}

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return receiver.Config{}, fmt.Errorf("failed to bind flag --%s: %w", name, err)
			}
		}
	}

	var cfg receiver.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return receiver.Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}

	for _, dir := range []*string{&cfg.DestinationDir, &cfg.TempDir} {
		expanded, err := util.ExpandHome(*dir)
		if err != nil {
			return receiver.Config{}, err
		}
		*dir = expanded
	}

	if err := cfg.Validate(); err != nil {
		return receiver.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func readFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Debug("No home directory, skipping config file", "error", err)
			return nil
		}
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(FileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	slog.Info("Using config file", "path", v.ConfigFileUsed())
	return nil
}

// setDefaults registers every key so that environment variables are seen
// by Unmarshal even when no file mentions them.
func setDefaults(v *viper.Viper, def receiver.Config) {
	v.SetDefault("host", def.Host)
	v.SetDefault("port", def.Port)
	v.SetDefault("device_name", def.DeviceName)
	v.SetDefault("destination_dir", def.DestinationDir)
	v.SetDefault("temp_dir", def.TempDir)

	t := def.Transfer
	v.SetDefault("transfer.max_file_size", t.MaxFileSize)
	v.SetDefault("transfer.max_chunk_size", t.MaxChunkSize)
	v.SetDefault("transfer.default_chunk_size", t.DefaultChunkSize)
	v.SetDefault("transfer.max_total_chunks", t.MaxTotalChunks)
	v.SetDefault("transfer.allowed_extensions", t.AllowedExtensions)
	v.SetDefault("transfer.allowed_mime_types", t.AllowedMimeTypes)
	v.SetDefault("transfer.transfer_timeout", t.TransferTimeout)
	v.SetDefault("transfer.handshake_timeout", t.HandshakeTimeout)
	v.SetDefault("transfer.state_throttle_interval", t.StateThrottleInterval)
}
