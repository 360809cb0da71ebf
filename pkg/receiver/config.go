package receiver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rescp17/lantransfer/pkg/transfer"
)

// Config describes where the receiver listens and where files end up.
type Config struct {
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"` // 0 picks an ephemeral port
	DeviceName     string `json:"device_name" mapstructure:"device_name"`
	DestinationDir string `json:"destination_dir" mapstructure:"destination_dir"`
	TempDir        string `json:"temp_dir" mapstructure:"temp_dir"`

	Transfer *transfer.TransferConfig `json:"transfer" mapstructure:"transfer"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "lantransfer"
	}

	destination := "received"
	if home, err := os.UserHomeDir(); err == nil {
		destination = filepath.Join(home, "Downloads", "lantransfer")
	}

	return Config{
		Port:           53317,
		DeviceName:     hostname,
		DestinationDir: destination,
		TempDir:        filepath.Join(os.TempDir(), "lantransfer"),
		Transfer:       transfer.DefaultTransferConfig(),
	}
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DeviceName == "" {
		return errors.New("device_name cannot be empty")
	}
	if c.DestinationDir == "" {
		return errors.New("destination_dir cannot be empty")
	}
	if c.TempDir == "" {
		return errors.New("temp_dir cannot be empty")
	}
	if c.Transfer == nil {
		return errors.New("transfer configuration cannot be nil")
	}
	if err := c.Transfer.Validate(); err != nil {
		return fmt.Errorf("invalid transfer configuration: %w", err)
	}
	return nil
}

// ListenAddr is the host:port the server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
