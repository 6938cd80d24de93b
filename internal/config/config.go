// Package config loads a Lance node's runtime configuration the way the
// teacher loads its service configuration: viper for layered file/env/flag
// binding, pflag for the flag set viper binds against, one Load() entry
// point returning a *Config handed to fx as a singleton.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is every knob a Lance node needs at startup (spec.md §6 "External
// interfaces" / "On-disk layout", §4.3.1 bootstrap, §12 supplemented
// retention window).
type Config struct {
	// NodeName/IsServer/ServerSecret identify this node (§3 "Server /
	// Client"). ServerSecret is blank on first boot of a server — the
	// sync-daemon handler then generates one (§4.3.1).
	NodeName     string `mapstructure:"node_name"`
	IsServer     bool   `mapstructure:"is_server"`
	ServerSecret string `mapstructure:"server_secret"`

	// ConfigRoot/DataRoot/BinaryPath/GUIAddress/ListenAddress configure the
	// sync-daemon handler (spec.md §4.3 Options).
	ConfigRoot    string `mapstructure:"config_root"`
	DataRoot      string `mapstructure:"data_root"`
	BinaryPath    string `mapstructure:"syncdaemon_binary"`
	GUIAddress    string `mapstructure:"gui_address"`
	ListenAddress string `mapstructure:"listen_address"`

	// MaxDeviceRetention is the supplemented force-removal window (§12,
	// resolving spec.md §9's open question on devices that never come
	// online to acknowledge deletion).
	MaxDeviceRetention time.Duration `mapstructure:"max_device_retention"`

	// BridgeAddress is where internal/guibridge listens for the read-only
	// GUI/detail-viewer HTTP+websocket surface (spec.md §1 "any
	// GUI/detail-viewer (a mere consumer of the event bus)"), which also
	// mounts GET /metrics for internal/metrics.
	BridgeAddress string `mapstructure:"bridge_address"`
}

// Load binds pflag-declared flag defaults, an optional config file (any
// format viper supports: YAML, JSON, TOML...) named by file, and
// LANCE_-prefixed environment variables, in that ascending precedence. The
// flag set is never parsed, so flags contribute only their defaults. This
// matches the teacher's config.LoadConfig() contract (`config.LoadConfig()` in
// cmd/cmd.go's serverCmd).
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LANCE")
	v.AutomaticEnv()

	flags := pflag.NewFlagSet("lance", pflag.ContinueOnError)
	flags.String("node_name", "", "this node's human-readable name")
	flags.Bool("is_server", false, "whether this node belongs to the authoritative server set")
	flags.String("server_secret", "", "shared server secret salt; a server generates one if blank")
	flags.String("config_root", "./lance-data/config", "sync-daemon home directory (bootstrap cache, keys)")
	flags.String("data_root", "./lance-data/data", "root for server/, control/<id>/, and shared folders")
	flags.String("syncdaemon_binary", "syncthing", "path to the sync-daemon executable")
	flags.String("gui_address", "127.0.0.1:8384", "sync-daemon control API listen address")
	flags.String("listen_address", "0.0.0.0:22000", "sync-daemon protocol listen address")
	flags.Duration("max_device_retention", 30*24*time.Hour, "force-removal window for a device stuck pending deletion")
	flags.String("bridge_address", "127.0.0.1:8080", "GUI/detail-viewer bridge listen address (also serves /metrics)")
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
