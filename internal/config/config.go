// Package config implements the viper-backed configuration surface
// named by spec.md §6 Environment: the worker's BackendUrl and CDN
// tuning knobs, the catalog's database DSN, and the tile blob store's
// Local/R2 provider switch.
//
// Grounded on orbas1-Synnergy's cmd/explorer/main.go viper.AutomaticEnv
// idiom, generalized from ad hoc viper.GetString calls into one bound
// struct so cmd/scanner and cmd/catalogd share a single config shape.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TileStoreProvider selects the tile blob store backend (spec.md §6).
type TileStoreProvider string

const (
	TileStoreLocal TileStoreProvider = "Local"
	TileStoreR2    TileStoreProvider = "R2"
)

// Config is the full environment-driven configuration surface (spec.md
// §6 Environment), bound from env vars (and an optional YAML file) via
// viper. Nested spec.md keys like "LocalTileStore:Path" map to env vars
// with ":" replaced by "_", e.g. LOCALTILESTORE_PATH.
type Config struct {
	// TileStoreProvider selects Local or R2 (spec.md §6).
	TileStoreProvider TileStoreProvider `mapstructure:"TileStoreProvider"`

	// LocalTileStore configures the filesystem tile blob store.
	LocalTileStore struct {
		Path string `mapstructure:"Path"`
	} `mapstructure:"LocalTileStore"`

	// R2TileStore configures the S3-compatible tile blob store.
	R2TileStore struct {
		ServiceUrl string `mapstructure:"ServiceUrl"`
		AccessKey  string `mapstructure:"AccessKey"`
		SecretKey  string `mapstructure:"SecretKey"`
		BucketName string `mapstructure:"BucketName"`
	} `mapstructure:"R2TileStore"`

	// Blizztrack groups cache/resource-locator settings.
	Blizztrack struct {
		CachePath string `mapstructure:"CachePath"`
	} `mapstructure:"Blizztrack"`

	// Services groups optional outbound integrations.
	Services struct {
		EventWebhook string `mapstructure:"EventWebhook"`
	} `mapstructure:"Services"`

	// BackendUrl is the worker's base URL for the catalog's publish
	// protocol (spec.md §4.L); unused by the catalog process itself.
	BackendUrl string `mapstructure:"BackendUrl"`

	// ConnectionString is the catalog's Postgres DSN (spec.md §6 CLI
	// surface flag --connection-string; also settable via env/file).
	ConnectionString string `mapstructure:"ConnectionString"`

	// PollInterval is the version poller's tick interval (spec.md §4.A).
	PollInterval time.Duration `mapstructure:"PollInterval"`

	// KeyListURL is the upstream decryption-key list URL (spec.md §6).
	KeyListURL string `mapstructure:"KeyListURL"`

	// Products is a comma-separated list of products the version poller
	// watches (spec.md §4.A: "for each configured product"). Kept as a
	// plain string rather than a []string field: viper's AutomaticEnv
	// doesn't split delimited env values into slices, only a file-backed
	// config does, and this needs to work from either.
	Products string `mapstructure:"Products"`

	// AdditionalCDNs augments the hard-coded CDN endpoint list per
	// product (spec.md §6 CLI surface: "--additional-cdn (repeatable)").
	AdditionalCDNs []string `mapstructure:"AdditionalCDNs"`
}

// Load builds a Config from environment variables, an optional config
// file at configPath (if non-empty and present), and built-in defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(":", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("TileStoreProvider", string(TileStoreLocal))
	v.SetDefault("LocalTileStore.Path", "./tiles")
	v.SetDefault("Blizztrack.CachePath", "./res")
	v.SetDefault("PollInterval", 5*time.Minute)
	v.SetDefault("KeyListURL", "https://raw.githubusercontent.com/wowdev/TACTKeys/master/WoW.txt")

	// viper's AutomaticEnv doesn't reach nested keys through Unmarshal
	// without an explicit bind per key; spelled out here rather than
	// left as a silent gap.
	for _, key := range []string{
		"TileStoreProvider", "LocalTileStore.Path",
		"R2TileStore.ServiceUrl", "R2TileStore.AccessKey", "R2TileStore.SecretKey", "R2TileStore.BucketName",
		"Blizztrack.CachePath", "Services.EventWebhook",
		"BackendUrl", "ConnectionString", "PollInterval", "KeyListURL", "Products",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return &cfg, nil
}
