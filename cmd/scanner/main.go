// Command scanner is the worker-side binary (spec.md §2, §4.A–§4.I):
// the version poller, the per-build scan orchestrator, and a couple of
// maintenance subcommands that talk to the catalog directly.
//
// Subcommand layout mirrors cmd/catalogd's: one flat cobra root broken
// into subcommands the way orbas1-Synnergy's cmd/synnergy/main.go
// groups related operations.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blizztrack/scanner/internal/blte"
	"github.com/blizztrack/scanner/internal/config"
	"github.com/blizztrack/scanner/internal/locator"
	"github.com/blizztrack/scanner/internal/publish"
	"github.com/blizztrack/scanner/internal/ribbit"
	"github.com/blizztrack/scanner/internal/tactkeys"
)

// defaultCDNEndpoints is the static, operator-overridable CDN list
// (DESIGN.md Open Question 1: "hard-coded static list per product...
// but the list is a internal/locator.Config field, not a literal
// constant, so an operator can override it without a code change").
// --additional-cdn appends to, never replaces, this list.
var defaultCDNEndpoints = []string{
	"http://level3.blizzard.com",
	"http://us.cdn.blizzard.com",
	"http://blzddist1-a.akamaihd.net",
}

func main() {
	root := &cobra.Command{Use: "scanner"}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("product", "", "product to operate on (e.g. wow_classic)")
	root.PersistentFlags().String("casc-region", "us", "CASC/version-service region")
	root.PersistentFlags().String("filter-id", "", "glob over map ids, restricts the per-map phase")
	root.PersistentFlags().StringArray("additional-cdn", nil, "additional CDN endpoint (repeatable)")
	root.PersistentFlags().String("connection-string", "", "Postgres DSN, used only by sync-tiles")

	root.AddCommand(generateCmd())
	root.AddCommand(serviceCmd())
	root.AddCommand(syncTilesCmd())
	root.AddCommand(generateHeightmapsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cs, _ := cmd.Flags().GetString("connection-string"); cs != "" {
		cfg.ConnectionString = cs
	}
	return cfg, nil
}

// workerDeps bundles the per-process collaborators every scanning
// subcommand needs (spec.md §4.I preconditions): a loaded/refreshed
// TACT key registry, the BLTE codec bound to it, the resource locator,
// the Ribbit client, and the worker-side publish client.
type workerDeps struct {
	logger     *zap.SugaredLogger
	registry   *tactkeys.Registry
	codec      *blte.Codec
	loc        *locator.Locator
	ribbit     *ribbit.Client
	publish    *publish.Client
	webhookURL string
}

func buildWorkerDeps(cmd *cobra.Command, cfg *config.Config) (*workerDeps, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("scanner: building logger: %w", err)
	}
	sugar := logger.Sugar()

	registry := tactkeys.New()
	keyFile := cfg.Blizztrack.CachePath + "/TACTKeys.txt"
	if _, err := registry.LoadFromFile(keyFile); err != nil {
		sugar.Warnw("scanner: loading persisted key list failed, continuing with an empty registry", "path", keyFile, "error", err)
	}
	src := tactkeys.NewSource(cfg.KeyListURL, keyFile+".etag")
	if n, err := src.Refresh(registry); err != nil {
		sugar.Warnw("scanner: refreshing key list failed", "error", err)
	} else if n > 0 {
		sugar.Infow("scanner: loaded new decryption keys", "count", n)
		if err := registry.SaveToFile(keyFile); err != nil {
			sugar.Warnw("scanner: persisting key list failed", "error", err)
		}
	}

	codec := blte.New(registry)

	additional, _ := cmd.Flags().GetStringArray("additional-cdn")
	endpoints := append(append([]string{}, defaultCDNEndpoints...), cfg.AdditionalCDNs...)
	endpoints = append(endpoints, additional...)

	loc := locator.New(locator.Config{
		Endpoints: endpoints,
		CacheRoot: cfg.Blizztrack.CachePath,
	}, codec)

	region, _ := cmd.Flags().GetString("casc-region")
	ribbitClient := ribbit.NewClient(fmt.Sprintf("https://%s.version.battle.net", region))

	if cfg.BackendUrl == "" {
		return nil, fmt.Errorf("scanner: BackendUrl config key (env BACKENDURL) is required")
	}
	publishClient := publish.NewClient(cfg.BackendUrl)

	return &workerDeps{
		logger:     sugar,
		registry:   registry,
		codec:      codec,
		loc:        loc,
		ribbit:     ribbitClient,
		publish:    publishClient,
		webhookURL: cfg.Services.EventWebhook,
	}, nil
}

func splitProducts(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func defaultInterval(cfg *config.Config) time.Duration {
	if cfg.PollInterval > 0 {
		return cfg.PollInterval
	}
	return 5 * time.Minute
}
