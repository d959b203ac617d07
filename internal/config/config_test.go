package config

import (
	"os"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TileStoreProvider != TileStoreLocal {
		t.Fatalf("TileStoreProvider = %q, want %q", cfg.TileStoreProvider, TileStoreLocal)
	}
	if cfg.LocalTileStore.Path != "./tiles" {
		t.Fatalf("LocalTileStore.Path = %q", cfg.LocalTileStore.Path)
	}
}

func TestLoadReadsEnvOverride(t *testing.T) {
	os.Setenv("CONNECTIONSTRING", "postgres://test")
	defer os.Unsetenv("CONNECTIONSTRING")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConnectionString != "postgres://test" {
		t.Fatalf("ConnectionString = %q, want postgres://test", cfg.ConnectionString)
	}
}

func TestLoadReadsProductsEnvOverride(t *testing.T) {
	os.Setenv("PRODUCTS", "wow_classic,wow")
	defer os.Unsetenv("PRODUCTS")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Products != "wow_classic,wow" {
		t.Fatalf("Products = %q, want wow_classic,wow", cfg.Products)
	}
}
