// Package tactfs implements the TACT-style filesystem resolver (spec.md
// §4.D): given (product, build-config-key, cdn-config-key), produces a
// read-only OpenByFileId(fid, locale) filesystem from Build/Server
// configuration, Encoding, Root, Install, and archive/file indices.
//
// Grounded on internal/cog/reader.go: a single type that combines several
// memory-mapped "directories" of offsets (IFDs, strip layouts) into one
// queryable structure — the same shape as combining Encoding + Root +
// CompoundingIndex + FileIndex here.
package tactfs

import (
	"bufio"
	"fmt"
	"strings"
)

// KeyValueConfig is the parsed form of a BuildConfig/ServerConfig text blob:
// whitespace-separated "key = value1 value2 ..." lines.
type KeyValueConfig map[string][]string

// ParseKeyValueConfig parses the simple config text format shared by Build
// and CDN/Server configuration files.
func ParseKeyValueConfig(text string) (KeyValueConfig, error) {
	cfg := make(KeyValueConfig)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		fields := strings.Fields(parts[1])
		cfg[key] = fields
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("tactfs: parsing config: %w", err)
	}
	return cfg, nil
}

func (c KeyValueConfig) First(key string) string {
	if v, ok := c[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c KeyValueConfig) All(key string) []string {
	return c[key]
}

// BuildConfig is the subset of BuildConfiguration fields the resolver
// consumes (spec.md §4.D step 1).
type BuildConfig struct {
	Root     string // content key
	Encoding []string
	Install  []string
	Raw      KeyValueConfig
}

// ParseBuildConfig parses a BuildConfiguration blob.
func ParseBuildConfig(text string) (*BuildConfig, error) {
	raw, err := ParseKeyValueConfig(text)
	if err != nil {
		return nil, err
	}
	return &BuildConfig{
		Root:     raw.First("root"),
		Encoding: raw.All("encoding"),
		Install:  raw.All("install"),
		Raw:      raw,
	}, nil
}

// ServerConfig is the subset of ServerConfiguration/CDN config fields the
// resolver consumes (spec.md §4.D step 1).
type ServerConfig struct {
	Archives     []string
	ArchiveGroup string
	FileIndex    string
	Raw          KeyValueConfig
}

// ParseServerConfig parses a ServerConfiguration blob.
func ParseServerConfig(text string) (*ServerConfig, error) {
	raw, err := ParseKeyValueConfig(text)
	if err != nil {
		return nil, err
	}
	return &ServerConfig{
		Archives:     raw.All("archives"),
		ArchiveGroup: raw.First("archive-group"),
		FileIndex:    raw.First("file-index"),
		Raw:          raw,
	}, nil
}
