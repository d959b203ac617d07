package catalog

import "embed"

// Migrations embeds the golang-migrate source tree applied by
// cmd/catalogd's migrate subcommand (spec.md §1: migration tooling
// itself is out of scope as a library; the CLI's migrate subcommand
// still needs a driver, see SPEC_FULL.md DOMAIN STACK).
//
//go:embed migrations/*.sql
var Migrations embed.FS
