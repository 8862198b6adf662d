// Package templates embeds the files `helix init` lays out in a fresh
// project directory.
package templates

import "embed"

//go:embed config.yaml phases.yaml spec.md instructions.md
var FS embed.FS
