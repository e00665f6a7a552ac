// Package templates embeds the files `gelpilot init` scaffolds a bench with.
package templates

import "embed"

//go:embed config.yaml labware.yaml runbook.md protocols
var FS embed.FS
