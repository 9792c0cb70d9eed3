// Package configs provides the embedded configuration template for mnemo.
//
// The template is embedded at build time with go:embed so it ships in every
// distribution, source builds and binary releases alike. `mnemo init` writes
// it out as mnemo.yaml in the config directory.
//
// Configuration hierarchy (see internal/config.Load):
//  1. Hardcoded defaults (internal/config NewConfig)
//  2. User config (~/.config/mnemo/config.yaml)
//  3. Local config (mnemo.yaml)
//  4. Environment variables (MNEMO_*)
package configs

import _ "embed"

// ConfigTemplate is the commented starter configuration written by
// `mnemo init`. Every value in it matches the hardcoded defaults.
//
//go:embed config.example.yaml
var ConfigTemplate string
