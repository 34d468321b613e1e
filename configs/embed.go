// Package configs embeds the configuration template written by
// `amanrecall config init`.
//
// The template lists every setting with its default value, so a fresh file
// loads to the same configuration as no file at all. When a default in
// internal/config changes, update config.example.yaml with it.
package configs

import _ "embed"

// ConfigTemplate is the commented configuration file.
//
//go:embed config.example.yaml
var ConfigTemplate string
