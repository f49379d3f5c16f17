// Package configs embeds the configuration template written by
// `dropwatch config init`.
//
// The template sets every option to its built-in default, so a freshly
// initialised root behaves exactly like one without a config file.
package configs

import _ "embed"

// RootConfigTemplate is the commented template for <root>/.dropwatch.yaml.
//
//go:embed root-config.example.yaml
var RootConfigTemplate string
