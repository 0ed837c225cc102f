// Package configs embeds the configuration template written by
// 'docqa config init'.
package configs

import _ "embed"

// ConfigTemplate is a commented docqa.yaml listing every setting with its
// default value.
//
//go:embed docqa.example.yaml
var ConfigTemplate string
