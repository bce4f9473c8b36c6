// Package enforcement bridges the build system and the radar package: it
// bakes patterns.yaml into the compiled binary with go:embed so the static
// pattern pack travels with the executable and needs no filesystem lookup.
package enforcement

import _ "embed"

// Patterns holds the raw bytes of patterns.yaml, populated at compile time.
// Pass it to yaml.Unmarshal to obtain the pattern table.
//
//go:embed patterns.yaml
var Patterns []byte
