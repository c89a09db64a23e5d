// Package policies embeds the built-in scoring policy into the binary.
package policies

import "embed"

// Embedded contains the built-in scoring policy YAML.
//
//go:embed scoring.yaml
var Embedded embed.FS
