// Package output renders command results to the terminal. The status
// command prints manifest summaries through it: yaml by default for
// reading, json for piping into jq or the automation layer.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Format names a rendering for command results.
type Format string

const (
	YAML Format = "yaml"
	JSON Format = "json"
)

// current is set once by the root command's --output flag before any
// subcommand runs.
var current = YAML

// SetFormat selects the process-wide output format. Unknown values fall
// back to yaml rather than erroring, since the flag default covers the
// common case.
func SetFormat(s string) {
	if Format(s) == JSON {
		current = JSON
	} else {
		current = YAML
	}
}

// Print renders v to stdout in the selected format.
func Print(v any) error {
	return render(os.Stdout, current, v)
}

func render(w io.Writer, f Format, v any) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format: %s", f)
	}
}
