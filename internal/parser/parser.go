// Package parser turns one raw firewall log line into a types.LogEvent.
//
// Implementations must be safe to share across goroutines without external
// coordination: Parse never mutates shared state, never blocks, and never
// performs I/O. Returning ok=false means "not a line this detector cares
// about" — it is not an error, and malformed fields are folded into the
// same false result rather than surfaced separately.
package parser

import (
	"fmt"
	"strings"

	"github.com/idswatch/sentinel/pkg/types"
)

// Parser is the contract every concrete log format implements.
type Parser interface {
	// Parse parses one line into a LogEvent. ok is false when the line is
	// not recognized as a firewall drop/accept event, for any reason.
	Parse(line string) (event *types.LogEvent, ok bool)

	// Name identifies the parser for config selection and logging.
	Name() string

	// ExpectedFormat describes the wire shape this parser recognizes, used
	// for the debug-mode FAIL diagnostic.
	ExpectedFormat() string
}

// New resolves a parser by the configured name. Adding a new format is:
// implement Parser, add a case here. No other package needs to change.
func New(name string) (Parser, error) {
	switch strings.ToLower(name) {
	case "gaia":
		return NewGaiaParser(), nil
	case "cef":
		return NewCEFParser(), nil
	default:
		return nil, fmt.Errorf("unknown parser: %q (want %q or %q)", name, "gaia", "cef")
	}
}

// parseAction normalizes a raw action token to types.Action, reporting
// whether it was one of the two recognized values. Matching is
// case-insensitive, as required by both parsers.
func parseAction(raw string) (types.Action, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "drop":
		return types.ActionDrop, true
	case "accept":
		return types.ActionAccept, true
	default:
		return "", false
	}
}

// parsePort parses a u16 in [1, 65535]; port 0 is never a valid service port
// in this domain and is treated as absent.
func parsePort(raw string) (uint16, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	var n uint32
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint32(c-'0')
		if n > 65535 {
			return 0, false
		}
	}
	if n == 0 {
		return 0, false
	}
	return uint16(n), true
}
