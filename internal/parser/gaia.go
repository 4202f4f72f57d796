package parser

import (
	"net"
	"regexp"
	"strings"

	"github.com/idswatch/sentinel/pkg/types"
)

// gaiaActionPattern captures the action token out of a Checkpoint Gaia
// raw-syslog line. It is compiled once, at package initialization, and
// reused across every call to Parse rather than compiled per line.
var gaiaActionPattern = regexp.MustCompile(`(?i)Checkpoint:.*?action="?(drop|accept)"?`)

// GaiaParser recognizes Checkpoint Gaia raw-syslog lines: a single regex
// anchored on "Checkpoint:" pulls the action, and the trailing extension
// region is scanned as ";"-separated key=value pairs.
type GaiaParser struct{}

// NewGaiaParser creates a Gaia parser. It holds no mutable state, so a
// single instance is safe to share across every goroutine in the ingress
// loop.
func NewGaiaParser() *GaiaParser {
	return &GaiaParser{}
}

func (p *GaiaParser) Name() string { return "gaia" }

func (p *GaiaParser) ExpectedFormat() string {
	return `Checkpoint:...;src=<ip>;dst=<ip>;proto=<proto>;service=<port>;s_port=<port>;action=drop|accept;`
}

func (p *GaiaParser) Parse(line string) (*types.LogEvent, bool) {
	m := gaiaActionPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, false
	}

	action, ok := parseAction(m[1])
	if !ok {
		return nil, false
	}

	fields := scanGaiaFields(line)

	rawSrc, ok := fields["src"]
	if !ok {
		return nil, false
	}
	srcIP := net.ParseIP(rawSrc)
	if srcIP == nil {
		return nil, false
	}

	rawService, ok := fields["service"]
	if !ok {
		return nil, false
	}
	port, ok := parsePort(rawService)
	if !ok {
		return nil, false
	}

	var dstIP net.IP
	if rawDst, ok := fields["dst"]; ok {
		dstIP = net.ParseIP(rawDst) // nil stays nil on a malformed dst; dst is optional by spec
	}

	return &types.LogEvent{
		SourceIP: srcIP,
		DestIP:   dstIP,
		DestPort: port,
		Protocol: fields["proto"],
		Action:   action,
		RawLog:   line,
	}, true
}

// scanGaiaFields scans the ";"-delimited key=value extension region for the
// keys this parser recognizes. Unknown keys are ignored; on a duplicate key
// the last occurrence wins, consistent with the CEF parser's tie-break.
func scanGaiaFields(line string) map[string]string {
	fields := make(map[string]string, 5)
	for _, part := range strings.Split(line, ";") {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "src", "dst", "proto", "service", "s_port":
			fields[key] = value
		}
	}
	return fields
}
