package parser

import (
	"net"
	"strings"

	"github.com/idswatch/sentinel/pkg/types"
)

// cefHeaderFields is the number of "|"-delimited fields that make up a CEF
// header (CEF:Version|Device Vendor|Device Product|Device Version|Signature
// ID|Name|Severity) before the extension field begins.
const cefHeaderFields = 7

// cefKeyAliases maps every recognized extension key spelling (including the
// long-form ArcSight aliases) to the canonical field it populates. Matching
// is case-insensitive; the map is pre-lowercased so lookups never allocate.
var cefKeyAliases = map[string]string{
	"src":                "src",
	"sourceaddress":      "src",
	"shost":              "src",
	"dst":                "dst",
	"destinationaddress": "dst",
	"dhost":              "dst",
	"dpt":                "dpt",
	"dst_port":           "dpt",
	"destinationport":    "dpt",
	"proto":              "proto",
	"act":                "act",
}

// CEFParser recognizes Common Event Format lines. It scans for the literal
// "CEF:" marker anywhere in the line (a syslog header commonly precedes it),
// then splits the header on "|" and the extension field on whitespace.
type CEFParser struct{}

// NewCEFParser creates a CEF parser. Like GaiaParser it carries no mutable
// state and is safe to share across goroutines.
func NewCEFParser() *CEFParser {
	return &CEFParser{}
}

func (p *CEFParser) Name() string { return "cef" }

func (p *CEFParser) ExpectedFormat() string {
	return `CEF:0|Vendor|Product|Version|SigID|Name|Severity|src=<ip> dst=<ip> dpt=<port> proto=<proto> act=drop|accept`
}

func (p *CEFParser) Parse(line string) (*types.LogEvent, bool) {
	idx := strings.Index(line, "CEF:")
	if idx < 0 {
		return nil, false
	}
	cef := line[idx:]

	fields := strings.SplitN(cef, "|", cefHeaderFields+1)
	if len(fields) < cefHeaderFields+1 {
		return nil, false
	}
	extensions := fields[cefHeaderFields]

	kv := scanCEFExtensions(extensions)

	action, ok := parseAction(kv["act"])
	if !ok {
		return nil, false
	}

	rawSrc, ok := kv["src"]
	if !ok {
		return nil, false
	}
	srcIP := net.ParseIP(rawSrc)
	if srcIP == nil {
		return nil, false
	}

	rawPort, ok := kv["dpt"]
	if !ok {
		return nil, false
	}
	port, ok := parsePort(rawPort)
	if !ok {
		return nil, false
	}

	var dstIP net.IP
	if rawDst, ok := kv["dst"]; ok {
		dstIP = net.ParseIP(rawDst)
	}

	return &types.LogEvent{
		SourceIP: srcIP,
		DestIP:   dstIP,
		DestPort: port,
		Protocol: kv["proto"],
		Action:   action,
		RawLog:   line,
	}, true
}

// scanCEFExtensions splits a CEF extension field into whitespace-separated
// key=value pairs, resolving aliased keys to their canonical name. A value
// may itself contain spaces (CEF allows this); the next token is treated as
// part of the current value until a bareword "key=" pattern is seen, mirroring
// how the format is commonly parsed in practice for the small key set this
// detector cares about. On a duplicate canonical key, the last occurrence
// wins.
func scanCEFExtensions(extensions string) map[string]string {
	out := make(map[string]string, 5)
	tokens := strings.Fields(extensions)

	var curKey string
	var curVal []string
	flush := func() {
		if curKey == "" {
			return
		}
		if canonical, known := cefKeyAliases[curKey]; known {
			out[canonical] = strings.Join(curVal, " ")
		}
	}

	for _, tok := range tokens {
		key, val, found := strings.Cut(tok, "=")
		if found && isCEFKeyToken(key) {
			flush()
			curKey = strings.ToLower(key)
			curVal = []string{val}
			continue
		}
		curVal = append(curVal, tok)
	}
	flush()

	return out
}

// isCEFKeyToken reports whether key looks like a CEF extension key rather
// than a continuation word of a multi-token value: CEF keys are a single
// alphanumeric/underscore run with no internal spaces, which strings.Fields
// already guarantees for the substring before "=".
func isCEFKeyToken(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
