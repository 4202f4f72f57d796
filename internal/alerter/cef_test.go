package alerter

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/idswatch/sentinel/pkg/types"
)

func testAlert(kind types.ScanKind) *types.Alert {
	return &types.Alert{
		ID:          "11111111-1111-1111-1111-111111111111",
		ScanKind:    kind,
		SourceIP:    net.ParseIP("192.168.11.7"),
		DestIP:      net.ParseIP("10.0.0.5"),
		UniquePorts: []uint16{22, 80, 443},
		At:          time.Date(2026, time.February, 3, 4, 5, 6, 0, time.UTC),
	}
}

func TestFormatCEF_SevenUnescapedPipesAndNoRawNewlines(t *testing.T) {
	for _, kind := range []types.ScanKind{types.ScanFast, types.ScanSlow, types.ScanAccept} {
		datagram := FormatCEF(testAlert(kind), "")

		// The header carries exactly seven field-separating pipes; the
		// extension carries exactly one, the literal " | ports: " separator
		// inside msg.
		split := strings.Index(datagram, "|rt=")
		if split < 0 {
			t.Fatalf("%s: could not locate extension in datagram: %q", kind, datagram)
		}
		header, ext := datagram[:split+1], datagram[split+1:]
		if n := countUnescapedPipes(header); n != 7 {
			t.Errorf("%s: got %d unescaped header pipes, want 7: %q", kind, n, datagram)
		}
		if n := countUnescapedPipes(ext); n != 1 {
			t.Errorf("%s: got %d unescaped extension pipes, want 1: %q", kind, n, datagram)
		}
		if strings.ContainsRune(datagram, '\n') || strings.ContainsRune(datagram, '\r') {
			t.Errorf("%s: datagram contains a raw newline/carriage return: %q", kind, datagram)
		}
	}
}

func TestFormatCEF_PerKindFields(t *testing.T) {
	tests := []struct {
		kind      types.ScanKind
		sigID     string
		eventName string
		severity  string
	}{
		{types.ScanFast, "1001", "Fast Port Scan Detected", "7"},
		{types.ScanSlow, "1002", "Slow Port Scan Detected", "6"},
		{types.ScanAccept, "1003", "Accept Port Scan Detected", "5"},
	}

	for _, tt := range tests {
		datagram := FormatCEF(testAlert(tt.kind), "")
		want := "CEF:0|" + cefVendor + "|" + cefProduct + "|" + cefVersion + "|" + tt.sigID + "|" + tt.eventName + "|" + tt.severity + "|"
		if !strings.Contains(datagram, want) {
			t.Errorf("%s: datagram missing expected header %q: got %q", tt.kind, want, datagram)
		}
	}
}

func TestFormatCEF_DefaultsToIDSRSHostname(t *testing.T) {
	datagram := FormatCEF(testAlert(types.ScanFast), "")
	if !strings.Contains(datagram, " ids-rs CEF:0|") {
		t.Errorf("expected default hostname ids-rs in datagram: %q", datagram)
	}
}

func TestFormatCEF_ExtensionFieldOrderAndContent(t *testing.T) {
	alert := testAlert(types.ScanFast)
	datagram := FormatCEF(alert, "ids-rs")

	_, ext, found := strings.Cut(datagram, "|7|")
	if !found {
		t.Fatalf("could not locate extension in datagram: %q", datagram)
	}

	// msg's value contains spaces of its own, so the fields before it are
	// checked from the front, the fields after it from the back, and msg
	// itself as one span.
	head := []string{"rt=", "src=192.168.11.7", "dst=10.0.0.5", "cnt=3", "act=alert", "msg="}
	tail := []string{"cs1Label=ScannedPorts", "cs1=22,80,443"}
	fields := strings.Split(ext, " ")
	if len(fields) < len(head)+len(tail) {
		t.Fatalf("got %d extension fields, want at least %d: %q", len(fields), len(head)+len(tail), ext)
	}
	for i, want := range head {
		if !strings.HasPrefix(fields[i], want) {
			t.Errorf("extension field %d = %q, want prefix %q", i, fields[i], want)
		}
	}
	for i, want := range tail {
		j := len(fields) - len(tail) + i
		if fields[j] != want {
			t.Errorf("extension field %d = %q, want %q", j, fields[j], want)
		}
	}
	wantMsg := " msg=Fast Port Scan Detected | ports: 22,80,443 cs1Label="
	if !strings.Contains(ext, wantMsg) {
		t.Errorf("extension missing msg span %q: %q", wantMsg, ext)
	}
}

func TestFormatCEF_OmitsDstWhenNil(t *testing.T) {
	alert := testAlert(types.ScanFast)
	alert.DestIP = nil

	datagram := FormatCEF(alert, "ids-rs")
	if strings.Contains(datagram, "dst=") {
		t.Errorf("expected no dst= field when DestIP is nil: %q", datagram)
	}
}

func TestFormatCEF_InjectionAttemptStaysWithinSevenPipes(t *testing.T) {
	// A future operator-controlled field value crafted to look like it
	// closes the CEF header and opens a forged extension.
	injected := "evil\nFeb 18 00:00:00 host CEF:0|X|X|X|9999|forged|10|act=inject"

	rule := cefRules[types.ScanFast]
	rule.eventName = injected
	cefRules[types.ScanFast] = rule
	defer func() {
		rule.eventName = "Fast Port Scan Detected"
		cefRules[types.ScanFast] = rule
	}()

	datagram := FormatCEF(testAlert(types.ScanFast), "")

	// Seven unescaped pipes in the header; in the extension only msg's own
	// " | ports: " separator.
	split := strings.Index(datagram, "|rt=")
	if split < 0 {
		t.Fatalf("could not locate extension in datagram: %q", datagram)
	}
	header, ext := datagram[:split+1], datagram[split+1:]
	if n := countUnescapedPipes(header); n != 7 {
		t.Errorf("got %d unescaped header pipes under injection attempt, want 7: %q", n, datagram)
	}
	if n := countUnescapedPipes(ext); n != 1 {
		t.Errorf("got %d unescaped extension pipes under injection attempt, want 1: %q", n, datagram)
	}
	if strings.ContainsRune(datagram, '\n') {
		t.Errorf("raw newline survived sanitization: %q", datagram)
	}
}

func TestBuildMsg_TruncatesTo512(t *testing.T) {
	longLabel := strings.Repeat("x", 1000)
	ports := []uint16{1, 2, 3}

	msg := buildMsg(longLabel, ports)
	if len(msg) != maxMsgLen {
		t.Errorf("len(msg) = %d, want %d", len(msg), maxMsgLen)
	}
}

func TestJoinPorts(t *testing.T) {
	got := joinPorts([]uint16{22, 80, 443})
	want := "22,80,443"
	if got != want {
		t.Errorf("joinPorts() = %q, want %q", got, want)
	}
}

// countUnescapedPipes counts '|' runes not immediately preceded by a
// backslash that is itself not escaped.
func countUnescapedPipes(s string) int {
	count := 0
	escaped := false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '|':
			count++
		}
	}
	return count
}
