package alerter

import (
	"strconv"
	"strings"

	"github.com/idswatch/sentinel/internal/pool"
	"github.com/idswatch/sentinel/internal/security"
	"github.com/idswatch/sentinel/pkg/types"
)

// cefPriority is fixed per spec.md §4.4: every datagram carries PRI=38
// (facility=4, severity=6), independent of the scan kind's own severity
// field later in the CEF header.
const cefPriority = 38

const (
	cefVendor  = "IDS-RS"
	cefProduct = "Network Scanner Detector"
	cefVersion = "1.0"

	// maxMsgLen bounds the CEF msg= extension, suffix included.
	maxMsgLen = 512
)

// defaultHostname is used when the operator leaves siem.hostname unset.
const defaultHostname = "ids-rs"

type cefRule struct {
	sigID     string
	eventName string
	severity  int
}

var cefRules = map[types.ScanKind]cefRule{
	types.ScanFast:   {"1001", "Fast Port Scan Detected", 7},
	types.ScanSlow:   {"1002", "Slow Port Scan Detected", 6},
	types.ScanAccept: {"1003", "Accept Port Scan Detected", 5},
}

// FormatCEF renders alert as a single CEF:0 syslog datagram, per spec.md
// §4.4. hostname is the RFC-3164 header host field; pass "" to use the
// default "ids-rs". The datagram is assembled in a pooled buffer, since
// this runs once per alert on the worker pool's hot path.
func FormatCEF(alert *types.Alert, hostname string) string {
	if hostname == "" {
		hostname = defaultHostname
	}

	rule, ok := cefRules[alert.ScanKind]
	if !ok {
		rule = cefRule{sigID: "1000", eventName: "Unknown Scan Detected", severity: 5}
	}

	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)

	buf.WriteByte('<')
	buf.WriteString(strconv.Itoa(cefPriority))
	buf.WriteByte('>')
	buf.WriteString(alert.At.Format("Jan _2 15:04:05"))
	buf.WriteByte(' ')
	buf.WriteString(hostname)
	buf.WriteString(" CEF:0|")
	buf.WriteString(cefVendor)
	buf.WriteByte('|')
	buf.WriteString(cefProduct)
	buf.WriteByte('|')
	buf.WriteString(cefVersion)
	buf.WriteByte('|')
	buf.WriteString(rule.sigID)
	buf.WriteByte('|')
	buf.WriteString(security.SanitizeCEFField(rule.eventName))
	buf.WriteByte('|')
	buf.WriteString(strconv.Itoa(rule.severity))
	buf.WriteByte('|')
	buf.WriteString(buildExtension(alert, rule))

	return buf.String()
}

func buildExtension(alert *types.Alert, rule cefRule) string {
	fields := make([]string, 0, 8)

	fields = append(fields, "rt="+strconv.FormatInt(alert.At.UnixMilli(), 10))
	fields = append(fields, "src="+alert.SourceIP.String())
	if alert.DestIP != nil {
		fields = append(fields, "dst="+alert.DestIP.String())
	}
	fields = append(fields, "cnt="+strconv.Itoa(len(alert.UniquePorts)))
	fields = append(fields, "act=alert")
	fields = append(fields, "msg="+buildMsg(rule.eventName, alert.UniquePorts))
	fields = append(fields, "cs1Label=ScannedPorts")
	fields = append(fields, "cs1="+joinPorts(alert.UniquePorts))

	return strings.Join(fields, " ")
}

// buildMsg assembles the human-readable scan_label plus the literal
// " | ports: ..." suffix, escapes only the scan_label component (the
// separator and the port list are our own literal, safe text), and
// truncates the whole value to maxMsgLen.
func buildMsg(scanLabel string, ports []uint16) string {
	msg := security.SanitizeCEFField(scanLabel) + " | ports: " + joinPorts(ports)
	if len(msg) > maxMsgLen {
		msg = msg[:maxMsgLen]
	}
	return msg
}

func joinPorts(ports []uint16) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, ",")
}
