// Command scansim emits synthetic Gaia-format firewall syslog over UDP,
// reproducing the S1-S6 scenarios used to validate sentineld's detector and
// CEF serializer end to end.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"
)

var (
	target   = flag.String("target", "127.0.0.1:5514", "sentineld UDP listen address")
	scenario = flag.String("scenario", "all", "scenario to run: S1, S2, S3, S4, S5, S6, or all")
	speed    = flag.Float64("speed", 1.0, "time-compression multiplier applied to every inter-line delay (>1 runs faster than real time)")
)

const sourceIP = "192.168.11.7"

func main() {
	flag.Parse()

	conn, err := net.Dial("udp", *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: dial target: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	scenarios := map[string]func(net.Conn){
		"S1": scenarioFast,
		"S2": scenarioSlow,
		"S3": scenarioAccept,
		"S4": scenarioNormal,
		"S5": scenarioCEFInjection,
		"S6": scenarioLRUPressure,
	}

	if *scenario == "all" {
		for _, name := range []string{"S1", "S2", "S3", "S4", "S5", "S6"} {
			fmt.Printf("=== running %s ===\n", name)
			scenarios[name](conn)
		}
		return
	}

	fn, ok := scenarios[*scenario]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown scenario %q\n", *scenario)
		os.Exit(1)
	}
	fn(conn)
}

func sleep(d time.Duration) {
	if *speed <= 0 {
		return
	}
	time.Sleep(time.Duration(float64(d) / *speed))
}

func gaiaLine(src, dst, proto string, servicePort, sPort int, action string) string {
	return fmt.Sprintf(
		"<134>%s fw1 Checkpoint: product=VPN-1 & FireWall-1;src=%s;dst=%s;proto=%s;service=%d;s_port=%d;action=%q;",
		time.Now().Format("Jan _2 15:04:05"), src, dst, proto, servicePort, sPort, action,
	)
}

func send(conn net.Conn, line string) {
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		fmt.Fprintf(os.Stderr, "write error: %v\n", err)
	}
}

// scenarioFast: 20 distinct drop ports from one IP within 2s. Expect one
// Fast alert, cnt=20.
func scenarioFast(conn net.Conn) {
	ports := []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 993, 995, 3306, 3389, 5432, 6379, 8080, 8443, 9200, 11211}
	for _, p := range ports {
		send(conn, gaiaLine(sourceIP, "10.0.0.1", "tcp", p, 40000+p, "drop"))
		sleep(100 * time.Millisecond)
	}
}

// scenarioSlow: 35 drop lines, one per 5s, distinct ports. Expect one Slow
// alert once unique ports in the 300s window exceeds 30; no Fast alert.
func scenarioSlow(conn net.Conn) {
	for i := 0; i < 35; i++ {
		port := 20000 + i
		send(conn, gaiaLine(sourceIP, "10.0.0.1", "tcp", port, 40000+i, "drop"))
		sleep(5 * time.Second)
	}
}

// scenarioAccept: 10 accept lines, distinct ports, within 5s. Expect one
// AcceptScan alert, cnt=10.
func scenarioAccept(conn net.Conn) {
	ports := []int{80, 443, 22, 25, 53, 110, 143, 993, 995, 3306}
	for _, p := range ports {
		send(conn, gaiaLine(sourceIP, "10.0.0.1", "tcp", p, 40000+p, "accept"))
		sleep(500 * time.Millisecond)
	}
}

// scenarioNormal: 5 drop lines on common ports over 1 minute. Expect zero
// alerts.
func scenarioNormal(conn net.Conn) {
	ports := []int{80, 443, 80, 443, 22}
	for _, p := range ports {
		send(conn, gaiaLine(sourceIP, "10.0.0.1", "tcp", p, 40000+p, "drop"))
		sleep(12 * time.Second)
	}
}

// scenarioCEFInjection fires a burst of drop lines against an IP whose
// destination IP field is crafted to look like a CEF header close and a
// forged second event. The detector and CEF field values here never
// actually interpolate the raw line into the header — this exercises the
// parser's tolerance for adversarial bytes on the wire, not the escaper
// itself (see internal/security and internal/alerter's own unit tests for
// the escaper's correctness).
func scenarioCEFInjection(conn net.Conn) {
	injected := "evil\nFeb 18 00:00:00 host CEF:0|X|X|X|9999|X|10|"
	ports := []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 993, 995, 3306, 3389, 5432, 6379}
	for _, p := range ports {
		send(conn, gaiaLine(sourceIP, injected, "tcp", p, 40000+p, "drop"))
		sleep(100 * time.Millisecond)
	}
}

// scenarioLRUPressure sends events from 4 distinct IPs in sequence,
// intended to run against a sentineld instance configured with
// max_tracked_ips=3, demonstrating IP A's eviction once D arrives.
func scenarioLRUPressure(conn net.Conn) {
	ips := []string{"10.1.1.1", "10.1.1.2", "10.1.1.3", "10.1.1.4"}
	for i, ip := range ips {
		send(conn, gaiaLine(ip, "10.0.0.1", "tcp", 80, 40000+i, "drop"))
		sleep(time.Second)
	}
}
