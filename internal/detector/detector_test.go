package detector

import (
	"net"
	"testing"
	"time"

	"github.com/idswatch/sentinel/pkg/types"
)

func testConfig() Config {
	return Config{
		FastScan:      ScanConfig{PortThreshold: 15, TimeWindow: 10 * time.Second},
		SlowScan:      ScanConfig{PortThreshold: 30, TimeWindow: 300 * time.Second},
		AcceptScan:    ScanConfig{PortThreshold: 5, TimeWindow: 30 * time.Second},
		AlertCooldown: 300 * time.Second,
		MaxHitsPerIP:  10000,
		MaxTrackedIPs: 100000,
	}
}

func dropEvent(ip string, port uint16) *types.LogEvent {
	return &types.LogEvent{SourceIP: net.ParseIP(ip), DestPort: port, Action: types.ActionDrop}
}

func acceptEvent(ip string, port uint16) *types.LogEvent {
	return &types.LogEvent{SourceIP: net.ParseIP(ip), DestPort: port, Action: types.ActionAccept}
}

// base is an arbitrary fixed instant; tests advance from it with Add so the
// monotonic/wall split never depends on wall-clock time.Now().
var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestDetector_FastScanFires(t *testing.T) {
	d := New(testConfig())
	ip := "192.168.11.7"

	var lastAlerts []types.Alert
	for port := uint16(1); port <= 16; port++ {
		now := base.Add(time.Duration(port) * time.Millisecond)
		lastAlerts = d.ProcessEvent(dropEvent(ip, port), now, now)
	}

	if len(lastAlerts) != 1 {
		t.Fatalf("alerts on 16th unique port = %d, want 1", len(lastAlerts))
	}
	if lastAlerts[0].ScanKind != types.ScanFast {
		t.Errorf("ScanKind = %v, want Fast", lastAlerts[0].ScanKind)
	}
	if len(lastAlerts[0].UniquePorts) != 16 {
		t.Errorf("UniquePorts len = %d, want 16", len(lastAlerts[0].UniquePorts))
	}
}

func TestDetector_ThresholdIsStrictlyGreaterThan(t *testing.T) {
	d := New(testConfig())
	ip := "192.168.11.7"

	var alerts []types.Alert
	for port := uint16(1); port <= 15; port++ {
		now := base.Add(time.Duration(port) * time.Millisecond)
		alerts = d.ProcessEvent(dropEvent(ip, port), now, now)
	}
	if len(alerts) != 0 {
		t.Fatalf("alerts at exactly threshold (15) = %d, want 0 (strict >)", len(alerts))
	}
}

func TestDetector_DropsNeverRaiseAcceptAlert(t *testing.T) {
	d := New(testConfig())
	ip := "10.0.0.1"
	for port := uint16(1); port <= 50; port++ {
		now := base.Add(time.Duration(port) * time.Millisecond)
		alerts := d.ProcessEvent(dropEvent(ip, port), now, now)
		for _, a := range alerts {
			if a.ScanKind == types.ScanAccept {
				t.Fatalf("drop event produced an Accept alert")
			}
		}
	}
}

func TestDetector_AcceptsNeverRaiseFastOrSlow(t *testing.T) {
	d := New(testConfig())
	ip := "10.0.0.2"
	for port := uint16(1); port <= 50; port++ {
		now := base.Add(time.Duration(port) * time.Millisecond)
		alerts := d.ProcessEvent(acceptEvent(ip, port), now, now)
		for _, a := range alerts {
			if a.ScanKind == types.ScanFast || a.ScanKind == types.ScanSlow {
				t.Fatalf("accept event produced a %v alert", a.ScanKind)
			}
		}
	}
}

func TestDetector_CooldownSuppressesRepeatAlert(t *testing.T) {
	d := New(testConfig())
	ip := "192.168.11.7"

	t0 := base
	for port := uint16(1); port <= 16; port++ {
		t0 = t0.Add(time.Millisecond)
		d.ProcessEvent(dropEvent(ip, port), t0, t0)
	}

	// A further scan burst on new ports well within the cooldown window
	// must not fire a second Fast alert.
	for port := uint16(100); port <= 116; port++ {
		t0 = t0.Add(time.Millisecond)
		alerts := d.ProcessEvent(dropEvent(ip, port), t0, t0)
		for _, a := range alerts {
			if a.ScanKind == types.ScanFast {
				t.Fatalf("Fast alert fired again within cooldown window")
			}
		}
	}
}

func TestDetector_CooldownRearmsAfterElapsed(t *testing.T) {
	cfg := testConfig()
	cfg.AlertCooldown = 1 * time.Second
	d := New(cfg)
	ip := "192.168.11.7"

	t0 := base
	for port := uint16(1); port <= 16; port++ {
		t0 = t0.Add(time.Millisecond)
		d.ProcessEvent(dropEvent(ip, port), t0, t0)
	}

	t0 = t0.Add(2 * time.Second) // past cooldown
	var fired bool
	for port := uint16(200); port <= 216; port++ {
		t0 = t0.Add(time.Millisecond)
		alerts := d.ProcessEvent(dropEvent(ip, port), t0, t0)
		for _, a := range alerts {
			if a.ScanKind == types.ScanFast {
				fired = true
			}
		}
	}
	if !fired {
		t.Fatalf("Fast alert did not rearm after cooldown elapsed")
	}
}

func TestDetector_MaxHitsPerIPCapsHistoryFIFO(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHitsPerIP = 5
	cfg.FastScan.TimeWindow = time.Hour // keep everything "in window"
	d := New(cfg)
	ip := "10.0.0.3"

	t0 := base
	for port := uint16(1); port <= 20; port++ {
		t0 = t0.Add(time.Millisecond)
		d.ProcessEvent(dropEvent(ip, port), t0, t0)
	}

	stats := d.StatsSnapshot()
	if stats.DropHitIPs != 1 {
		t.Fatalf("DropHitIPs = %d, want 1", stats.DropHitIPs)
	}
	h := d.dropHits[ip]
	if len(h.hits) != 5 {
		t.Fatalf("hit history len = %d, want capped at 5", len(h.hits))
	}
	if h.hits[0].Port != 16 || h.hits[4].Port != 20 {
		t.Fatalf("FIFO cap did not preserve the most recent hits: got ports %v", h.hits)
	}
}

func TestDetector_LRUEvictionUnderPressure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTrackedIPs = 3
	d := New(cfg)

	d.ProcessEvent(dropEvent("10.0.0.1", 1), base.Add(1*time.Second), base.Add(1*time.Second))  // A
	d.ProcessEvent(dropEvent("10.0.0.2", 1), base.Add(5*time.Second), base.Add(5*time.Second))  // B
	d.ProcessEvent(dropEvent("10.0.0.3", 1), base.Add(9*time.Second), base.Add(9*time.Second))  // C
	d.ProcessEvent(dropEvent("10.0.0.4", 1), base.Add(10*time.Second), base.Add(10*time.Second)) // D, evicts A

	if _, ok := d.lastSeen["10.0.0.1"]; ok {
		t.Errorf("A should have been evicted from last_seen")
	}
	if _, ok := d.dropHits["10.0.0.1"]; ok {
		t.Errorf("A should have been evicted from drop_hits")
	}
	for _, ip := range []string{"10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		if _, ok := d.lastSeen[ip]; !ok {
			t.Errorf("%s should still be tracked", ip)
		}
	}
	stats := d.StatsSnapshot()
	if stats.TrackedIPs != 3 {
		t.Errorf("TrackedIPs = %d, want 3", stats.TrackedIPs)
	}
}

func TestDetector_EvictionPurgesAllCooldownMaps(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTrackedIPs = 1
	d := New(cfg)

	ipA := "10.0.0.1"
	t0 := base
	for port := uint16(1); port <= 16; port++ {
		t0 = t0.Add(time.Millisecond)
		d.ProcessEvent(dropEvent(ipA, port), t0, t0)
	}
	if _, ok := d.fastCooldown[ipA]; !ok {
		t.Fatalf("expected a fast cooldown entry for A before eviction")
	}

	// New IP forces eviction of A (MaxTrackedIPs=1).
	d.ProcessEvent(dropEvent("10.0.0.2", 1), t0.Add(time.Second), t0.Add(time.Second))

	if _, ok := d.fastCooldown[ipA]; ok {
		t.Errorf("fast cooldown entry for evicted IP A should be purged")
	}
	if _, ok := d.slowCooldown[ipA]; ok {
		t.Errorf("slow cooldown entry for evicted IP A should be purged")
	}
	if _, ok := d.acceptCooldow[ipA]; ok {
		t.Errorf("accept cooldown entry for evicted IP A should be purged")
	}
}

func TestDetector_CleanupAgesOutOldHits(t *testing.T) {
	d := New(testConfig())
	ip := "10.0.0.5"
	t0 := base
	d.ProcessEvent(dropEvent(ip, 1), t0, t0)

	d.Cleanup(t0.Add(400*time.Second), 300*time.Second)

	if _, ok := d.dropHits[ip]; ok {
		t.Errorf("drop_hits entry should be removed after aging out")
	}
	if _, ok := d.lastSeen[ip]; ok {
		t.Errorf("last_seen entry should be removed once no hit map references the IP")
	}
}

func TestDetector_CleanupDoesNotTouchCooldowns(t *testing.T) {
	d := New(testConfig())
	ip := "10.0.0.6"
	t0 := base
	for port := uint16(1); port <= 16; port++ {
		t0 = t0.Add(time.Millisecond)
		d.ProcessEvent(dropEvent(ip, port), t0, t0)
	}
	if _, ok := d.fastCooldown[ip]; !ok {
		t.Fatalf("expected a fast cooldown entry before cleanup")
	}

	d.Cleanup(t0.Add(400*time.Second), 300*time.Second)

	if _, ok := d.fastCooldown[ip]; !ok {
		t.Errorf("cleanup must not reap cooldown entries")
	}
}

func TestDetector_UniquePortsSortedAscending(t *testing.T) {
	d := New(testConfig())
	ip := "10.0.0.7"
	ports := []uint16{50, 10, 30, 20, 40, 1, 2, 3, 4, 5, 6, 7, 8, 9, 60, 70}
	var alerts []types.Alert
	t0 := base
	for _, p := range ports {
		t0 = t0.Add(time.Millisecond)
		alerts = d.ProcessEvent(dropEvent(ip, p), t0, t0)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	got := alerts[0].UniquePorts
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("UniquePorts not strictly ascending: %v", got)
		}
	}
}

func TestDetector_SameSourcePortDuplicatesDoNotInflateUniqueCount(t *testing.T) {
	d := New(testConfig())
	ip := "10.0.0.8"
	t0 := base
	var alerts []types.Alert
	for i := 0; i < 20; i++ {
		t0 = t0.Add(time.Millisecond)
		alerts = d.ProcessEvent(dropEvent(ip, 443), t0, t0) // same port every time
	}
	if len(alerts) != 0 {
		t.Fatalf("20 hits on a single port must not exceed any threshold, got %d alerts", len(alerts))
	}
}
