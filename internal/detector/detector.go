// Package detector implements the per-source-IP sliding-window scan
// detector (C5): bounded-memory hit histories, LRU eviction under pressure,
// and cooldown-gated alert emission.
package detector

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/idswatch/sentinel/pkg/types"
)

// ScanConfig is one threshold/window pair, shared by the fast, slow and
// accept checks.
type ScanConfig struct {
	PortThreshold int
	TimeWindow    time.Duration
}

// Config holds the Detector's tunables. Validation (thresholds >= 1, window
// ordering) happens once in internal/config at load time; Detector trusts
// its Config is already valid.
type Config struct {
	FastScan      ScanConfig
	SlowScan      ScanConfig
	AcceptScan    ScanConfig
	AlertCooldown time.Duration
	MaxHitsPerIP  int
	MaxTrackedIPs int
}

// hitHistory is one IP's chronological (FIFO-capped) sequence of port hits
// for one kind (drop or accept).
type hitHistory struct {
	hits []types.PortHit
}

// append adds a hit and drops the oldest entries beyond maxHits, preserving
// the most recent window per spec.md §4.3 step 3.
func (h *hitHistory) append(hit types.PortHit, maxHits int) {
	h.hits = append(h.hits, hit)
	if over := len(h.hits) - maxHits; over > 0 {
		h.hits = h.hits[over:]
	}
}

// uniquePortsInWindow scans from newest to oldest (hits are chronological,
// so this is a lower-bound scan with no sort needed), collecting distinct
// ports seen within window of now. Returns ports sorted ascending for
// deterministic serialization.
func (h *hitHistory) uniquePortsInWindow(now time.Time, window time.Duration) []uint16 {
	seen := make(map[uint16]struct{})
	for i := len(h.hits) - 1; i >= 0; i-- {
		hit := h.hits[i]
		if now.Sub(hit.SeenAt) > window {
			break
		}
		seen[hit.Port] = struct{}{}
	}
	ports := make([]uint16, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}

// pruneOlderThan ages out hits beyond maxAge; used by cleanup only, never by
// process_event.
func (h *hitHistory) pruneOlderThan(now time.Time, maxAge time.Duration) {
	cut := 0
	for cut < len(h.hits) && now.Sub(h.hits[cut].SeenAt) > maxAge {
		cut++
	}
	if cut > 0 {
		h.hits = h.hits[cut:]
	}
}

func (h *hitHistory) empty() bool { return len(h.hits) == 0 }

// Detector holds all per-IP scan-detection state. A single mutex serializes
// the whole state rather than sharding per IP: eviction is a compound
// operation across all five logical tables (drop_hits, accept_hits,
// last_seen, and three cooldown maps), and spec.md §9 explicitly permits
// this actor-style simplification over a sharded map ("serializes all
// detector work ... simpler reasoning, lower peak throughput"). The ingress
// loop is the dominant caller; the cleanup task is the only other one, and
// contention between the two is rare and short-lived.
type Detector struct {
	cfg Config

	mu            sync.Mutex
	dropHits      map[string]*hitHistory
	acceptHits    map[string]*hitHistory
	lastSeen      map[string]time.Time
	fastCooldown  map[string]time.Time
	slowCooldown  map[string]time.Time
	acceptCooldow map[string]time.Time

	ipOf map[string]net.IP // canonical IP value for a key, for Alert construction and eviction scans
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	return &Detector{
		cfg:           cfg,
		dropHits:      make(map[string]*hitHistory),
		acceptHits:    make(map[string]*hitHistory),
		lastSeen:      make(map[string]time.Time),
		fastCooldown:  make(map[string]time.Time),
		slowCooldown:  make(map[string]time.Time),
		acceptCooldow: make(map[string]time.Time),
		ipOf:          make(map[string]net.IP),
	}
}

// Stats is the diagnostic snapshot returned by StatsSnapshot.
type Stats struct {
	TrackedIPs int
	DropHitIPs int
	AcceptHitIPs int
}

// StatsSnapshot returns diagnostic counts only; it never mutates state.
func (d *Detector) StatsSnapshot() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		TrackedIPs:   len(d.lastSeen),
		DropHitIPs:   len(d.dropHits),
		AcceptHitIPs: len(d.acceptHits),
	}
}

// ProcessEvent runs the full per-event algorithm of spec.md §4.3 and returns
// zero or more alerts. now is the monotonic-bearing instant used for all
// window/cooldown math; wallClock is the separate wall-clock value stamped
// onto any emitted Alert. Go's time.Time normally carries both readings
// together, but ProcessEvent takes them as two parameters to make the
// monotonic/wall-clock separation the spec requires explicit at every call
// site, including tests that fabricate synthetic times.
func (d *Detector) ProcessEvent(event *types.LogEvent, now time.Time, wallClock time.Time) []types.Alert {
	key := event.SourceIP.String()

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, tracked := d.lastSeen[key]; !tracked && len(d.lastSeen) >= d.cfg.MaxTrackedIPs {
		d.evictOldestLocked()
	}

	var hitsMap map[string]*hitHistory
	if event.Action == types.ActionDrop {
		hitsMap = d.dropHits
	} else {
		hitsMap = d.acceptHits
	}

	h, ok := hitsMap[key]
	if !ok {
		h = &hitHistory{}
		hitsMap[key] = h
	}
	h.append(types.PortHit{Port: event.DestPort, SeenAt: now}, d.cfg.MaxHitsPerIP)

	d.lastSeen[key] = now
	d.ipOf[key] = event.SourceIP

	var alerts []types.Alert
	if event.Action == types.ActionDrop {
		if a, fired := d.evaluateLocked(types.ScanFast, d.fastCooldown, h, now, wallClock, event, d.cfg.FastScan); fired {
			alerts = append(alerts, a)
		}
		if a, fired := d.evaluateLocked(types.ScanSlow, d.slowCooldown, h, now, wallClock, event, d.cfg.SlowScan); fired {
			alerts = append(alerts, a)
		}
	} else {
		if a, fired := d.evaluateLocked(types.ScanAccept, d.acceptCooldow, h, now, wallClock, event, d.cfg.AcceptScan); fired {
			alerts = append(alerts, a)
		}
	}

	return alerts
}

// evaluateLocked implements step 5 of the algorithm for a single scan kind.
// Callers must hold d.mu.
func (d *Detector) evaluateLocked(
	kind types.ScanKind,
	cooldowns map[string]time.Time,
	h *hitHistory,
	now time.Time,
	wallClock time.Time,
	event *types.LogEvent,
	cfg ScanConfig,
) (types.Alert, bool) {
	ports := h.uniquePortsInWindow(now, cfg.TimeWindow)
	if len(ports) <= cfg.PortThreshold {
		return types.Alert{}, false
	}

	key := event.SourceIP.String()
	if last, ok := cooldowns[key]; ok {
		if now.Sub(last) < d.cfg.AlertCooldown {
			return types.Alert{}, false
		}
	}
	cooldowns[key] = now

	return types.Alert{
		ScanKind:    kind,
		SourceIP:    event.SourceIP,
		DestIP:      event.DestIP,
		UniquePorts: ports,
		At:          wallClock,
	}, true
}

// evictOldestLocked finds the IP with the minimum last_seen timestamp and
// removes it from every table. Callers must hold d.mu. O(n) scan, explicitly
// permitted by spec.md §9.
func (d *Detector) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for key, at := range d.lastSeen {
		if first || at.Before(oldestAt) {
			oldestKey = key
			oldestAt = at
			first = false
		}
	}
	if first {
		return
	}
	delete(d.dropHits, oldestKey)
	delete(d.acceptHits, oldestKey)
	delete(d.lastSeen, oldestKey)
	delete(d.fastCooldown, oldestKey)
	delete(d.slowCooldown, oldestKey)
	delete(d.acceptCooldow, oldestKey)
	delete(d.ipOf, oldestKey)
}

// Cleanup ages out hit histories older than max_entry_age_secs and reaps
// last_seen entries whose IP no longer appears in either hit map. Cooldown
// maps are never touched here; they are only reaped on eviction.
func (d *Detector) Cleanup(now time.Time, maxAge time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, h := range d.dropHits {
		h.pruneOlderThan(now, maxAge)
		if h.empty() {
			delete(d.dropHits, key)
		}
	}
	for key, h := range d.acceptHits {
		h.pruneOlderThan(now, maxAge)
		if h.empty() {
			delete(d.acceptHits, key)
		}
	}
	for key := range d.lastSeen {
		_, inDrop := d.dropHits[key]
		_, inAccept := d.acceptHits[key]
		if !inDrop && !inAccept {
			delete(d.lastSeen, key)
			delete(d.ipOf, key)
		}
	}
}
