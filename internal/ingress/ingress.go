// Package ingress owns the UDP socket: it receives firewall syslog
// datagrams, admits them through a global token bucket plus a secondary
// per-source-IP limiter, splits them into lines, hands each line to a
// parser and then the detector, and dispatches any resulting alerts. It
// also drives the periodic detector-cleanup and drop-rate reporting jobs.
package ingress

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/time/rate"

	"github.com/idswatch/sentinel/internal/logging"
	"github.com/idswatch/sentinel/internal/metrics"
	"github.com/idswatch/sentinel/internal/ratelimit"
	"github.com/idswatch/sentinel/pkg/types"
)

// maxDatagramSize is large enough for any UDP payload; oversized datagrams
// are truncated by the kernel before ReadFromUDP returns.
const maxDatagramSize = 65536

// dropReportInterval matches spec.md's "~30s" rate-limited-drop reporter.
const dropReportInterval = 30 * time.Second

// Parser is the contract implemented by the Gaia and CEF line parsers.
type Parser interface {
	Name() string
	Parse(line string) (*types.LogEvent, bool)

	// ExpectedFormat describes the wire shape this parser recognizes, used
	// for the debug-mode FAIL diagnostic.
	ExpectedFormat() string
}

// Detector is the subset of *detector.Detector the ingress loop depends on.
type Detector interface {
	ProcessEvent(event *types.LogEvent, now, wallClock time.Time) []types.Alert
	Cleanup(now time.Time, maxAge time.Duration)
}

// AlertDispatcher hands an alert off for SIEM/email delivery without
// blocking the caller (implemented by the alerter package over a worker
// pool).
type AlertDispatcher interface {
	Dispatch(alert *types.Alert) error
}

// Config configures the ingress receiver.
type Config struct {
	ListenAddress string

	// Debug renders every received line with a RAW/OK/FAIL diagnostic at
	// debug log level. Not part of the admission-control contract — purely
	// an operator toggle for diagnosing a parser mismatch on the wire.
	Debug bool

	// GlobalRateLimit/GlobalBurstSize configure the single TokenBucket
	// shared by all sources. GlobalRateLimit == 0 disables it.
	GlobalRateLimit float64
	GlobalBurstSize int

	// PerSourceRateLimit configures the secondary, defense-in-depth
	// per-source-IP limiter. 0 disables it.
	PerSourceRateLimit float64

	CleanupInterval time.Duration
	MaxEntryAge     time.Duration
}

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Receiver is the single owner of the UDP socket and the global token
// bucket. There is exactly one writer to the bucket, matching spec.md's
// single-writer admission-control invariant.
type Receiver struct {
	cfg    Config
	conn   *net.UDPConn
	bucket *ratelimit.TokenBucket

	parser     Parser
	detector   Detector
	dispatcher AlertDispatcher
	collector  *metrics.Collector
	logger     *logging.Logger

	sourceMu       sync.Mutex
	sourceLimiters map[string]*sourceLimiter

	scheduler gocron.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New binds the UDP socket. A bind failure is a fatal startup error, per
// spec.md §4.4/§7.
func New(cfg Config, parser Parser, det Detector, dispatcher AlertDispatcher, collector *metrics.Collector, logger *logging.Logger) (*Receiver, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve listen address %q: %w", cfg.ListenAddress, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind UDP listener on %q: %w", cfg.ListenAddress, err)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create cleanup scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := &Receiver{
		cfg:            cfg,
		conn:           conn,
		bucket:         ratelimit.New(float64(cfg.GlobalBurstSize), cfg.GlobalRateLimit),
		parser:         parser,
		detector:       det,
		dispatcher:     dispatcher,
		collector:      collector,
		logger:         logger.WithComponent("ingress"),
		sourceLimiters: make(map[string]*sourceLimiter),
		scheduler:      scheduler,
		ctx:            ctx,
		cancel:         cancel,
	}

	return r, nil
}

// Start launches the receive loop and the scheduled cleanup/drop-report
// jobs. It returns once everything is running; it does not block.
func (r *Receiver) Start() error {
	if _, err := r.scheduler.NewJob(
		gocron.DurationJob(r.cfg.CleanupInterval),
		gocron.NewTask(r.runCleanup),
	); err != nil {
		return fmt.Errorf("schedule cleanup job: %w", err)
	}

	if _, err := r.scheduler.NewJob(
		gocron.DurationJob(dropReportInterval),
		gocron.NewTask(r.reportDrops),
	); err != nil {
		return fmt.Errorf("schedule drop-report job: %w", err)
	}

	r.scheduler.Start()

	r.wg.Add(1)
	go r.receiveLoop()

	r.logger.Info().Str("address", r.conn.LocalAddr().String()).Msg("ingress listening")
	return nil
}

// Stop closes the socket, stops the scheduler, and waits for the receive
// loop to exit.
func (r *Receiver) Stop(ctx context.Context) error {
	r.cancel()
	r.conn.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return r.scheduler.Shutdown()
}

func (r *Receiver) receiveLoop() {
	defer r.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.ctx.Done():
				return
			default:
				r.logger.Error().Err(err).Msg("udp read error")
				continue
			}
		}

		if r.collector != nil {
			r.collector.IngressDatagramsReceived.Inc()
			r.collector.IngressBytesReceived.Add(float64(n))
		}

		r.handleDatagram(buf[:n], addr.IP)
	}
}

func (r *Receiver) handleDatagram(data []byte, sourceIP net.IP) {
	if !r.bucket.Acquire() {
		if r.collector != nil {
			r.collector.IngressRateLimitDropped.Inc()
		}
		return
	}

	text := string(data)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}

	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		r.handleLine(line, sourceIP)
	}
}

func (r *Receiver) handleLine(line string, sourceIP net.IP) {
	if r.cfg.Debug {
		r.logger.Debug().Str("diag", "RAW").Str("line", line).Msg("ingress line received")
	}

	if !r.allowSource(sourceIP) {
		if r.collector != nil {
			r.collector.IngressPerSourceDropped.Inc()
		}
		return
	}

	event, ok := r.parser.Parse(line)
	if !ok {
		if r.collector != nil {
			r.collector.ParserEventsFailed.WithLabelValues(r.parser.Name()).Inc()
		}
		if r.cfg.Debug {
			r.logger.Debug().Str("diag", "FAIL").Str("line", line).Str("expected_format", r.parser.ExpectedFormat()).Msg("ingress line rejected by parser")
		}
		return
	}
	if r.collector != nil {
		r.collector.ParserEventsParsed.WithLabelValues(r.parser.Name()).Inc()
		r.collector.IngressLinesAdmitted.Inc()
	}
	if r.cfg.Debug {
		r.logger.Debug().Str("diag", "OK").Str("line", line).Msg("ingress line parsed")
	}

	now := time.Now()
	alerts := r.detector.ProcessEvent(event, now, now)
	for i := range alerts {
		alert := alerts[i]
		if r.collector != nil {
			r.collector.AlertsRaised.WithLabelValues(alert.ScanKind.String()).Inc()
		}
		if err := r.dispatcher.Dispatch(&alert); err != nil {
			r.logger.Warn().Err(err).Str("scan_kind", alert.ScanKind.String()).Msg("alert dispatch dropped")
		}
	}
}

// allowSource enforces the secondary, defense-in-depth per-source limiter.
// Disabled entirely when PerSourceRateLimit is 0.
func (r *Receiver) allowSource(sourceIP net.IP) bool {
	if r.cfg.PerSourceRateLimit <= 0 {
		return true
	}

	key := sourceIP.String()
	now := time.Now()

	r.sourceMu.Lock()
	sl, ok := r.sourceLimiters[key]
	if !ok {
		sl = &sourceLimiter{
			limiter: rate.NewLimiter(rate.Limit(r.cfg.PerSourceRateLimit), int(r.cfg.PerSourceRateLimit*2)),
		}
		r.sourceLimiters[key] = sl
	}
	sl.lastSeen = now
	r.sourceMu.Unlock()

	return sl.limiter.Allow()
}

// runCleanup ages out stale detector state and stale per-source limiters.
// It never touches the detector's cooldown maps (only eviction does).
func (r *Receiver) runCleanup() {
	now := time.Now()
	r.detector.Cleanup(now, r.cfg.MaxEntryAge)

	r.sourceMu.Lock()
	for key, sl := range r.sourceLimiters {
		if now.Sub(sl.lastSeen) > r.cfg.MaxEntryAge {
			delete(r.sourceLimiters, key)
		}
	}
	r.sourceMu.Unlock()
}

// reportDrops logs the global token bucket's drop count accumulated since
// the last report, then resets it.
func (r *Receiver) reportDrops() {
	dropped := r.bucket.SnapshotDroppedAndReset()
	if dropped == 0 {
		return
	}
	r.logger.Warn().Uint64("dropped", dropped).Dur("window", dropReportInterval).Msg("datagrams dropped by rate limiter")
}
