package ingress

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/idswatch/sentinel/internal/logging"
	"github.com/idswatch/sentinel/pkg/types"
)

type stubParser struct{}

func (stubParser) Name() string { return "stub" }

func (stubParser) ExpectedFormat() string { return "stub:<anything>" }

func (stubParser) Parse(line string) (*types.LogEvent, bool) {
	if line == "bad" {
		return nil, false
	}
	return &types.LogEvent{
		SourceIP: net.ParseIP("10.0.0.1"),
		DestPort: 22,
		Action:   types.ActionDrop,
		RawLog:   line,
	}, true
}

type stubDetector struct {
	mu          sync.Mutex
	processed   int
	alertsToRet []types.Alert
	cleaned     bool
}

func (d *stubDetector) ProcessEvent(event *types.LogEvent, now, wallClock time.Time) []types.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed++
	return d.alertsToRet
}

func (d *stubDetector) Cleanup(now time.Time, maxAge time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleaned = true
}

type stubDispatcher struct {
	mu       sync.Mutex
	received []*types.Alert
}

func (d *stubDispatcher) Dispatch(alert *types.Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received = append(d.received, alert)
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error"})
}

func newTestReceiver(t *testing.T, det *stubDetector, disp *stubDispatcher) *Receiver {
	t.Helper()
	r, err := New(Config{
		ListenAddress:      "127.0.0.1:0",
		GlobalRateLimit:    0,
		GlobalBurstSize:    100,
		PerSourceRateLimit: 0,
		CleanupInterval:    time.Hour,
		MaxEntryAge:        time.Hour,
	}, stubParser{}, det, disp, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func sendLine(t *testing.T, addr *net.UDPAddr, line string) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatalf("DialUDP() error = %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(line)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func TestReceiver_ParsesAndDispatchesAlert(t *testing.T) {
	det := &stubDetector{alertsToRet: []types.Alert{{ScanKind: types.ScanFast}}}
	disp := &stubDispatcher{}
	r := newTestReceiver(t, det, disp)

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	}()

	sendLine(t, r.conn.LocalAddr().(*net.UDPAddr), "good line")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		disp.mu.Lock()
		n := len(disp.received)
		disp.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	disp.mu.Lock()
	defer disp.mu.Unlock()
	if len(disp.received) != 1 {
		t.Fatalf("got %d dispatched alerts, want 1", len(disp.received))
	}
	if disp.received[0].ScanKind != types.ScanFast {
		t.Errorf("ScanKind = %v, want fast", disp.received[0].ScanKind)
	}
}

func TestReceiver_UnparsableLineDoesNotReachDetector(t *testing.T) {
	det := &stubDetector{}
	disp := &stubDispatcher{}
	r := newTestReceiver(t, det, disp)

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	}()

	sendLine(t, r.conn.LocalAddr().(*net.UDPAddr), "bad")

	time.Sleep(100 * time.Millisecond)

	det.mu.Lock()
	defer det.mu.Unlock()
	if det.processed != 0 {
		t.Errorf("processed = %d, want 0 for an unparsable line", det.processed)
	}
}

func TestReceiver_GlobalTokenBucketDropsOverCapacity(t *testing.T) {
	det := &stubDetector{}
	disp := &stubDispatcher{}
	r, err := New(Config{
		ListenAddress:   "127.0.0.1:0",
		GlobalRateLimit: 1,
		GlobalBurstSize: 1,
		CleanupInterval: time.Hour,
		MaxEntryAge:     time.Hour,
	}, stubParser{}, det, disp, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		r.Stop(ctx)
	}()

	addr := r.conn.LocalAddr().(*net.UDPAddr)
	for i := 0; i < 10; i++ {
		sendLine(t, addr, "good line")
	}

	time.Sleep(150 * time.Millisecond)

	det.mu.Lock()
	defer det.mu.Unlock()
	if det.processed >= 10 {
		t.Errorf("processed = %d, want fewer than 10 under a capacity-1 bucket", det.processed)
	}
}

func TestReceiver_PerSourceLimiterBlocksNoisySource(t *testing.T) {
	det := &stubDetector{}
	disp := &stubDispatcher{}
	r, err := New(Config{
		ListenAddress:      "127.0.0.1:0",
		GlobalRateLimit:    0,
		GlobalBurstSize:    1000,
		PerSourceRateLimit: 1,
		CleanupInterval:    time.Hour,
		MaxEntryAge:        time.Hour,
	}, stubParser{}, det, disp, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	allowed := 0
	for i := 0; i < 5; i++ {
		if r.allowSource(net.ParseIP("10.0.0.1")) {
			allowed++
		}
	}
	if allowed >= 5 {
		t.Errorf("allowed = %d of 5, want fewer under a per-source limit of 1/s with no time elapsed", allowed)
	}
}

func TestReceiver_HandleDatagramReplacesInvalidUTF8(t *testing.T) {
	det := &stubDetector{}
	disp := &stubDispatcher{}
	r := newTestReceiver(t, det, disp)

	r.handleDatagram([]byte{'g', 'o', 'o', 'd', 0xff, 0xfe}, net.ParseIP("10.0.0.1"))

	det.mu.Lock()
	defer det.mu.Unlock()
	if det.processed != 1 {
		t.Errorf("processed = %d, want 1 (invalid UTF-8 should be replaced, not dropped)", det.processed)
	}
}

func TestReceiver_CleanupInvokesDetectorCleanup(t *testing.T) {
	det := &stubDetector{}
	disp := &stubDispatcher{}
	r := newTestReceiver(t, det, disp)

	r.runCleanup()

	det.mu.Lock()
	defer det.mu.Unlock()
	if !det.cleaned {
		t.Error("expected detector Cleanup to be invoked")
	}
}

func TestReceiver_ReportDropsIsNoopWhenNothingDropped(t *testing.T) {
	det := &stubDetector{}
	disp := &stubDispatcher{}
	r := newTestReceiver(t, det, disp)

	r.reportDrops()
}
