// Package alerter renders detector alerts as CEF datagrams and fans them
// out to the SIEM (always) and email (optionally), off the ingress loop's
// hot path via a worker pool.
package alerter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/idswatch/sentinel/internal/logging"
	"github.com/idswatch/sentinel/internal/metrics"
	"github.com/idswatch/sentinel/internal/worker"
	"github.com/idswatch/sentinel/pkg/types"
)

// Alerter implements ingress.AlertDispatcher.
type Alerter struct {
	siem     *SIEMSender
	email    *EmailSender
	pool     *worker.WorkerPool
	metrics  *metrics.Collector
	logger   *logging.Logger
	hostname string
}

// New builds an Alerter. email may be nil when email alerting is disabled.
func New(siem *SIEMSender, email *EmailSender, hostname string, poolCfg worker.PoolConfig, collector *metrics.Collector, logger *logging.Logger) *Alerter {
	a := &Alerter{
		siem:     siem,
		email:    email,
		metrics:  collector,
		logger:   logger.WithComponent("alerter"),
		hostname: hostname,
	}
	a.pool = worker.New(poolCfg, a.dispatch)
	return a
}

// Start launches the backing worker pool.
func (a *Alerter) Start() {
	a.pool.Start()
}

// Stop drains and stops the backing worker pool.
func (a *Alerter) Stop() {
	a.pool.Stop()
}

// Dispatch stamps a correlation ID on alert and enqueues it for delivery.
// It never blocks: a full queue or a closed pool is returned as the pool's
// error for the caller to log, never retried inline, matching the ingress
// loop's non-blocking contract.
func (a *Alerter) Dispatch(alert *types.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	return a.pool.Submit(alert)
}

// dispatch is the worker pool's JobFunc: it renders the CEF datagram once
// and sends it to the SIEM and (if configured) by email concurrently, so
// one alert's two deliveries don't serialize behind each other.
func (a *Alerter) dispatch(ctx context.Context, alert *types.Alert) error {
	datagram := FormatCEF(alert, a.hostname)

	var wg sync.WaitGroup
	var siemErr, emailErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		siemErr = a.siem.Send(datagram)
		outcome := "ok"
		if siemErr != nil {
			outcome = "error"
			a.logger.Warn().Err(siemErr).Str("alert_id", alert.ID).Msg("siem send failed")
		}
		if a.metrics != nil {
			a.metrics.SIEMSendTotal.WithLabelValues(outcome).Inc()
		}
	}()

	if a.email != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			subject := fmt.Sprintf("[sentinel] %s scan from %s", alert.ScanKind, alert.SourceIP)
			emailErr = a.email.Send(ctx, subject, datagram)
			outcome := "ok"
			if emailErr != nil {
				outcome = "error"
				a.logger.Warn().Err(emailErr).Str("alert_id", alert.ID).Msg("email send failed")
			}
			if a.metrics != nil {
				a.metrics.EmailSendTotal.WithLabelValues(outcome).Inc()
				a.metrics.EmailCircuitState.Set(float64(a.email.CircuitState()))
			}
		}()
	}

	wg.Wait()

	if siemErr != nil {
		return siemErr
	}
	return emailErr
}
