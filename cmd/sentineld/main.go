// Command sentineld ingests firewall syslog over UDP, detects port scans,
// and raises CEF alerts to a SIEM and, optionally, by email.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/idswatch/sentinel/internal/alerter"
	"github.com/idswatch/sentinel/internal/config"
	"github.com/idswatch/sentinel/internal/detector"
	"github.com/idswatch/sentinel/internal/health"
	"github.com/idswatch/sentinel/internal/ingress"
	"github.com/idswatch/sentinel/internal/logging"
	"github.com/idswatch/sentinel/internal/metrics"
	"github.com/idswatch/sentinel/internal/parser"
	"github.com/idswatch/sentinel/internal/security"
	"github.com/idswatch/sentinel/internal/server"
	"github.com/idswatch/sentinel/internal/shutdown"
	"github.com/idswatch/sentinel/internal/worker"
)

var (
	configFile = flag.String("config", "./config.toml", "Path to configuration file")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:  logLevel(cfg.Debug),
		Format: "json",
	})
	logging.SetGlobal(logger)
	logger.Info().Str("version", version).Str("config", *configFile).Msg("starting sentineld")
	logConfigSummary(cfg, logger)

	if err := resolveEmailSecret(cfg); err != nil {
		return fmt.Errorf("resolve email credential: %w", err)
	}

	collector := metrics.NewCollector()
	collector.Start()

	healthChecker := health.NewChecker(5 * time.Second)

	logParser, err := parser.New(cfg.ParserName)
	if err != nil {
		return err
	}

	det := detector.New(detector.Config{
		FastScan:      toScanConfig(cfg.FastScan),
		SlowScan:      toSlowScanConfig(cfg.SlowScan),
		AcceptScan:    toScanConfig(cfg.AcceptScan),
		AlertCooldown: time.Duration(cfg.AlertCooldownSecs) * time.Second,
		MaxHitsPerIP:  cfg.MaxHitsPerIP,
		MaxTrackedIPs: cfg.MaxTrackedIPs,
	})

	siemSender, err := alerter.NewSIEMSender(cfg.SIEM.Address, cfg.SIEM.Port)
	if err != nil {
		return fmt.Errorf("construct siem sender: %w", err)
	}

	emailSender, err := alerter.NewEmailSender(cfg.Email, logger)
	if err != nil {
		return fmt.Errorf("construct email transport: %w", err)
	}

	alrt := alerter.New(siemSender, emailSender, cfg.SIEM.Hostname, worker.PoolConfig{
		NumWorkers: 8,
		QueueSize:  2000,
		JobTimeout: 10 * time.Second,
	}, collector, logger)
	alrt.Start()

	receiver, err := ingress.New(ingress.Config{
		ListenAddress:      fmt.Sprintf("%s:%d", cfg.ListenAddress, cfg.ListenPort),
		Debug:              cfg.Debug,
		GlobalRateLimit:    cfg.UDPRateLimit,
		GlobalBurstSize:    cfg.UDPBurstSize,
		PerSourceRateLimit: cfg.UDPRateLimit / 10,
		CleanupInterval:    time.Duration(cfg.Cleanup.IntervalSecs) * time.Second,
		MaxEntryAge:        time.Duration(cfg.Cleanup.MaxEntryAgeSecs) * time.Second,
	}, logParser, det, alrt, collector, logger)
	if err != nil {
		return fmt.Errorf("construct ingress receiver: %w", err)
	}

	healthChecker.Register("ingress", func(ctx context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusHealthy, LastChecked: time.Now()}
	})

	adminServer := server.New(server.Config{
		Address:         cfg.AdminAddress,
		MetricsRegistry: collector.Registry(),
		HealthChecker:   healthChecker,
		Logger:          logger.WithComponent("admin"),
	})

	shutdownMgr := shutdown.New(shutdown.Config{
		Timeout: 30 * time.Second,
		Logger:  logger.WithComponent("shutdown"),
	})

	shutdownMgr.RegisterFunc("ingress", func(ctx context.Context) error {
		return receiver.Stop(ctx)
	})
	shutdownMgr.RegisterFunc("alerter", func(ctx context.Context) error {
		alrt.Stop()
		return nil
	})
	shutdownMgr.RegisterFunc("admin-server", func(ctx context.Context) error {
		return adminServer.Stop(ctx)
	})

	if err := receiver.Start(); err != nil {
		return fmt.Errorf("start ingress receiver: %w", err)
	}

	adminErrCh := adminServer.Start()
	go func() {
		if err := <-adminErrCh; err != nil {
			logger.Error().Err(err).Msg("admin server failed")
		}
	}()

	logger.Info().Msg("sentineld running")
	shutdownMgr.WaitForSignal()
	logger.Info().Msg("sentineld stopped")

	return nil
}

func logLevel(debug bool) string {
	if debug {
		return "debug"
	}
	return "info"
}

// resolveEmailSecret indirects email.password through the SecretManager
// (env:/file:/plaintext), so operators never have to commit a plaintext
// SMTP credential to the config file.
func resolveEmailSecret(cfg *config.Config) error {
	if !cfg.Email.Enabled || cfg.Email.Password == "" {
		return nil
	}
	sm := security.NewSecretManager()
	resolved, err := sm.GetSecret(cfg.Email.Password)
	if err != nil {
		return err
	}
	cfg.Email.Password = resolved
	return nil
}

func logConfigSummary(cfg *config.Config, logger *logging.Logger) {
	auditor := security.NewSecurityAuditor()
	fields := map[string]interface{}{
		"listen_address": cfg.ListenAddress,
		"listen_port":    cfg.ListenPort,
		"admin_address":  cfg.AdminAddress,
		"parser_name":    cfg.ParserName,
		"siem_address":   cfg.SIEM.Address,
		"siem_port":      cfg.SIEM.Port,
		"email_enabled":  cfg.Email.Enabled,
		"smtp_host":      cfg.Email.SMTPHost,
		"smtp_password":  cfg.Email.Password,
	}
	redacted := auditor.RedactSensitiveFields(fields)
	event := logger.Info()
	for k, v := range redacted {
		event = event.Interface(k, v)
	}
	event.Msg("loaded configuration")
}

func toScanConfig(t config.ScanThreshold) detector.ScanConfig {
	return detector.ScanConfig{
		PortThreshold: t.PortThreshold,
		TimeWindow:    time.Duration(t.TimeWindowSecs) * time.Second,
	}
}

func toSlowScanConfig(t config.SlowScanThreshold) detector.ScanConfig {
	return detector.ScanConfig{
		PortThreshold: t.PortThreshold,
		TimeWindow:    time.Duration(t.TimeWindowSecs()) * time.Second,
	}
}
