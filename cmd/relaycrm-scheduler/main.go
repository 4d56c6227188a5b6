// Command relaycrm-scheduler triggers the ad sync orchestrator on a jittered
// interval. A failed run is not retried; the next tick is the retry.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/relaycrm/internal/adsync"
	"github.com/agentworkforce/relaycrm/internal/config"
	"github.com/agentworkforce/relaycrm/internal/logging"
)

func main() {
	if err := config.LoadDotEnv(envOrDefault("RELAYCRM_ENV_FILE", ".env")); err != nil {
		fmt.Fprintln(os.Stderr, "relaycrm-scheduler:", err)
		os.Exit(1)
	}
	logger, err := logging.New(envOrDefault("RELAYCRM_LOG_LEVEL", "info"), envOrDefault("RELAYCRM_LOG_FORMAT", "json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "relaycrm-scheduler:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	triggerURL := flag.String("url", envOrDefault("RELAYCRM_TRIGGER_URL", "http://127.0.0.1:8080/v1/sync/ads"), "orchestrator trigger URL")
	serviceKey := flag.String("service-key", envOrDefault("RELAYCRM_SERVICE_KEY", strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_ROLE_KEY"))), "bearer service key")
	interval := flag.Duration("interval", durationEnv(logger, "RELAYCRM_SYNC_INTERVAL", 6*time.Hour), "trigger interval")
	intervalJitter := flag.Float64("interval-jitter", floatEnv(logger, "RELAYCRM_SYNC_INTERVAL_JITTER", 0.1), "trigger interval jitter ratio (0.0-1.0)")
	timeout := flag.Duration("timeout", durationEnv(logger, "RELAYCRM_SYNC_TIMEOUT", 5*time.Minute), "per-run timeout")
	once := flag.Bool("once", false, "trigger one run and exit")
	flag.Parse()

	if strings.TrimSpace(*serviceKey) == "" {
		logger.Fatal("scheduler: service key is required (--service-key or RELAYCRM_SERVICE_KEY)")
	}
	if *interval <= 0 {
		*interval = 6 * time.Hour
	}
	if *timeout <= 0 {
		*timeout = 5 * time.Minute
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	t := &trigger{
		url:        strings.TrimSpace(*triggerURL),
		serviceKey: strings.TrimSpace(*serviceKey),
		client:     &http.Client{Timeout: *timeout},
	}
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run := func() {
		ctx, cancel := context.WithTimeout(rootCtx, *timeout)
		defer cancel()
		report, err := t.fire(ctx)
		if err != nil {
			logger.Error("scheduler: trigger failed", zap.String("url", t.url), zap.Error(err))
			return
		}
		logReport(logger, report)
	}

	run()
	if *once {
		return
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			logger.Info("scheduler: stopping", zap.Error(rootCtx.Err()))
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
		}
	}
}

// trigger posts an empty request to the orchestrator endpoint.
type trigger struct {
	url        string
	serviceKey string
	client     *http.Client
}

func (t *trigger) fire(ctx context.Context) (adsync.Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return adsync.Report{}, err
	}
	req.Header.Set("Authorization", "Bearer "+t.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return adsync.Report{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return adsync.Report{}, err
	}
	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			return adsync.Report{}, fmt.Errorf("trigger returned %d: %s", resp.StatusCode, payload.Error)
		}
		return adsync.Report{}, fmt.Errorf("trigger returned %d", resp.StatusCode)
	}
	var report adsync.Report
	if err := json.Unmarshal(body, &report); err != nil {
		return adsync.Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func logReport(logger *zap.Logger, report adsync.Report) {
	for _, result := range report.Results {
		fields := []zap.Field{zap.String("platform", result.Platform), zap.String("status", result.Status)}
		if result.RowsSynced != nil {
			fields = append(fields, zap.Int("rows_synced", *result.RowsSynced))
		}
		if result.Error != "" {
			fields = append(fields, zap.String("error", result.Error))
		}
		logger.Info("scheduler: job result", fields...)
	}
	if report.Status == adsync.ReportSuccess {
		logger.Info("scheduler: run completed", zap.String("status", report.Status))
		return
	}
	logger.Warn("scheduler: run completed with failures", zap.String("status", report.Status))
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(logger *zap.Logger, name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("scheduler: invalid duration, using fallback",
			zap.String("name", name), zap.String("value", raw), zap.Duration("fallback", fallback))
		return fallback
	}
	return value
}

func floatEnv(logger *zap.Logger, name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Warn("scheduler: invalid number, using fallback",
			zap.String("name", name), zap.String("value", raw), zap.Float64("fallback", fallback))
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// jitteredIntervalWithSample spreads base by ±jitterRatio; sample in [0,1]
// picks the point in that range.
func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	sample = min(max(sample, 0), 1)
	factor := max(1+((sample*2)-1)*jitterRatio, 0)
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
