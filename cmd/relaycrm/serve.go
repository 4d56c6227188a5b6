package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentworkforce/relaycrm/internal/crm"
	"github.com/agentworkforce/relaycrm/internal/httpapi"
	"github.com/agentworkforce/relaycrm/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the webhook, sync trigger and stream endpoints",
	Long: `Starts the HTTP server. Dynamics deliveries are accepted on
/webhooks/dynamics-leads and /webhooks/dynamics-opportunities; the ad sync
orchestrator is triggered on /v1/sync/ads when a functions URL is configured.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := loadApp()
	if err != nil {
		return err
	}
	defer func() { _ = rt.logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := rt.openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	campaigns, err := rt.campaignSource(ctx)
	if err != nil {
		return err
	}

	backend := httpapi.Backend{
		Batches: crm.NewBatchProcessor(store, campaigns, crm.BatchOptions{
			Concurrency: rt.cfg.BatchConcurrency,
			Logger:      rt.logger,
		}),
		SyncLog: store,
	}
	if orch := rt.orchestrator(store); orch != nil {
		backend.Sync = orch
	} else {
		rt.logger.Warn("serve: functions url not set, ad sync trigger disabled")
	}
	handler := httpapi.NewServerWithConfig(backend, httpapi.ServerConfig{
		WebhookSecret: rt.cfg.WebhookSecret,
		ServiceKey:    rt.cfg.ServiceKey,
		MaxBodyBytes:  rt.cfg.MaxBodyBytes,
		RateLimit:     rt.cfg.RateLimit,
		RateBurst:     rt.cfg.RateBurst,
		Logger:        rt.logger,
	})
	if rt.cfg.WebhookSecret == "" {
		rt.logger.Warn("serve: webhook secret not set, every webhook will be rejected")
	}

	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("serve: listening", zap.String("addr", rt.cfg.Addr), zap.String("store", describeStore(store, rt.cfg.StoreDSN)))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	rt.logger.Info("serve: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if mem, ok := store.(*storage.MemoryStore); ok {
		leads, opportunities := mem.Counts()
		rt.logger.Warn("serve: discarding in-memory store",
			zap.Int("leads", leads), zap.Int("opportunities", opportunities))
	}
	return nil
}

// campaignSource hot-reloads the configured tables file when watching is
// enabled.
func (rt *app) campaignSource(ctx context.Context) (crm.CampaignSource, error) {
	if rt.cfg.CampaignTables == "" || !rt.cfg.WatchCampaigns {
		tables, err := rt.campaignTables()
		if err != nil {
			return nil, err
		}
		return tables, nil
	}
	watcher, err := crm.NewCampaignWatcher(rt.cfg.CampaignTables, rt.logger)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := watcher.Watch(ctx); err != nil {
			rt.logger.Warn("campaign: watch stopped", zap.Error(err))
		}
	}()
	return watcher, nil
}

// storeScheme keeps credentials out of the startup log.
func storeScheme(dsn string) string {
	if scheme, _, ok := strings.Cut(dsn, "://"); ok {
		return scheme
	}
	return "sqlite"
}
