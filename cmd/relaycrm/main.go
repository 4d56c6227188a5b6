// Command relaycrm ingests Dynamics webhooks into the CRM store and runs the
// ad platform sync orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentworkforce/relaycrm/internal/adsync"
	"github.com/agentworkforce/relaycrm/internal/config"
	"github.com/agentworkforce/relaycrm/internal/crm"
	"github.com/agentworkforce/relaycrm/internal/logging"
	"github.com/agentworkforce/relaycrm/internal/storage"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "relaycrm",
	Short:         "CRM webhook ingestion and ad sync orchestration",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default $RELAYCRM_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "relaycrm:", err)
		os.Exit(1)
	}
}

// app is what every subcommand needs before doing work.
type app struct {
	cfg    config.Config
	logger *zap.Logger
}

func loadApp() (*app, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	for _, warning := range cfg.Warnings {
		logger.Warn("config: " + warning)
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (rt *app) openStore(cmd *cobra.Command) (crm.Store, error) {
	store, err := storage.Open(rt.cfg.StoreDSN, storage.Options{
		TablePrefix:      rt.cfg.TablePrefix,
		OperationTimeout: rt.cfg.StoreTimeout.Duration,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := storage.Migrate(cmd.Context(), store); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return store, nil
}

// describeStore names the backend without credentials: the file path for
// SQLite, the scheme otherwise.
func describeStore(store crm.Store, dsn string) string {
	if sqlite, ok := store.(*storage.SQLiteStore); ok {
		return "sqlite " + sqlite.Path()
	}
	return storeScheme(dsn)
}

// campaignTables loads the configured tables, or the built-in defaults when
// no file is configured.
func (rt *app) campaignTables() (*crm.CampaignTables, error) {
	if rt.cfg.CampaignTables == "" {
		return crm.DefaultCampaignTables(), nil
	}
	return crm.LoadCampaignTables(rt.cfg.CampaignTables)
}

// orchestrator returns nil when no functions URL is configured.
func (rt *app) orchestrator(audit adsync.SyncLogWriter) *adsync.Orchestrator {
	if rt.cfg.FunctionsURL == "" {
		return nil
	}
	client := adsync.NewClient(adsync.ClientOptions{
		BaseURL:    rt.cfg.FunctionsURL,
		ServiceKey: rt.cfg.ServiceKey,
		UserAgent:  "relaycrm",
	})
	return adsync.New(audit, client.DefaultJobs(), adsync.Options{
		JobTimeout: rt.cfg.JobTimeout.Duration,
		Logger:     rt.logger,
	})
}
