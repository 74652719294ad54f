package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/common"
)

var (
	configFile string
	inMemory   bool
	noDB       bool
)

var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "Classify and extract financial PDFs",
	Long: `docflow locates text in financial PDFs, classifies them as statements,
capital calls, distributions or AGM notices, extracts schema fields with
bounding boxes and writes one JSON artifact per document.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (default ./docflow.yaml)")
	pf.BoolVar(&inMemory, "in-memory", false, "use a private in-memory SQLite database")
	pf.BoolVar(&noDB, "no-db", false, "skip persistence")
	pf.String("log-level", "info", "debug, info, warn or error")
	pf.String("output-dir", "", "directory for JSON artifacts")
	pf.StringSlice("providers", nil, "LLM providers in fallback order")

	_ = viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("output.dir", pf.Lookup("output-dir"))
	_ = viper.BindPFlag("llm.providers", pf.Lookup("providers"))
}

func loadConfig() (*common.Config, error) {
	cfg, _, err := loadConfigFrom()
	return cfg, err
}

// loadConfigFrom also reports which config file was merged, if any.
func loadConfigFrom() (*common.Config, string, error) {
	l := common.NewLoader()
	cfg, err := l.Load(configFile)
	if err != nil {
		return nil, "", err
	}
	return cfg, l.ConfigFileUsed(), nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		l = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}

// setup loads and validates config, then builds the pipeline.
func setup(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return app.New(cmd.Context(), cfg, logger, app.Options{
		InMemory:   inMemory,
		NoDatabase: noDB,
		Registerer: prometheus.NewRegistry(),
	})
}
