package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"cogstate/internal/config"
	"cogstate/internal/sessionlog"
	"cogstate/internal/version"
)

var (
	// configPath is the --config flag; empty selects the platform default.
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "cogstated",
	Short: "cogstated - cognitive state inference from typing rhythm",
	Long: `cogstated watches keystroke timing, extracts rhythm features over a
sliding window and runs a three-state hidden Markov model (flow, incubation,
stuck) over them. The smoothed belief is served over HTTP and every step is
recorded to a local SQLite session log.

Key identities are never stored unless record_keys is enabled.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("cogstated version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: "+config.ConfigPath()+")")
}

// loadConfig reads and validates the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	return config.NewLoader(configPath).Load()
}

var errStorageDisabled = errors.New("session log disabled: storage.path is empty")

// openStore opens the session log named by the configuration.
func openStore() (*sessionlog.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Path == "" {
		return nil, errStorageDisabled
	}
	store, err := sessionlog.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	return store, nil
}
