package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sevigo/pr-warden/internal/cache"
	"github.com/sevigo/pr-warden/internal/config"
	"github.com/sevigo/pr-warden/internal/logger"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local pass-1 result cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every cached pass-1 result",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		log := logger.NewLogger(cfg.LoggerConfig, nil)

		cache.NewSQLiteCache(cfg.CachePath, log).Clear(context.Background())
		successColor.Printf("Cache cleared: %s\n", cfg.CachePath)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra command registration
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
