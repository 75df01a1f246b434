/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/cache"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/seed"
)

var seedFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load stations, assets and schedules from a YAML fixture",
	Long: `Load a YAML fixture into the database.

Rows are upserted by id; rows without an id get one derived from their
name and parent, so re-running the same fixture changes nothing.

Examples:
  playoutd seed --file stations.yaml
`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Path to the YAML fixture")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(migrateCmd, seedCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	logger.Info().Int("models", len(db.Models())).Msg("schema up to date")
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	f, err := os.Open(seedFile)
	if err != nil {
		return fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	fixture, err := seed.Parse(f)
	if err != nil {
		return err
	}

	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	ctx := context.Background()
	res, err := seed.Apply(ctx, database, fixture, logger)
	if err != nil {
		return err
	}

	// A running engine may hold stale station, asset or blackout entries.
	if cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = cfg.RedisAddr
		cacheCfg.RedisPassword = cfg.RedisPassword
		cacheCfg.RedisDB = cfg.RedisDB
		c, err := cache.New(cacheCfg, logger)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
		defer c.Close()
		_ = c.InvalidateStationList(ctx)
		_ = c.InvalidateAssets(ctx)
		_ = c.InvalidateBlackoutWindows(ctx)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "stations=%d assets=%d templates=%d schedules=%d blocks=%d rules=%d blackouts=%d live_shows=%d\n",
		res.Stations, res.Assets, res.Templates, res.Schedules, res.Blocks, res.Rules, res.Blackouts, res.LiveShows)
	return nil
}
