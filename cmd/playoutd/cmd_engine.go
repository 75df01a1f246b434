/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/blackout"
	"github.com/friendsincode/grimnir_playout/internal/db"
	"github.com/friendsincode/grimnir_playout/internal/models"
	"github.com/friendsincode/grimnir_playout/internal/server"
)

var (
	blackoutStation string
	blackoutAll     bool
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single engine cycle over every active station and exit",
	RunE:  runOnce,
}

var blackoutsCmd = &cobra.Command{
	Use:   "blackouts",
	Short: "Inspect and regenerate blackout windows",
}

var blackoutsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Regenerate Sabbath and holiday windows over the configured horizon",
	Long: `Regenerate blackout windows for stations that observe the Sabbath.

Generated windows that have not started are replaced. Windows in progress,
in the past, released by an operator or added by hand are left alone.

Examples:
  playoutd blackouts generate
  playoutd blackouts generate --station 7f3c... --all
`,
	RunE: runBlackoutsGenerate,
}

var blackoutsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved windows for a station that have not ended",
	RunE:  runBlackoutsList,
}

func init() {
	blackoutsGenerateCmd.Flags().StringVar(&blackoutStation, "station", "", "Only this station id")
	blackoutsGenerateCmd.Flags().BoolVar(&blackoutAll, "all", false, "Include stations that do not observe the Sabbath")
	blackoutsListCmd.Flags().StringVar(&blackoutStation, "station", "", "Station id")
	_ = blackoutsListCmd.MarkFlagRequired("station")

	blackoutsCmd.AddCommand(blackoutsGenerateCmd, blackoutsListCmd)
	rootCmd.AddCommand(onceCmd, blackoutsCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	srv, err := server.Open(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer func() { _ = srv.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return srv.Engine().Tick(ctx)
}

func runBlackoutsGenerate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	q := database.Where("active = ?", true)
	if blackoutStation != "" {
		q = database.Where("id = ?", blackoutStation)
	}
	var stations []models.Station
	if err := q.Order("id ASC").Find(&stations).Error; err != nil {
		return fmt.Errorf("load stations: %w", err)
	}
	if blackoutStation != "" && len(stations) == 0 {
		return fmt.Errorf("station %s not found", blackoutStation)
	}

	svc := blackout.NewService(database, nil, cfg.BlackoutHorizon, cfg.BlackoutRefresh, logger)
	ctx := context.Background()
	now := time.Now()
	total := 0
	for _, station := range stations {
		if !blackoutAll && !station.AutomationConfig().ObserveSabbath {
			continue
		}
		n, err := svc.Sync(ctx, station, now)
		if errors.Is(err, blackout.ErrNoLocation) {
			logger.Warn().Str("station", station.ID).Msg("station has no location, skipped")
			continue
		}
		if err != nil {
			return fmt.Errorf("sync station %s: %w", station.ID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d windows\n", station.ID, n)
		total += n
	}
	logger.Info().Int("windows", total).Int("stations", len(stations)).Msg("blackout generation complete")
	return nil
}

func runBlackoutsList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()

	svc := blackout.NewService(database, nil, cfg.BlackoutHorizon, cfg.BlackoutRefresh, logger)
	windows, err := svc.Upcoming(context.Background(), blackoutStation, time.Now())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTARTS (UTC)\tENDS (UTC)\tGENERATED\tSTATIONS")
	for _, w := range windows {
		scope := "all"
		if w.StationIDs != nil {
			scope = strings.Join(w.StationIDs, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			w.ID, w.Name,
			w.StartsAt.UTC().Format(time.RFC3339), w.EndsAt.UTC().Format(time.RFC3339),
			w.Generated, scope)
	}
	return tw.Flush()
}
