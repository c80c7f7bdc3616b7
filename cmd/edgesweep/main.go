/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/netip"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/carverauto/edgesweep/pkg/config"
	"github.com/carverauto/edgesweep/pkg/logger"
	"github.com/carverauto/edgesweep/pkg/models"
	"github.com/carverauto/edgesweep/pkg/sweep"
	"github.com/carverauto/edgesweep/pkg/tunnel"
)

const (
	configFileName         = "edgesweep.json"
	tunnelTemplateFileName = "tunnel-template.json"
	outboundFileName       = "outbound-template.json"
	tunnelConfigFileName   = "tunnel-config.json"
	resultFileName         = "results.txt"
	cursorFileName         = "cursor.json"
)

var errMissingIPFile = errors.New("-ip-file is required")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configFile := flag.String("config", "", "Path to the scanner config (default <data-dir>/"+configFileName+")")
	ipFile := flag.String("ip-file", "", "Path to the address-range source file")
	rangeCount := flag.Int("range-count", 0, "Cap on the number of ranges considered (0 = all)")
	noCache := flag.Bool("no-cache", false, "Ignore persisted cursor and result state, start fresh")
	dataDir := flag.String("data-dir", "data", "Directory holding config, templates and persisted state")
	autoSkip := flag.Bool("auto-skip", false, "Stop sweeping ranges with no reachable candidate after the warm-up phase")
	enableThreshold := flag.Int("enable-threshold", 10, "Warm-up offset count before auto-skip prunes ranges")
	ignoreBodyWarning := flag.Bool("ignore-body-warning", false, "Suppress response-body mismatch warnings")
	flag.Parse()

	if *ipFile == "" {
		return errMissingIPFile
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Step 1: load configuration.
	cfgLoader := config.NewConfig(nil)

	var cfg models.ScanConfig

	configPath := *configFile
	if configPath == "" {
		configPath = filepath.Join(*dataDir, configFileName)
	}

	if err := cfgLoader.LoadAndValidate(ctx, configPath, &cfg); err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	// Step 2: logger from loaded config.
	logConfig := logger.DefaultConfig()
	if cfg.Logging != nil {
		logConfig.Level = cfg.Logging.Level
		logConfig.Debug = cfg.Logging.Debug
		logConfig.Output = cfg.Logging.Output
	}

	swLogger, err := logger.New(logConfig, "edgesweep")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Step 3: address space.
	parser := sweep.NewRangeParser(swLogger)

	ranges, err := parser.ParseFile(*ipFile)
	if err != nil {
		return err
	}

	if *rangeCount > 0 && *rangeCount < len(ranges) {
		ranges = ranges[:*rangeCount]
	}

	maxOffset := sweep.MaxOffset(ranges, cfg.MaxRangeLen)

	swLogger.Info().
		Int("ranges", len(ranges)).
		Str("source", *ipFile).
		Int("max_offset", maxOffset).
		Msg("loaded address ranges")

	// Step 4: tunnel templates.
	template, err := tunnel.LoadConfig(filepath.Join(*dataDir, tunnelTemplateFileName))
	if err != nil {
		return err
	}

	outbound, err := tunnel.LoadOutbound(filepath.Join(*dataDir, outboundFileName))
	if err != nil {
		return err
	}

	// Step 5: persisted state. Missing files mean a fresh start; anything
	// unreadable beyond that is fatal.
	resultPath := filepath.Join(*dataDir, resultFileName)
	cursorPath := filepath.Join(*dataDir, cursorFileName)

	store := sweep.NewResultStore()
	cursor := &sweep.Cursor{}

	if *noCache {
		swLogger.Info().Msg("no-cache set, starting with empty result store and zero cursor")
	} else {
		if err := store.Load(resultPath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			swLogger.Info().Str("path", resultPath).Msg("no persisted results, starting empty")
		} else {
			swLogger.Info().Int("results", store.Len()).Str("path", resultPath).Msg("loaded persisted results")
		}

		loaded, err := sweep.LoadCursor(cursorPath)

		switch {
		case err == nil:
			if err := loaded.Validate(len(ranges), maxOffset); err != nil {
				return err
			}

			cursor = loaded

			swLogger.Info().
				Int("range_index", cursor.RangeIndex).
				Int("offset", cursor.Offset).
				Msg("resuming from persisted cursor")
		case errors.Is(err, fs.ErrNotExist):
			swLogger.Info().Str("path", cursorPath).Msg("no persisted cursor, starting at zero")
		default:
			return err
		}
	}

	// Leave parseable state behind even if the first batch never completes.
	if err := store.Save(resultPath); err != nil {
		return err
	}

	if err := cursor.Save(cursorPath); err != nil {
		return err
	}

	sweep.EnableCoveredRanges(ranges, store)

	// Step 6: wire the batch pipeline.
	prober, err := sweep.NewPairProber(&cfg, !*ignoreBodyWarning, swLogger)
	if err != nil {
		return err
	}

	supervisor := &tunnel.Supervisor{
		Binary:     cfg.TunnelBinary,
		ConfigPath: filepath.Join(*dataDir, tunnelConfigFileName),
		Template:   template,
		Outbound:   outbound,
		ListenIP:   cfg.ListenIP,
		PortBase:   cfg.PortBase,
		Logger:     swLogger,
	}

	enum := &sweep.Enumerator{
		Ranges:          ranges,
		MaxOffset:       maxOffset,
		AutoSkip:        *autoSkip,
		EnableThreshold: *enableThreshold,
	}

	total := enum.TotalCount(cursor.Offset)
	completed := enum.CompletedCount(cursor)

	swLogger.Info().Int("completed", completed).Int("total", total).Msg("scan progress")

	progress := sweep.NewProgress(total, completed)

	driver := sweep.NewDriver(&cfg, enum, store, cursor,
		tunnelRunner{supervisor}, prober, progress,
		sweep.DriverOptions{ResultPath: resultPath, CursorPath: cursorPath},
		swLogger)

	return driver.Run(ctx)
}

// tunnelRunner adapts the supervisor's concrete handle to the driver's
// interface.
type tunnelRunner struct {
	supervisor *tunnel.Supervisor
}

func (t tunnelRunner) Start(ctx context.Context, addrs []netip.Addr) (sweep.TunnelHandle, error) {
	return t.supervisor.Start(ctx, addrs)
}
