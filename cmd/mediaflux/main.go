// Mediaflux - Media Pipeline Daemon
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mediaflux

// Command mediaflux runs the media pipeline daemon: watchers discover media,
// the middleware chain shapes it, and uploaders publish it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/mediaflux/internal/config"
	"github.com/tomtom215/mediaflux/internal/engine"
	"github.com/tomtom215/mediaflux/internal/logging"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mediaflux: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to config file (default: search standard locations)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("mediaflux", version)
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("version", version).Msg("mediaflux starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, engine.Registries{})
	if err != nil {
		return err
	}
	if err := eng.Prepare(); err != nil {
		_ = eng.Close()
		return err
	}

	// Run blocks until a signal cancels ctx and owns the shutdown sequence.
	// A supervision failure after startup is logged, not a process error.
	if err := eng.Run(ctx); err != nil {
		logging.Err(err).Msg("shutdown finished with errors")
	}
	logging.Info().Msg("mediaflux stopped")
	return nil
}
