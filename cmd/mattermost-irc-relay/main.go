// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mattermost-irc-relay bridges one Mattermost channel with channels
// on one or more IRC-style networks. Messages are relayed in both directions
// and IRC senders keep their nick on the Mattermost side through an incoming
// webhook.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.mau.fi/util/exzerolog"

	"github.com/aiku/mattermost-irc-relay/pkg/api"
	"github.com/aiku/mattermost-irc-relay/pkg/config"
	"github.com/aiku/mattermost-irc-relay/pkg/ircnet"
	"github.com/aiku/mattermost-irc-relay/pkg/mattermost"
	"github.com/aiku/mattermost-irc-relay/pkg/relay"
	"github.com/aiku/mattermost-irc-relay/pkg/telemetry"
)

const name = "mattermost-irc-relay"

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// exitConfig is the exit status for configuration faults.
const exitConfig = 2

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, relay.ErrConfiguration) {
			os.Exit(exitConfig)
		}
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flagSet.StringP("config", "c", "config.yaml", "path to the config file")
	envFile := flagSet.String("env-file", ".env", "optional .env file loaded before the config")
	generate := flagSet.BoolP("generate-config", "g", false, "write the example config to --config and exit")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if *showVersion {
		fmt.Printf("%s %s (commit %s, built %s)\n", name, Tag, Commit, BuildTime)
		return nil
	}
	if *generate {
		if err := os.WriteFile(*configPath, []byte(config.ExampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write example config: %w", err)
		}
		fmt.Printf("Wrote example config to %s\n", *configPath)
		return nil
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFile, err)
	}

	cfg, err := config.Load(*configPath, false)
	if err != nil {
		return err
	}

	log, err := cfg.Logging.Compile()
	if err != nil {
		return fmt.Errorf("%w: failed to set up logging: %w", relay.ErrConfiguration, err)
	}
	exzerolog.SetupDefaults(log)
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("build_time", BuildTime).
		Int("networks", len(cfg.Networks)).
		Msg("Starting relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, name, Tag, *log)
	if err != nil {
		return err
	}

	health := relay.NewHealth(telemetry.NewMetrics(prometheus.DefaultRegisterer))
	platform := mattermost.NewClient(cfg.Mattermost, mattermost.Options{Log: *log, Recorder: health})
	networks := make([]relay.Network, 0, len(cfg.Networks))
	for _, nc := range cfg.Networks {
		networks = append(networks, ircnet.New(nc, ircnet.Options{
			Log:          *log,
			Recorder:     health,
			RestartDelay: cfg.Relay.RestartDelay,
		}))
	}

	coord, err := relay.NewCoordinator(platform, networks, relay.Options{
		Log:          *log,
		Health:       health,
		RelayQuits:   cfg.Relay.RelayQuits,
		OnlineNotice: cfg.Relay.OnlineNotice,
		SendTimeout:  cfg.Relay.SendTimeout,
	})
	if err != nil {
		return err
	}
	if err := coord.Start(ctx); err != nil {
		return err
	}

	server := api.New(cfg.API, coord, prometheus.DefaultGatherer, *log)
	if err := server.Start(); err != nil {
		stop()
		shutdown(coord, server, shutdownTracing, cfg.Relay, log)
		return err
	}

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	shutdown(coord, server, shutdownTracing, cfg.Relay, log)
	return nil
}

func shutdown(coord *relay.Coordinator, server *api.Server, shutdownTracing telemetry.ShutdownFunc, cfg config.RelayConfig, log *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("HTTP API did not shut down cleanly")
	}
	if err := coord.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Relay sessions did not stop before the deadline")
	}
	if err := shutdownTracing(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}
	log.Info().Msg("Relay stopped")
}
