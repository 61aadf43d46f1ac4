package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"coin-mixer/config"
	"coin-mixer/internal/adapter/cli"
	"coin-mixer/internal/app"
	"coin-mixer/pkg/logger"

	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	remote := pflag.Bool("remote", false, "mix through the remote ledger API instead of in memory")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *remote {
		cfg.Ledger.Enabled = true
	}

	// Logs go to stderr so they never interleave with shell output on stdout.
	log := logger.NewStderr(cfg.Log.Level, cfg.Log.Pretty)

	mixerSvc, _, err := app.NewMixer(cfg, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize mixer")
	}
	mintAmount, err := cfg.Mixer.MintAmountDecimal()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid mint amount")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shell := cli.NewShell(mixerSvc, mintAmount, log)
	if err := shell.Run(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error().Err(err).Msg("Shell stopped")
	}
	// A second interrupt while settling kills the process.
	stop()

	settleCtx, cancel := context.WithTimeout(context.Background(), cfg.Mixer.SettleTimeout)
	defer cancel()
	if err := mixerSvc.Settle(settleCtx); err != nil {
		log.Warn().Err(err).Msg("Exiting with fan-out shares still pending")
	}
}
