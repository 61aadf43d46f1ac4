// Package app assembles the mixer from configuration for the binaries under cmd/.
package app

import (
	"fmt"

	"coin-mixer/config"
	"coin-mixer/internal/adapter/ledger"
	"coin-mixer/internal/core/ports"
	"coin-mixer/internal/service"
	"coin-mixer/pkg/logger"

	"github.com/rs/zerolog"
)

// NewMixer builds the in-memory mixer, or the delegated one when the remote
// ledger is enabled. The journal is only used by the in-memory mixer; the
// returned checkers cover the remote ledger when it is in use.
func NewMixer(cfg *config.Config, journal ports.TransactionJournal, log zerolog.Logger) (ports.MixerService, []ports.HealthChecker, error) {
	feeRate, err := cfg.Mixer.FeeRateDecimal()
	if err != nil {
		return nil, nil, err
	}
	opts := []service.MixerOption{
		service.WithMaxShareDelay(cfg.Mixer.MaxShareDelay),
		service.WithSplitRange(cfg.Mixer.SplitMin, cfg.Mixer.SplitMax),
	}

	if !cfg.Ledger.Enabled {
		svc, err := service.NewMixerService(feeRate, journal, logger.Component(log, "mixer"), opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("creating mixer: %w", err)
		}
		return svc, nil, nil
	}

	// The shell and the REST facade mint mint_amount, which must be what the
	// ledger credits on /create.
	mintAmount, err := cfg.Mixer.MintAmountDecimal()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, service.WithMintAmount(mintAmount))

	client := ledger.NewClient(cfg.Ledger.BaseURL, ledger.NewHTTPClient(cfg.Ledger.Timeout), logger.Component(log, "ledger"))
	svc, err := service.NewRemoteMixerService(client, feeRate, logger.Component(log, "remote_mixer"), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("creating remote mixer: %w", err)
	}
	log.Info().
		Str("base_url", cfg.Ledger.BaseURL).
		Str("house_address", svc.HouseAddress()).
		Msg("mixing through remote ledger")
	return svc, []ports.HealthChecker{client}, nil
}
