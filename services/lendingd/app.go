package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"mmlink/native/compound"
	"mmlink/native/fixedpoint"
	"mmlink/native/lending"
	"mmlink/services/lending/ethledger"
	"mmlink/services/lendingd/config"
	"mmlink/storage"
)

var (
	// simDeployer seeds the sim's token and market addresses, which therefore
	// stay stable across restarts.
	simDeployer = common.HexToAddress("0x000000000000000000000000000000000000dE91")
	// simLiquidityProvider supplies each market's configured cash.
	simLiquidityProvider = common.HexToAddress("0x000000000000000000000000000000000000Ca54")
)

// backend is the ledger selected by configuration together with the assets it
// contributes to the registry and its teardown.
type backend struct {
	lending.Backend
	sim    *compound.Protocol
	assets []lending.AssetSeed
	close  func()
}

func buildBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendSim:
		_, custody, _, liqCustody := cfg.Engine.Accounts()
		proto, assets, err := buildSim(ctx, cfg.Backend.Sim, custody, liqCustody)
		if err != nil {
			return nil, fmt.Errorf("sim backend: %w", err)
		}
		return &backend{
			Backend: lending.Backend{Market: proto, Oracle: proto, Tokens: proto},
			sim:     proto,
			assets:  assets,
			close:   func() {},
		}, nil
	case config.BackendEVM:
		evm := cfg.Backend.EVM
		keys, err := evm.LoadKeys()
		if err != nil {
			return nil, fmt.Errorf("evm backend: %w", err)
		}
		ledgerCfg := ethledger.Config{
			Comptroller:  common.HexToAddress(evm.Comptroller),
			Keys:         keys,
			PollInterval: evm.PollInterval,
			Logger:       logger.With(slog.String("component", "ethledger")),
		}
		if evm.Oracle != "" {
			ledgerCfg.Oracle = common.HexToAddress(evm.Oracle)
		}
		if evm.ChainID > 0 {
			ledgerCfg.ChainID = big.NewInt(evm.ChainID)
		}
		ledger, client, err := ethledger.Dial(ctx, evm.RPCURL, ledgerCfg)
		if err != nil {
			return nil, fmt.Errorf("evm backend: %w", err)
		}
		return &backend{
			Backend: lending.Backend{Market: ledger, Oracle: ledger, Tokens: ledger},
			close:   client.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
	}
}

// buildSim deploys the configured tokens and markets, funds faucet accounts
// and pre-approves both custody accounts to pull from them, since the API
// offers no way to sign an ERC-20 approval.
func buildSim(ctx context.Context, cfg config.SimConfig, spenders ...common.Address) (*compound.Protocol, []lending.AssetSeed, error) {
	protoCfg := compound.Config{Deployer: simDeployer}
	var err error
	if cfg.CloseFactor != "" {
		if protoCfg.CloseFactor, err = fixedpoint.ParseDecimal(cfg.CloseFactor, fixedpoint.Decimals); err != nil {
			return nil, nil, err
		}
	}
	if cfg.LiquidationIncentive != "" {
		if protoCfg.LiquidationIncentive, err = fixedpoint.ParseDecimal(cfg.LiquidationIncentive, fixedpoint.Decimals); err != nil {
			return nil, nil, err
		}
	}
	proto, err := compound.New(protoCfg)
	if err != nil {
		return nil, nil, err
	}

	assets := make([]lending.AssetSeed, 0, len(cfg.Tokens))
	for _, tok := range cfg.Tokens {
		token, err := proto.DeployToken(tok.Symbol, tok.Decimals)
		if err != nil {
			return nil, nil, fmt.Errorf("deploy %s: %w", tok.Symbol, err)
		}
		marketCfg := compound.MarketConfig{Underlying: token}
		if marketCfg.CollateralFactor, err = optionalMantissa(tok.CollateralFactor); err != nil {
			return nil, nil, fmt.Errorf("%s collateral factor: %w", tok.Symbol, err)
		}
		if marketCfg.ReserveFactor, err = optionalMantissa(tok.ReserveFactor); err != nil {
			return nil, nil, fmt.Errorf("%s reserve factor: %w", tok.Symbol, err)
		}
		if marketCfg.Price, err = optionalMantissa(tok.Price); err != nil {
			return nil, nil, fmt.Errorf("%s price: %w", tok.Symbol, err)
		}
		market, err := proto.ListMarket(marketCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("list %s: %w", tok.Symbol, err)
		}

		if tok.Cash != "" {
			cash, err := fixedpoint.ParseDecimal(tok.Cash, tok.Decimals)
			if err != nil {
				return nil, nil, fmt.Errorf("%s cash: %w", tok.Symbol, err)
			}
			if !cash.IsZero() {
				if err := proto.Faucet(token, simLiquidityProvider, cash); err != nil {
					return nil, nil, err
				}
				if err := proto.Approve(ctx, token, simLiquidityProvider, market, cash); err != nil {
					return nil, nil, err
				}
				if err := proto.Mint(ctx, simLiquidityProvider, market, cash); err != nil {
					return nil, nil, fmt.Errorf("%s cash: %w", tok.Symbol, err)
				}
			}
		}

		for account, amount := range tok.Faucet {
			holder := common.HexToAddress(strings.TrimSpace(account))
			value, err := fixedpoint.ParseDecimal(amount, tok.Decimals)
			if err != nil {
				return nil, nil, fmt.Errorf("%s faucet: %w", tok.Symbol, err)
			}
			if err := proto.Faucet(token, holder, value); err != nil {
				return nil, nil, err
			}
			for _, spender := range spenders {
				if err := proto.Approve(ctx, token, holder, spender, maxApproval()); err != nil {
					return nil, nil, err
				}
			}
		}
		assets = append(assets, lending.AssetSeed{Symbol: tok.Symbol, Asset: token.Hex(), Market: market.Hex()})
	}
	return proto, assets, nil
}

func optionalMantissa(value string) (*uint256.Int, error) {
	if value == "" {
		return nil, nil
	}
	return fixedpoint.ParseDecimal(value, fixedpoint.Decimals)
}

func maxApproval() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// runBlockClock advances the sim one block per interval until ctx ends.
func runBlockClock(ctx context.Context, proto *compound.Protocol, interval time.Duration) {
	if proto == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			proto.AdvanceBlocks(1)
		}
	}
}

// openRegistry returns a registry persisted in LevelDB when path is set, else
// one over an in-memory database.
func openRegistry(owner common.Address, path string) (*lending.Registry, io.Closer, error) {
	var db storage.Database
	if path == "" {
		db = storage.NewMemDB()
	} else {
		level, err := storage.NewLevelDB(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open registry db: %w", err)
		}
		db = level
	}
	registry, err := lending.OpenRegistry(owner, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return registry, db, nil
}

// seedRegistry registers each asset through the engine so the ledger
// confirms the pairing. Entries already present are skipped.
func seedRegistry(ctx context.Context, eng *lending.Engine, assets []lending.AssetSeed, logger *slog.Logger) error {
	for _, seed := range assets {
		_, err := eng.RegisterAsset(ctx, eng.Registry().Owner(), seed.AssetAddress(), seed.MarketAddress())
		switch {
		case err == nil:
			logger.Info("asset registered", slog.String("symbol", seed.Symbol), slog.String("asset", seed.Asset), slog.String("market", seed.Market))
		case errors.Is(err, lending.ErrAlreadyRegistered):
		default:
			return fmt.Errorf("register %s: %w", seed.Symbol, err)
		}
	}
	return nil
}
