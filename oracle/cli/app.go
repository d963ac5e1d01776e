package cli

import (
	"context"
	"fmt"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/config"
	"github.com/GPTx-global/guru-oracle/oracle/contract"
	"github.com/GPTx-global/guru-oracle/oracle/daemon"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/GPTx-global/guru-oracle/oracle/wallet"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// app carries the loaded configuration between the root command and its subcommands.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

func newApp() *app {
	return &app{v: newViper()}
}

// load reads the config file and applies flag and environment overrides on top of it.
func (a *app) load() error {
	cfg, err := config.Load(a.v.GetString(flagHome))
	if err != nil {
		return err
	}

	if level := a.v.GetString(flagLogLevel); level != "" {
		cfg.Log.Level = level
	}
	if key := a.v.GetString("private-key"); key != "" {
		cfg.Key.PrivateKey, cfg.Key.Mnemonic = key, ""
	}
	if mnemonic := a.v.GetString("mnemonic"); mnemonic != "" {
		cfg.Key.PrivateKey, cfg.Key.Mnemonic = "", mnemonic
	}
	if rpc := a.v.GetString("rpc"); rpc != "" {
		cfg.Chain.RPCEndpoint = rpc
	}
	if endpoint := a.v.GetString("endpoint"); endpoint != "" {
		cfg.Sync.Endpoint = endpoint
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := applyLogConfig(cfg); err != nil {
		return err
	}

	a.cfg = cfg
	return nil
}

func (a *app) wallet(ctx context.Context) (*wallet.Wallet, error) {
	if !a.cfg.HasKey() {
		return nil, fmt.Errorf("no signing key configured: set [key] in %s or %s_PRIVATE_KEY", config.Path(a.cfg.Home), EnvPrefix)
	}

	return wallet.New(ctx, a.cfg.Chain.NetworkDescriptor, wallet.Options{
		PrivateKey:   a.cfg.Key.PrivateKey,
		Mnemonic:     a.cfg.Key.Mnemonic,
		AccountIndex: a.cfg.Key.AccountIndex,
		Networks:     a.cfg.Networks,
		DialAttempts: a.cfg.Chain.DialAttempts,
	})
}

// artifacts loads the configured artifact files. Variants without one use the bundled artifact.
func (a *app) artifacts() (contract.Artifacts, error) {
	configured, err := contract.LoadArtifacts(
		a.cfg.ResolvePath(a.cfg.Oracle.MinimalArtifact),
		a.cfg.ResolvePath(a.cfg.Oracle.FullArtifact),
	)
	if err != nil {
		return contract.Artifacts{}, err
	}

	bundled, err := contract.BundledArtifacts()
	if err != nil {
		return contract.Artifacts{}, err
	}
	return configured.WithFallback(bundled), nil
}

// session is a connected daemon and the wallet behind it.
type session struct {
	daemon *daemon.Daemon
	wallet *wallet.Wallet
}

func (s *session) Close() {
	s.daemon.Close()
	s.wallet.Close()
}

// connect builds a daemon over the configured wallet and connects it.
func (a *app) connect(ctx context.Context, opts ...daemon.Option) (*session, error) {
	artifacts, err := a.artifacts()
	if err != nil {
		return nil, err
	}

	w, err := a.wallet(ctx)
	if err != nil {
		return nil, err
	}

	d := daemon.New(a.cfg, w, artifacts, opts...)
	if _, err := d.Connect(ctx); err != nil {
		w.Close()
		return nil, err
	}
	return &session{daemon: d, wallet: w}, nil
}

// attachConfigured binds the oracle named in the config file.
func (a *app) attachConfigured(ctx context.Context, d *daemon.Daemon) (types.Snapshot, error) {
	if a.cfg.Oracle.Address == "" {
		return types.Snapshot{}, fmt.Errorf("no oracle address configured: run deploy --save or attach --save first")
	}
	addr, err := parseAddress(a.cfg.Oracle.Address)
	if err != nil {
		return types.Snapshot{}, err
	}
	return d.Attach(ctx, addr, a.cfg.Oracle.Variant)
}

// saveOracle records the bound oracle in the config file.
func (a *app) saveOracle(oracle types.DeployedOracle) error {
	a.cfg.Oracle.Address = oracle.Address.Hex()
	a.cfg.Oracle.Variant = oracle.Variant
	if oracle.DataSourceLabel != "" {
		a.cfg.Oracle.DataSource = oracle.DataSourceLabel
	}
	if err := config.Save(a.cfg); err != nil {
		return err
	}
	log.Infof("saved oracle %s to %s", oracle.Address.Hex(), config.Path(a.cfg.Home))
	return nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errorsmod.Wrapf(types.ErrInvalidArgument, "%q is not an address", s)
	}
	return common.HexToAddress(s), nil
}
