package cli

import (
	"strings"

	"github.com/GPTx-global/guru-oracle/oracle/config"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "ORACLED"

	flagHome     = "home"
	flagLogLevel = "log-level"
)

// Execute runs the oracled command line.
func Execute() error {
	return NewRootCmd().Execute()
}

func NewRootCmd() *cobra.Command {
	a := newApp()

	rootCmd := &cobra.Command{
		Use:           "oracled",
		Short:         "Deploy price oracles and keep them in sync with an external price source",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	rootCmd.PersistentFlags().String(flagHome, config.DefaultHome(), "directory holding config.toml and logs")
	rootCmd.PersistentFlags().String(flagLogLevel, "", "log level (debug|info|warn|error), overrides the config file")
	_ = a.v.BindPFlag(flagHome, rootCmd.PersistentFlags().Lookup(flagHome))
	_ = a.v.BindPFlag(flagLogLevel, rootCmd.PersistentFlags().Lookup(flagLogLevel))

	rootCmd.AddCommand(
		newDeployCmd(a),
		newAttachCmd(a),
		newSyncCmd(a),
		newSnapshotCmd(a),
		newRunCmd(a),
		newNetworkCmd(a),
		newPriceCmd(a),
		newConfigCmd(a),
	)

	return rootCmd
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func applyLogConfig(cfg *config.Config) error {
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	if cfg.Log.File {
		return log.ResetLogger(cfg.Home)
	}
	return nil
}
