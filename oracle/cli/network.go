package cli

import (
	"fmt"

	"github.com/GPTx-global/guru-oracle/oracle/deploy"
	"github.com/spf13/cobra"
)

func newNetworkCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "network",
		Short: "Inspect or switch the wallet network",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the account and the network the wallet is on",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				w, err := a.wallet(cmd.Context())
				if err != nil {
					return err
				}
				defer w.Close()

				network, err := w.Network(cmd.Context())
				if err != nil {
					return err
				}
				accounts, err := w.RequestAccounts(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-12s %s (%d)\n", "network:", network.Name, network.ID)
				fmt.Fprintf(out, "%-12s %s (%d)\n", "target:", a.cfg.Chain.Name, a.cfg.Chain.ChainID)
				for _, acc := range accounts {
					balance, err := w.Balance(cmd.Context(), acc)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%-12s %s %s %s\n", "account:", acc.Hex(), deploy.FormatEther(balance), a.cfg.Chain.CurrencySymbol)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "ensure",
			Short: "Connect and switch the wallet to the configured network",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := a.connect(cmd.Context())
				if err != nil {
					return err
				}
				defer s.Close()

				if !s.daemon.Session().EnsureNetwork(cmd.Context(), a.cfg.Chain.ChainID) {
					return fmt.Errorf("wallet could not be moved to %s (%d)", a.cfg.Chain.Name, a.cfg.Chain.ChainID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "on %s (%d)\n", a.cfg.Chain.Name, a.cfg.Chain.ChainID)
				return nil
			},
		},
	)

	return cmd
}
