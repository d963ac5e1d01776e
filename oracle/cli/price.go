package cli

import (
	"fmt"
	"time"

	"github.com/GPTx-global/guru-oracle/oracle/price"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/spf13/cobra"
)

func newPriceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Query price sources without touching the chain",
	}

	cmd.AddCommand(newPriceFetchCmd(a), newPricePresetsCmd())
	return cmd
}

func newPriceFetchCmd(a *app) *cobra.Command {
	var (
		endpoint string
		preset   string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch and normalize the price served by an endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := a.cfg.Sync.Endpoint
			switch {
			case endpoint != "" && preset != "":
				return fmt.Errorf("--endpoint and --preset are mutually exclusive")
			case endpoint != "":
				target = endpoint
			case preset != "":
				p, ok := price.PresetByName(preset)
				if !ok {
					return fmt.Errorf("unknown preset %q, see 'oracled price presets'", preset)
				}
				target = p.Endpoint
			}

			adapter := price.NewAdapter(price.Config{
				Timeout: time.Duration(a.cfg.Sync.TimeoutSeconds) * time.Second,
			})
			value, err := adapter.Fetch(cmd.Context(), target)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-12s %s\n", "endpoint:", target)
			fmt.Fprintf(out, "%-12s %s\n", "price:", types.FormatPrice(value))
			fmt.Fprintf(out, "%-12s %s\n", "on-chain:", value.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "price endpoint URL")
	cmd.Flags().StringVar(&preset, "preset", "", "preset name, e.g. bitcoin")
	return cmd
}

func newPricePresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the built-in price sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, p := range price.Presets() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-22s %-20s %s\n", p.Name, p.Label, p.Endpoint)
			}
			return nil
		},
	}
}
