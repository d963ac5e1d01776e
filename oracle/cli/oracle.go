package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/GPTx-global/guru-oracle/oracle/deploy"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/spf13/cobra"
)

func newDeployCmd(a *app) *cobra.Command {
	var (
		variant string
		label   string
		save    bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy a new oracle contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := a.cfg.Oracle.Variant
			if variant != "" {
				parsed, err := types.ParseVariant(variant)
				if err != nil {
					return err
				}
				v = parsed
			}
			if !cmd.Flags().Changed("label") {
				label = a.cfg.Oracle.DataSource
			}

			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			res, err := s.daemon.Deploy(cmd.Context(), v, label)
			if err != nil {
				return err
			}
			printDeployment(cmd.OutOrStdout(), res)

			if save {
				return a.saveOracle(res.Oracle)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "oracle variant (minimal|full), defaults to the config file")
	cmd.Flags().StringVar(&label, "label", "", "data source label stored by the full variant")
	cmd.Flags().BoolVar(&save, "save", false, "record the deployed address in the config file")
	return cmd
}

func newAttachCmd(a *app) *cobra.Command {
	var (
		variant string
		save    bool
	)

	cmd := &cobra.Command{
		Use:   "attach <address>",
		Short: "Bind an oracle that is already deployed and print its state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseAddress(args[0])
			if err != nil {
				return err
			}
			v := a.cfg.Oracle.Variant
			if variant != "" {
				if v, err = types.ParseVariant(variant); err != nil {
					return err
				}
			}

			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := s.daemon.Attach(cmd.Context(), addr, v)
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)

			if save {
				oracle, _ := s.daemon.Oracle()
				return a.saveOracle(oracle)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&variant, "variant", "", "oracle variant (minimal|full), defaults to the config file")
	cmd.Flags().BoolVar(&save, "save", false, "record the address in the config file")
	return cmd
}

func newSyncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the price once, write it to the configured oracle and print the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := a.attachConfigured(cmd.Context(), s.daemon); err != nil {
				return err
			}
			snap, err := s.daemon.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().String("endpoint", "", "price endpoint, overrides [sync] endpoint")
	_ = a.v.BindPFlag("endpoint", cmd.Flags().Lookup("endpoint"))
	return cmd
}

func newSnapshotCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Read the configured oracle and print its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := a.attachConfigured(cmd.Context(), s.daemon)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			printSnapshot(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func printDeployment(w io.Writer, res deploy.Result) {
	fmt.Fprintf(w, "%-12s %s\n", "address:", res.Oracle.Address.Hex())
	fmt.Fprintf(w, "%-12s %s\n", "variant:", res.Oracle.Variant)
	if res.Oracle.DataSourceLabel != "" {
		fmt.Fprintf(w, "%-12s %s\n", "label:", res.Oracle.DataSourceLabel)
	}
	fmt.Fprintf(w, "%-12s %d\n", "network:", res.Oracle.NetworkID)
	fmt.Fprintf(w, "%-12s %s\n", "tx:", res.Oracle.TxHash.Hex())
	fmt.Fprintf(w, "%-12s %d\n", "block:", res.Oracle.BlockNumber)
	fmt.Fprintf(w, "%-12s %s ETH\n", "balance:", deploy.FormatEther(res.Balance))
	for _, warning := range res.Warnings {
		fmt.Fprintf(w, "%-12s %s\n", "warning:", warning)
	}
}

func printSnapshot(w io.Writer, snap types.Snapshot) {
	fmt.Fprintf(w, "%-12s %s\n", "price:", snap.FormatPrice())
	if snap.LastUpdated == 0 {
		fmt.Fprintf(w, "%-12s %s\n", "updated:", "never")
	} else {
		fmt.Fprintf(w, "%-12s %s\n", "updated:", snap.UpdatedAt().Format("2006-01-02 15:04:05 MST"))
	}
	if snap.DataSource != "" {
		fmt.Fprintf(w, "%-12s %s\n", "source:", snap.DataSource)
	}
	fmt.Fprintf(w, "%-12s %s\n", "owner:", snap.Owner.Hex())
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
