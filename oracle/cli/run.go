package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GPTx-global/guru-oracle/oracle/health"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/server"
	"github.com/armon/go-metrics"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var noServer bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the oracle daemon until interrupted",
		Long: "Connects the wallet, binds the configured oracle (deploying one if no address is set), " +
			"keeps it updated on the configured interval and serves the local control API.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a.cfg.Print()

			sink := metrics.NewInmemSink(10*time.Second, time.Minute)
			metricsCfg := metrics.DefaultConfig("oracled")
			metricsCfg.EnableHostname = false
			if _, err := metrics.NewGlobal(metricsCfg, sink); err != nil {
				return err
			}

			s, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			if a.cfg.Oracle.Address != "" {
				if _, err := a.attachConfigured(ctx, s.daemon); err != nil {
					return err
				}
			} else {
				res, err := s.daemon.Deploy(ctx, a.cfg.Oracle.Variant, a.cfg.Oracle.DataSource)
				if err != nil {
					return err
				}
				if err := a.saveOracle(res.Oracle); err != nil {
					log.Warnf("could not record the deployed oracle: %v", err)
				}
			}

			if a.cfg.Sync.Auto {
				if err := s.daemon.StartAuto(a.cfg.Sync.IntervalSeconds); err != nil {
					return err
				}
			}

			checker := health.NewChecker(30*time.Second, 10*time.Second)
			for _, c := range s.daemon.HealthChecks() {
				checker.Add(c)
			}
			go checker.Start(ctx)

			errCh := make(chan error, 1)
			if a.cfg.Server.Enabled && !noServer {
				srv := server.New(s.daemon, checker, sink, a.cfg.Server.AllowedOrigins)
				go func() {
					errCh <- srv.ListenAndServe(ctx, a.cfg.Server.Listen)
				}()
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			select {
			case <-sig:
				log.Infof("shutting down")
			case err := <-errCh:
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Errorf("control API stopped: %v", err)
					return err
				}
			case <-ctx.Done():
			}

			s.daemon.StopAuto()
			return nil
		},
	}

	cmd.Flags().BoolVar(&noServer, "no-server", false, "do not serve the control API")
	return cmd
}
