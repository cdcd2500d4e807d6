package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/plaenen/liststate/pkg/checkpoint"
	"github.com/plaenen/liststate/pkg/observability"
	"github.com/plaenen/liststate/pkg/poller"
	"github.com/plaenen/liststate/pkg/runner"
)

type runOptions struct {
	once     bool
	interval time.Duration
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run collection passes against the checkpoint slot",
		Long: `Run takes the checkpoint lease, plans one window per stream, collects
and commits the advanced checkpoints. Without --once it repeats on the
configured interval until interrupted.

Collection is a dry run: windows are logged and checkpoints move to the
start of each window.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("interval") {
				cfg.Interval = opts.interval
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			ctx, cancel := runner.SignalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			collector := poller.Chain(poller.DryRunCollector{Logger: a.logger},
				poller.Recovery(a.logger),
				poller.Logging(a.logger),
			)
			p := poller.New(a.store, collector,
				poller.WithAggregator(checkpoint.NewAggregator(
					checkpoint.WithEmptyWindowPolicy(cfg.Policy()),
				)),
				poller.WithBoundedWindows(true),
				poller.WithLogger(a.logger),
				poller.WithTracer(a.telemetry.Tracer("poller")),
				poller.WithMetrics(a.telemetry.Metrics),
			)

			if opts.once {
				_, err := p.Run(ctx)
				return err
			}

			var services []runner.Service
			if cfg.MetricsAddr != "" {
				services = append(services,
					observability.NewMetricsServer(cfg.MetricsAddr, a.telemetry.MetricsHandler, a.logger))
			}
			services = append(services, poller.NewService(p,
				poller.WithInterval(cfg.Interval),
				poller.WithServiceLogger(a.logger),
			))

			return runner.New(services, runner.WithLogger(a.logger)).Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&opts.once, "once", false, "run a single pass and exit")
	cmd.Flags().DurationVar(&opts.interval, "interval", 0, "time between passes (overrides LISTSTATE_INTERVAL)")

	return cmd
}
