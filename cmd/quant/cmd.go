package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-quant/internal/arrow_client"
	"github.com/23skdu/longbow-quant/internal/config"
	"github.com/23skdu/longbow-quant/internal/logger"
	"github.com/23skdu/longbow-quant/internal/monitoring"
	"github.com/23skdu/longbow-quant/internal/registry"
)

type app struct {
	cfgPath   string
	logLevel  string
	logFormat string
	device    string

	cfg config.Config
}

func NewCLI() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "quant",
		Short: "Monte-Carlo pricing on vectorized compute devices",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	rootCmd.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (console, json)")
	rootCmd.PersistentFlags().StringVarP(&a.device, "device", "d", "", "Device to run on, see 'quant devices'")

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(a.devicesCmd(), a.runCmd(), a.serveCmd())
	return rootCmd
}

func (a *app) load(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if a.cfgPath != "" {
		var err error
		if cfg, err = config.Load(a.cfgPath); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	if a.device != "" {
		cfg.Device = a.device
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.SetupWriter(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	a.cfg = cfg
	return nil
}

// environment holds the reference CPU and the configured accelerator.
func (a *app) environment() (*registry.Environment, error) {
	env := registry.New()
	if err := env.Add(registry.CPUFramework, registry.CPU); err != nil {
		return nil, err
	}
	if err := env.Add(registry.AccelFramework, registry.Accel(a.cfg.DeviceConfig())); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

func (a *app) devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Aliases: []string{"ls"},
		Short:   "List compute devices",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.environment()
			if err != nil {
				return err
			}
			defer env.Close()

			var data [][]string
			for _, name := range env.AvailableDevices() {
				c, err := env.Context(name)
				if err != nil {
					return err
				}
				info := map[string]string{}
				for _, f := range c.DeviceInfo() {
					info[f.Key] = f.Value
				}
				data = append(data, []string{name, strconv.FormatBool(c.SupportsDoublePrecision()), info["lanes"]})
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"DEVICE", "DOUBLE", "LANES"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()
			return nil
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	var (
		input, output string
		opt           jobOptions
		seed          uint64
		debug         bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Price a European option over the paths of an input table",
		Long: `Price a European option with spot, strike, vol, rate and maturity columns
read from an Arrow IPC file, a gs://bucket/object url or a flight://name table.
Per-path results (pv, spot_T) go to --output in the same forms.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := loadTable(ctx, input, a.cfg.FlightAddr)
			if err != nil {
				return err
			}

			env, err := a.environment()
			if err != nil {
				return err
			}
			defer env.Close()
			name := a.cfg.DeviceName()
			c, err := env.Context(name)
			if err != nil {
				return err
			}

			settings := a.cfg.Settings
			if cmd.Flags().Changed("seed") {
				settings.RNGSeed = seed
			}
			settings.Debug = settings.Debug || debug
			res, err := price(c, name, t, settings, opt)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "run %s on %s\n", res.RunID, res.Device)
			fmt.Fprintf(w, "paths %d  price %.6f  stderr %.6f\n", res.Paths, res.Mean, res.StdErr)
			if settings.Debug {
				fmt.Fprintf(w, "operations %d  build %s  copy %s  calc %s\n", res.Debug.NumberOfOperations,
					time.Duration(res.Debug.NanoSecondsProgramBuild),
					time.Duration(res.Debug.NanoSecondsDataCopy),
					time.Duration(res.Debug.NanoSecondsCalculation))
			}
			if output != "" {
				runID, err := saveTable(ctx, output, a.cfg.FlightAddr, res.Out)
				if err != nil {
					return err
				}
				if runID != "" {
					fmt.Fprintf(w, "published %s as run %s\n", output, runID)
				} else {
					fmt.Fprintf(w, "wrote %s\n", output)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Input table")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output table")
	cmd.Flags().IntVar(&opt.Steps, "steps", 1, "Time steps per path")
	cmd.Flags().IntVar(&opt.Rounds, "rounds", 1, "Rounds to run; rounds after the first replay the recorded program")
	cmd.Flags().BoolVar(&opt.Put, "put", false, "Price a put instead of a call")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Override the variate seed")
	cmd.Flags().BoolVar(&debug, "debug", false, "Report operation counts and phase timings")
	cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve path tables over Flight and health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// serve runs until ctx is done or a listener fails.
func (a *app) serve(ctx context.Context) error {
	log := logger.Log.With("quant")
	env, err := a.environment()
	if err != nil {
		return err
	}
	defer env.Close()

	paths := arrow_client.NewPathServer()
	if err := paths.Listen(a.cfg.FlightAddr); err != nil {
		return fmt.Errorf("flight listener: %w", err)
	}
	hm := monitoring.NewHealthMonitor(env, a.cfg.MaxBufferBytes)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := paths.Serve(); err != nil && ctx.Err() == nil {
			hm.AddAlert("critical", "flight", err.Error())
			return fmt.Errorf("flight server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return hm.Start(a.cfg.MetricsAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		paths.Shutdown()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hm.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
