// Command gridstore converts networks between storage backends and prints
// summaries of stored networks.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gridstore/internal/backend"
	"gridstore/internal/backend/core"
	"gridstore/internal/config"
	"gridstore/internal/logging"
	"gridstore/internal/metrics"
	"gridstore/internal/netio"
	"gridstore/internal/schema"
	"gridstore/internal/store"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

// app carries what every subcommand needs once the root command has loaded
// the configuration.
type app struct {
	configPath string
	verbose    bool
	logFormat  string

	cfg      *config.Config
	log      *logging.Logger
	registry *prometheus.Registry
	expvar   *metrics.Expvar
	recorder metrics.Recorder
	stdout   io.Writer
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if a.log != nil {
		if terr := a.teardown(); terr != nil && err == nil {
			err = terr
		}
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "gridstore: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gridstore",
		Short:         "Move power-system networks between storage backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: search $GRIDSTORE_CONFIG, ./gridstore.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: json or console")
	root.AddCommand(a.convertCommand(), a.inspectCommand(), a.driversCommand())
	return root
}

func (a *app) setup() error {
	var err error
	if a.configPath != "" {
		a.cfg, err = config.LoadFromPath(a.configPath)
	} else {
		a.cfg, _, err = config.Load()
	}
	if err != nil {
		return err
	}
	if a.logFormat != "" {
		a.cfg.Log.Format = a.logFormat
	}
	a.log, err = logging.New(a.cfg.Log)
	if err != nil {
		return err
	}
	if a.verbose {
		a.log.Verbose()
	}

	recorders := metrics.Multi{}
	if a.cfg.Metrics.Textfile != "" {
		a.registry = prometheus.NewRegistry()
		recorders = append(recorders, metrics.NewPrometheus(a.registry))
	}
	if a.cfg.Metrics.Expvar != "" {
		a.expvar = metrics.NewExpvar(a.cfg.Metrics.Expvar)
		recorders = append(recorders, a.expvar)
	}
	a.recorder = recorders
	return nil
}

func (a *app) teardown() error {
	if a.expvar != nil {
		a.log.Info("operation stats", zap.Any("stats", a.expvar.Snapshot()))
	}
	if a.registry != nil {
		if err := prometheus.WriteToTextfile(a.cfg.Metrics.Textfile, a.registry); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	_ = a.log.Sync()
	return nil
}

// target binds the flags that select one backend.
type target struct {
	driver string
	path   string
	dsn    string
}

func (t *target) bind(cmd *cobra.Command, prefix, usage string) {
	cmd.Flags().StringVar(&t.driver, prefix+"driver", "", usage+" driver (csv, sqlite, postgres, badger)")
	cmd.Flags().StringVar(&t.path, prefix+"path", "", usage+" path")
	cmd.Flags().StringVar(&t.dsn, prefix+"dsn", "", usage+" connection string (postgres)")
}

// resolve layers flag values over the configured backend.
func (t *target) resolve(cfg *config.Config, base backend.Config) backend.Config {
	if t.driver != "" {
		base.Driver = core.Driver(t.driver)
	}
	if t.path != "" {
		base.Path = t.path
	}
	if t.dsn != "" {
		base.DSN = t.dsn
	}
	return cfg.Backend(base)
}

func (a *app) importNetwork(ctx context.Context, cfg backend.Config, opts ...netio.Option) (*store.Store, *netio.Report, error) {
	st := store.New(schema.Default())
	opts = append(opts, netio.WithRecorder(a.recorder))
	report, err := netio.ImportFrom(ctx, a.log.Logger, st, cfg, opts...)
	if err != nil {
		return nil, report, err
	}
	return st, report, nil
}
