// Command pixels writes, inspects, scans and partitions pixels files and
// manages the shared chunk cache.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pixels/pkg/cache"
	"github.com/ajitpratap0/pixels/pkg/config"
	"github.com/ajitpratap0/pixels/pkg/format"
	"github.com/ajitpratap0/pixels/pkg/logger"
	"github.com/ajitpratap0/pixels/pkg/metrics"
	"github.com/ajitpratap0/pixels/pkg/observability"
	"github.com/ajitpratap0/pixels/pkg/reader"
	"github.com/ajitpratap0/pixels/pkg/storage"
)

var version = "0.1.0"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configFile string
	logLevel   string
	cpuProfile string
	memProfile string
}

// app is the state a subcommand runs with once the root pre-run has loaded
// configuration and started the ambient services.
type app struct {
	flags    globalFlags
	cfg      *config.Config
	log      *zap.Logger
	profiler *profiler
	cleanup  []func(context.Context) error
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "pixels",
		Short: "pixels - columnar file format tools",
		Long: `pixels writes and reads columnar files made of row groups, column chunks and
pixels, prunes them with min/max statistics, and shares decoded chunks between
processes through a memory-mapped cache.`,
		SilenceUsage:       true,
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return a.setup(cmd.Context()) },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return a.teardown(cmd.Context()) },
	}
	root.PersistentFlags().StringVarP(&a.flags.configFile, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the configuration")
	root.PersistentFlags().StringVar(&a.flags.cpuProfile, "cpuprofile", "", "Write a CPU profile to this file")
	root.PersistentFlags().StringVar(&a.flags.memProfile, "memprofile", "", "Write a heap profile to this file on exit")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pixels v%s (file format v%d)\n", version, format.Version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(
		a.generateCommand(),
		a.inspectCommand(),
		a.scanCommand(),
		a.partitionCommand(),
		a.cacheCommand(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg := config.NewDefault()
	if a.flags.configFile != "" {
		loaded, err := config.Load(a.flags.configFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
		OutputPaths: cfg.Logging.OutputPaths,
	}); err != nil {
		return err
	}
	a.log = logger.Named("pixels-cli")

	shutdown, err := observability.InitTracing(cfg.Tracing)
	if err != nil {
		return err
	}
	a.cleanup = append(a.cleanup, shutdown)

	if cfg.Metrics.Enabled {
		srv := &http.Server{Addr: cfg.Metrics.Address, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.Warn("metrics endpoint stopped", zap.Error(err))
			}
		}()
		a.cleanup = append(a.cleanup, srv.Shutdown)
		a.log.Info("serving metrics", zap.String("address", cfg.Metrics.Address))
	}

	a.profiler, err = startProfiler(a.flags.cpuProfile, a.flags.memProfile)
	return err
}

func (a *app) teardown(ctx context.Context) error {
	var firstErr error
	if err := a.profiler.stop(); err != nil {
		firstErr = err
	}
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = logger.Sync()
	return firstErr
}

// storageFor resolves uri to a backend and key using the storage section.
func (a *app) storageFor(ctx context.Context, uri string) (storage.Storage, string, error) {
	return storage.OpenURI(ctx, a.cfg.Storage, uri)
}

// readerOptions returns reader options with the shared cache attached when it
// is enabled. The returned function closes the cache.
func (a *app) readerOptions() (*reader.Options, func() error, error) {
	opts := reader.OptionsFromConfig(a.cfg.Reader)
	opts.Logger = a.log
	if !a.cfg.Cache.Enabled {
		return opts, func() error { return nil }, nil
	}
	c, err := cache.Open(a.cfg.Cache, cache.WithLogger(a.log))
	if err != nil {
		return nil, nil, err
	}
	opts.Cache = c
	return opts, c.Close, nil
}
