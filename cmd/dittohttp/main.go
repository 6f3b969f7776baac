package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittohttp/internal/logger"
	"github.com/marmos91/dittohttp/pkg/config"
	"github.com/marmos91/dittohttp/pkg/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "dittohttp",
		Short:         "DittoHTTP - epoll-driven static file server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newInitCmd())
	return root
}

type serveOptions struct {
	configFile   string
	documentRoot string
	logLevel     string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve [ip_address] [port_number]",
		Short: "Serve the document root over HTTP/1.1",
		Long: `Serve the configured document root until SIGINT or SIGTERM.

The optional positional arguments override adapters.http.address and
adapters.http.port from the configuration file.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (default $XDG_CONFIG_HOME/dittohttp/config.yaml)")
	flags.StringVarP(&opts.documentRoot, "root", "r", "", "document root (overrides adapters.http.document_root)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR (overrides logging.level)")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions, args []string) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}

	overrides := make(map[string]any)
	if len(args) > 0 {
		overrides["adapters.http.address"] = args[0]
	}
	if len(args) > 1 {
		overrides["adapters.http.port"] = args[1]
	}
	if opts.documentRoot != "" {
		overrides["adapters.http.document_root"] = opts.documentRoot
	}
	if opts.logLevel != "" {
		overrides["logging.level"] = opts.logLevel
	}
	if err := config.ApplyOverrides(cfg, overrides); err != nil {
		return err
	}

	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}
	defer logger.Sync()

	if err := config.CheckDocumentRoot(cfg); err != nil {
		return err
	}

	logger.Info("DittoHTTP starting (document root %s)", cfg.Adapters.HTTP.DocumentRoot)

	metricsResult, err := config.InitializeMetrics(cfg)
	if err != nil {
		return err
	}

	adapters, err := config.CreateAdapters(cfg, metricsResult.HTTPMetrics)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server.ShutdownTimeout)
	srv.SetMetricsServer(metricsResult.Server)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newInitCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				written, err := config.InitConfig(force)
				if err != nil {
					return err
				}
				path = written
			} else if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.Flags().StringVarP(&path, "output", "o", "", "write to this path instead of the default location")

	return cmd
}
