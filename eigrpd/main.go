package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidbalbert/eigrpd/api"
	"github.com/davidbalbert/eigrpd/config"
	"github.com/davidbalbert/eigrpd/eigrpd/router"
	"github.com/davidbalbert/eigrpd/eigrpd/services"
	"github.com/davidbalbert/eigrpd/rib"
	"github.com/davidbalbert/eigrpd/system"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var version = "0.0.1"

type options struct {
	configPath  string
	socketPath  string
	metricsAddr string
	logPath     string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "eigrpd",
		Short:         "EIGRP routing daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "/etc/eigrpd/eigrpd.yaml", "path to eigrpd.yaml")
	cmd.Flags().StringVarP(&opts.socketPath, "socket", "s", api.DefaultSocket, "path to eigrpd socket")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	cmd.Flags().StringVar(&opts.logPath, "log", "", "also write logs to this file")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every packet")

	return cmd
}

func run(ctx context.Context, opts options) error {
	logger, closeLog, err := newLogger(opts.logPath, opts.verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting eigrpd", "version", version, "uid", os.Getuid())

	services.MustRegisterServiceType(config.ServiceTypeAPIServer, func(serviceManager *services.ServiceManager, conf any) (services.Runner, error) {
		return api.NewServer(serviceManager, opts.socketPath, cancel, version), nil
	})
	services.MustRegisterServiceType(config.ServiceTypeInterfaceMonitor, system.NewInterfaceMonitor)
	services.MustRegisterServiceType(config.ServiceTypeRIB, rib.NewService)
	services.MustRegisterServiceType(config.ServiceTypeEIGRP, router.New)

	configManager, err := config.NewConfigManager(opts.configPath)
	if err != nil {
		return err
	}

	serviceManager := services.NewServiceManager(configManager, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return configManager.Run(ctx)
	})

	g.Go(func() error {
		return serviceManager.Run(ctx)
	})

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info("reloading config", "path", opts.configPath)
				if err := configManager.Reload(opts.configPath); err != nil {
					logger.Error("failed to reload config", "error", err)
				}
			}
		}
	})

	if opts.metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, opts.metricsAddr, logger)
		})
	}

	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	})
	defer stop()

	logger.Info("serving metrics", "addr", addr)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
