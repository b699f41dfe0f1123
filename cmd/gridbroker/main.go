package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	grid "github.com/seoyhaein/grid-go"
	"github.com/seoyhaein/grid-go/config"
	"github.com/seoyhaein/grid-go/httpapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	def := config.Default()
	var cfgPath string

	cmd := &cobra.Command{
		Use:          "gridbroker",
		Short:        "Run the grid task broker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(v, cfgPath)
			if err != nil {
				return err
			}
			cfg.ApplyLogging(grid.Log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfgPath, "config", "c", "", "config file (default ./grid.yaml, or $GRID_CONFIG)")
	flags.String("listen", def.Broker.Listen, "address the broker API listens on")
	flags.String("engine-url-template", def.Broker.EngineURLTemplate, "base URL of engines registering by id, %s is the engine id")
	flags.Bool("metrics", def.Broker.Metrics, "serve prometheus metrics on /metrics")
	flags.String("log-level", def.Log.Level, "log level")
	flags.String("log-format", def.Log.Format, "log format: text or json")

	if err := config.BindFlags(v, flags, map[string]string{
		"listen":              "broker.listen",
		"engine-url-template": "broker.engine_url_template",
		"metrics":             "broker.metrics",
		"log-level":           "log.level",
		"log-format":          "log.format",
	}); err != nil {
		panic(err)
	}
	return cmd
}

func load(v *viper.Viper, path string) (*config.Config, error) {
	if err := config.Read(v, path); err != nil {
		return nil, err
	}
	return config.Decode(v)
}

func run(ctx context.Context, cfg *config.Config) error {
	log := grid.Log.WithField("component", "gridbroker")

	var opts []grid.BrokerOption
	if cfg.Broker.EngineURLTemplate != "" {
		opts = append(opts, grid.WithEngineDialer(httpapi.NewEngineDialer(
			cfg.Broker.EngineURLTemplate,
			httpapi.WithTimeout(cfg.Broker.RequestTimeout),
		)))
	}
	broker := grid.NewBroker(opts...)

	srvOpts := []httpapi.BrokerServerOption{
		httpapi.WithCallbackTimeout(cfg.Broker.CallbackTimeout),
		httpapi.WithEngineClientOptions(httpapi.WithTimeout(cfg.Broker.RequestTimeout)),
	}
	if cfg.Broker.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := broker.Metrics().Register(reg); err != nil {
			return err
		}
		srvOpts = append(srvOpts, httpapi.WithGatherer(reg))
	}

	srv := &http.Server{
		Addr:              cfg.Broker.Listen,
		Handler:           httpapi.NewBrokerServer(broker, srvOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	broker.Start()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("listen", cfg.Broker.Listen).Info("serving broker API")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		broker.Stop()
		return err
	})
	return g.Wait()
}
