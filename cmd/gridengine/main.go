package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	grid "github.com/seoyhaein/grid-go"
	"github.com/seoyhaein/grid-go/config"
	"github.com/seoyhaein/grid-go/httpapi"
	"github.com/seoyhaein/grid-go/samples"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
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
		Use:          "gridengine",
		Short:        "Run a grid engine and register it with the broker",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Read(v, cfgPath); err != nil {
				return err
			}
			cfg, err := config.Decode(v)
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
	flags.String("id", def.Engine.ID, "engine id (generated when empty)")
	flags.String("listen", def.Engine.Listen, "address the engine API listens on")
	flags.String("broker", def.Engine.BrokerURL, "broker base URL")
	flags.String("advertise", def.Engine.Advertise, "URL the broker uses to reach this engine")
	flags.String("log-level", def.Log.Level, "log level")
	flags.String("log-format", def.Log.Format, "log format: text or json")

	if err := config.BindFlags(v, flags, map[string]string{
		"id":         "engine.id",
		"listen":     "engine.listen",
		"broker":     "engine.broker_url",
		"advertise":  "engine.advertise",
		"log-level":  "log.level",
		"log-format": "log.format",
	}); err != nil {
		panic(err)
	}
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	caps := grid.NewCapabilities()
	if err := samples.Register(caps, os.Stdout); err != nil {
		return err
	}

	broker := httpapi.NewBrokerClient(cfg.Engine.BrokerURL,
		httpapi.WithTimeout(cfg.Engine.RequestTimeout),
		httpapi.WithClientLogger(grid.Log),
	)
	opts := []grid.EngineOption{grid.WithReporter(broker)}
	if cfg.Engine.ID != "" {
		opts = append(opts, grid.WithEngineID(cfg.Engine.ID))
	}
	engine := grid.NewGridEngine(caps, opts...)
	log := grid.Log.WithField("engine_id", engine.ID())

	es := httpapi.NewEngineServer(engine, grid.Log)
	srv := &http.Server{Handler: es.Handler(), ReadHeaderTimeout: 10 * time.Second}
	ln, err := net.Listen("tcp", cfg.Engine.Listen)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("listen", ln.Addr().String()).Info("serving engine API")
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return register(ctx, broker, engine.ID(), cfg.Engine, log)
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := broker.Unregister(sctx, engine.ID()); err != nil {
			log.WithError(err).Warn("error unregistering from broker")
		}
		err := srv.Shutdown(sctx)
		es.Wait()
		if cerr := engine.Close(); cerr != nil {
			log.WithError(cerr).Warn("error releasing objects")
		}
		return err
	})
	return g.Wait()
}

// register retries until the broker accepts the engine. A 4xx answer is not retried.
func register(ctx context.Context, broker *httpapi.BrokerClient, engineID string, cfg config.EngineConfig, log logrus.FieldLogger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RegisterInitial
	b.MaxInterval = cfg.RegisterMax
	b.MaxElapsedTime = cfg.RegisterMaxElapsed
	b.Reset()

	op := func() error {
		err := broker.Register(ctx, engineID, cfg.Advertise)
		var apiErr *httpapi.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.WithError(err).Warnf("registration with broker failed, retrying in %s", next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			// shutting down before the broker answered
			return nil
		}
		return err
	}
	log.WithField("advertise", cfg.Advertise).Info("registered with broker")
	return nil
}
