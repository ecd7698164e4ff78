package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-syzbot/config"
	"github.com/aluiziolira/go-scrape-syzbot/logging"
	"github.com/aluiziolira/go-scrape-syzbot/models"
	"github.com/aluiziolira/go-scrape-syzbot/pipeline"
	"github.com/aluiziolira/go-scrape-syzbot/scraper"
	"github.com/aluiziolira/go-scrape-syzbot/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// configureFetcher runs on every fetcher before a scrape. Tests swap it to
// install a mock transport.
var configureFetcher = func(*scraper.Fetcher) {}

// newRootCmd builds the scraper command bound to v.
func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Download crash assets from the syzbot dashboard",
		Long: `scraper walks one syzbot release listing, visits every bug page it links
to, and saves each page's assets (crash logs, reproducers, kernel configs,
disk images) under <output>/<release>/<bug title>/.

Requests are spaced by --interval. Assets can optionally be mirrored to an
s3:// or gs:// bucket with --mirror.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.Init(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			_, err = run(cmd.Context(), cfg, logger)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or "+config.ConfigDir()+"/config.yaml)")
	flags.StringP("release", "r", string(defaults.Release), fmt.Sprintf("release to scrape %v", config.Releases()))
	flags.StringP("output", "o", defaults.OutputDir, "output directory")
	flags.String("log-level", defaults.LogLevel, "log level: DEBUG, INFO, WARNING or ERROR")
	flags.String("base-url", defaults.BaseURL, "dashboard base URL")
	flags.Duration("interval", defaults.Interval, "minimum spacing between requests")
	flags.Duration("timeout", defaults.Timeout, "per-request timeout")
	flags.Int("max-body-size", defaults.MaxBodySize, "maximum response body size in bytes (0 means unlimited)")
	flags.String("user-agent", defaults.UserAgent, "User-Agent header")
	flags.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.String("mirror", defaults.Mirror, "mirror assets to s3://bucket/prefix or gs://bucket/prefix")

	for key, name := range map[string]string{
		config.KeyRelease:     "release",
		config.KeyOutput:      "output",
		config.KeyLogLevel:    "log-level",
		config.KeyBaseURL:     "base-url",
		config.KeyInterval:    "interval",
		config.KeyTimeout:     "timeout",
		config.KeyMaxBodySize: "max-body-size",
		config.KeyUserAgent:   "user-agent",
		config.KeyMetricsAddr: "metrics-addr",
		config.KeyMirror:      "mirror",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(viper.New()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*models.RunResult, error) {
	fetcher, err := scraper.NewFetcher(cfg, logger)
	if err != nil {
		logger.Error("initialising fetcher", zap.Error(err))
		return nil, err
	}
	configureFetcher(fetcher)

	writer, err := newWriter(ctx, cfg, fetcher.Metrics, logger)
	if err != nil {
		logger.Error("creating writer", zap.Error(err))
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(fetcher.Metrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		logger.Info("metrics server enabled", zap.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	downloader := pipeline.NewDownloader(fetcher, writer, pipeline.Options{
		OutputRoot: cfg.OutputDir,
		Release:    cfg.Release,
	}, fetcher.Metrics, logger)
	runner := pipeline.NewRunner(cfg, downloader, fetcher.Metrics, logger)

	result, err := runner.Run(ctx)
	if err != nil {
		logger.Error("scrape failed", zap.Error(err))
		return result, err
	}
	return result, nil
}

func newWriter(ctx context.Context, cfg *config.Config, metrics *scraper.Metrics, logger *zap.Logger) (pipeline.AssetSaver, error) {
	local := pipeline.NewAssetWriter()
	store, err := storage.Open(ctx, cfg.Mirror, storage.Options{
		AccessKeyID:     cfg.MirrorAccessKeyID,
		SecretAccessKey: cfg.MirrorSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	if store == nil {
		return local, nil
	}
	logger.Info("mirroring assets", zap.String("mirror", cfg.Mirror))
	dual, err := pipeline.NewDualWriter(local, store, cfg.OutputDir, metrics, logger)
	if err != nil {
		return nil, err
	}
	return dual, nil
}
