// Command scenefetch downloads satellite imagery from an imagery
// catalog: single Landsat scenes, randomized Sentinel-2 scene mosaics,
// or server-side exports of custom-extent mosaics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rasterline/imagery-retriever/catalog"
	"github.com/rasterline/imagery-retriever/core"
	"github.com/rasterline/imagery-retriever/internal/config"
	"github.com/rasterline/imagery-retriever/internal/logging"
	"github.com/rasterline/imagery-retriever/internal/observability"
	"github.com/rasterline/imagery-retriever/internal/run"
	"github.com/rasterline/imagery-retriever/model"
)

// errPartialFailure marks runs where some downloads or export jobs
// failed. main maps it to exit code 2 so callers can tell partial
// results from outright failure.
var errPartialFailure = errors.New("completed with failures")

var (
	configPath  string
	catalogURL  string
	apiKey      string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "scenefetch",
	Short: "Download satellite imagery from an imagery catalog",
	Long: `scenefetch queries an imagery catalog for Landsat 8/9 scenes or
Sentinel-2 mosaics, downloads them concurrently with retries, and can
submit custom-extent mosaics as server-side exports.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&catalogURL, "catalog-url", "", "Base URL of the imagery catalog")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Catalog API key")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (disabled when empty)")

	rootCmd.AddCommand(fetchCmd, exportCmd, gridCmd, sampleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		if code != 2 {
			// Partial failures already reported themselves on stderr.
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(code)
	}
}

// exitCode maps a failed run to its exit status: 2 when the run
// finished but some downloads or jobs failed, 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, errPartialFailure) {
		return 2
	}
	return 1
}

// app bundles the long-lived pieces a command run needs.
type app struct {
	cfg    config.Config
	log    logging.Logger
	client *catalog.Client
	grid   *core.GridRegistry
	runner *run.Runner

	metricsSrv      *http.Server
	tracingShutdown func(context.Context) error
}

// buildApp layers configuration (defaults, file, environment, flags),
// validates it, and wires the catalog client, grid, metrics, tracing,
// and runner.
func buildApp(ctx context.Context, log logging.Logger, overrides config.Config) (*app, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	cfg = cfg.Merge(overrides)
	cfg = cfg.Merge(config.Config{
		Catalog:     config.CatalogConfig{URL: catalogURL, APIKey: apiKey},
		MetricsAddr: metricsAddr,
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracingShutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	retrieval, err := observability.NewRetrievalCollector(nil)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	exports, err := observability.NewExportCollector(nil)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	client, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL:     cfg.Catalog.URL,
		APIKey:      cfg.Catalog.APIKey,
		Timeout:     cfg.Catalog.Timeout,
		MaxInFlight: int64(cfg.Catalog.MaxInFlight),
		Log:         log,
	})
	if err != nil {
		return nil, err
	}

	grid := core.NewGridRegistry()
	runner := run.NewRunner(client, grid, log)
	runner.Workers = cfg.Workers
	runner.Retry = cfg.Retry.Policy()
	runner.PollInterval = cfg.Export.PollInterval
	runner.RetrievalMetrics = retrieval
	runner.ExportMetrics = exports

	a := &app{
		cfg:             cfg,
		log:             log,
		client:          client,
		grid:            grid,
		runner:          runner,
		tracingShutdown: tracingShutdown,
	}
	if cfg.MetricsAddr != "" {
		a.metricsSrv = serveMetrics(cfg.MetricsAddr, retrieval, log)
	}
	return a, nil
}

func (a *app) close() {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
	observability.ShutdownWithTimeout(context.Background(), a.tracingShutdown, a.log)
}

// params converts the merged config into a runner request.
func (a *app) params() (run.Params, error) {
	sensor, err := model.ParseSensor(a.cfg.Fetch.Sensor)
	if err != nil {
		return run.Params{}, err
	}
	format, err := model.ParseOutputFormat(a.cfg.Fetch.Format)
	if err != nil {
		return run.Params{}, err
	}
	return run.Params{
		Sensor:      sensor,
		GridKey:     a.cfg.Fetch.GridKey,
		Bounds:      a.cfg.Fetch.BoundingBox(),
		Region:      a.cfg.Fetch.Region,
		Dates:       catalog.DateRange{Start: a.cfg.Fetch.StartDate, End: a.cfg.Fetch.EndDate},
		ScaleM:      a.cfg.Fetch.ScaleM,
		MaxImages:   a.cfg.Fetch.MaxImages,
		CloudMin:    a.cfg.Fetch.CloudMin,
		CloudMax:    a.cfg.Fetch.CloudMax,
		Bands:       a.cfg.Fetch.Bands,
		Format:      format,
		CRS:         a.cfg.Fetch.CRS,
		Seed:        a.cfg.Fetch.Seed,
		OutDir:      a.cfg.Fetch.OutDir,
		HalfWidthM:  a.cfg.Fetch.HalfWidthM,
		HalfHeightM: a.cfg.Fetch.HalfHeightM,
	}, nil
}

func serveMetrics(addr string, collector *observability.RetrievalCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
