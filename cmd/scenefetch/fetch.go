package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/rasterline/imagery-retriever/internal/config"
	"github.com/rasterline/imagery-retriever/internal/logging"
)

var (
	fetchSensor    string
	fetchGridKey   string
	fetchRegion    string
	fetchBounds    []float64
	fetchStart     string
	fetchEnd       string
	fetchScale     float64
	fetchMaxImages int
	fetchCloudMin  float64
	fetchCloudMax  float64
	fetchBands     []string
	fetchFormat    string
	fetchOut       string
	fetchCRS       string
	fetchSeed      int64
	fetchWorkers   int
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Query the catalog and download imagery to local files",
	Long: `fetch queries the catalog with the configured sensor, region, and
date range, then downloads every matching image. Landsat sensors
download individual scenes; Sentinel-2 downloads randomized scene
mosaics over the grid zone. Written paths are printed to stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		log := logging.NewFromEnv()
		ctx, log = logging.WithRunLogger(ctx, log)

		app, err := buildApp(ctx, log, fetchOverrides(cmd))
		if err != nil {
			return err
		}
		defer app.close()

		params, err := app.params()
		if err != nil {
			return err
		}

		summary, err := app.runner.Fetch(ctx, params)
		if err != nil {
			return err
		}
		for _, outcome := range summary.Outcomes {
			if outcome.Success() {
				fmt.Println(outcome.Path)
			}
		}
		if failed := summary.Failures(); failed > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d downloads failed\n", failed, len(summary.Outcomes))
			return errPartialFailure
		}
		return nil
	},
}

func init() {
	f := fetchCmd.Flags()
	f.StringVarP(&fetchSensor, "sensor", "s", "l8", "Sensor to query (l8, l9, or s2)")
	f.StringVarP(&fetchGridKey, "grid-key", "g", "", "UTM-MGRS zone key, e.g. 17R (overrides --bounds)")
	f.StringVarP(&fetchRegion, "region", "r", "", "Region label used in output filenames")
	f.Float64SliceVar(&fetchBounds, "bounds", nil, "Query bounds as west,south,east,north")
	f.StringVar(&fetchStart, "start", "2022", "Start date (inclusive)")
	f.StringVar(&fetchEnd, "end", "2023", "End date (exclusive)")
	f.Float64Var(&fetchScale, "scale", 328, "Pixel scale in meters")
	f.IntVarP(&fetchMaxImages, "max-images", "n", 10, "Maximum number of images to download")
	f.Float64Var(&fetchCloudMin, "cloud-min", 0, "Minimum cloud cover percentage")
	f.Float64Var(&fetchCloudMax, "cloud-max", 30, "Maximum cloud cover percentage")
	f.StringSliceVar(&fetchBands, "bands", nil, "Bands to render (default B4,B3,B2)")
	f.StringVarP(&fetchFormat, "format", "f", "GEOTiff", "Output format (GEOTiff or PNG)")
	f.StringVarP(&fetchOut, "out", "o", "", "Output directory")
	f.StringVarP(&fetchCRS, "crs", "c", "", "Override the output coordinate reference system")
	f.Int64Var(&fetchSeed, "seed", 0, "Seed for mosaic ordering and point sampling (0 draws one)")
	f.IntVarP(&fetchWorkers, "workers", "w", 0, "Concurrent downloads (0 uses one per CPU)")
}

// fetchOverrides collects only the flags the user actually set, so
// flag defaults never clobber values from the config file.
func fetchOverrides(cmd *cobra.Command) config.Config {
	var cfg config.Config
	set := cmd.Flags().Changed
	if set("sensor") {
		cfg.Fetch.Sensor = fetchSensor
	}
	if set("grid-key") {
		cfg.Fetch.GridKey = fetchGridKey
	}
	if set("region") {
		cfg.Fetch.Region = fetchRegion
	}
	if set("bounds") {
		cfg.Fetch.Bounds = fetchBounds
	}
	if set("start") {
		cfg.Fetch.StartDate = fetchStart
	}
	if set("end") {
		cfg.Fetch.EndDate = fetchEnd
	}
	if set("scale") {
		cfg.Fetch.ScaleM = fetchScale
	}
	if set("max-images") {
		cfg.Fetch.MaxImages = fetchMaxImages
	}
	if set("cloud-min") {
		cfg.Fetch.CloudMin = fetchCloudMin
	}
	if set("cloud-max") {
		cfg.Fetch.CloudMax = fetchCloudMax
	}
	if set("bands") {
		cfg.Fetch.Bands = fetchBands
	}
	if set("format") {
		cfg.Fetch.Format = fetchFormat
	}
	if set("out") {
		cfg.Fetch.OutDir = fetchOut
	}
	if set("crs") {
		cfg.Fetch.CRS = fetchCRS
	}
	if set("seed") {
		cfg.Fetch.Seed = fetchSeed
	}
	if set("workers") {
		cfg.Workers = fetchWorkers
	}
	return cfg
}
