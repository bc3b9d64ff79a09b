package main

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/rasterline/imagery-retriever/export"
	"github.com/rasterline/imagery-retriever/internal/config"
	"github.com/rasterline/imagery-retriever/internal/logging"
)

var (
	exportSensor       string
	exportGridKey      string
	exportRegion       string
	exportStart        string
	exportEnd          string
	exportScale        float64
	exportMaxImages    int
	exportCloudMin     float64
	exportCloudMax     float64
	exportBands        []string
	exportFormat       string
	exportOut          string
	exportSeed         int64
	exportHalfWidth    float64
	exportHalfHeight   float64
	exportPollInterval time.Duration
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Submit mosaic exports and wait for them to finish",
	Long: `export composes custom-extent mosaics over the grid zone, submits
them as server-side export jobs, and polls until every job reaches a
terminal state. State transitions are printed as they happen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		log := logging.NewFromEnv()
		ctx, log = logging.WithRunLogger(ctx, log)

		app, err := buildApp(ctx, log, exportOverrides(cmd))
		if err != nil {
			return err
		}
		defer app.close()

		params, err := app.params()
		if err != nil {
			return err
		}

		app.runner.ExportEvents = func(ev export.Event) {
			if ev.Type != export.EventJobStateChanged {
				return
			}
			transition := fmt.Sprintf("%s -> %s", ev.Prev, ev.Job.State)
			if ev.Job.Message != "" {
				fmt.Printf("%s\t%s\t%s\n", ev.Job.Name, transition, ev.Job.Message)
				return
			}
			fmt.Printf("%s\t%s\n", ev.Job.Name, transition)
		}

		summary, runErr := app.runner.ExportMosaics(ctx, params)
		for _, job := range summary.Jobs {
			fmt.Printf("%s\t%s\n", job.Name, job.State)
		}
		if runErr != nil {
			return runErr
		}
		if failed := summary.Failures(); failed > 0 {
			fmt.Fprintf(os.Stderr, "%d of %d export jobs failed\n", failed, len(summary.Jobs))
			return errPartialFailure
		}
		return nil
	},
}

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportSensor, "sensor", "s", "l8", "Sensor collection to mosaic (l8, l9, or s2)")
	f.StringVarP(&exportGridKey, "grid-key", "g", "", "UTM-MGRS zone key, e.g. 17R (required)")
	f.StringVarP(&exportRegion, "region", "r", "", "Region label used in export names")
	f.StringVar(&exportStart, "start", "2022", "Start date (inclusive)")
	f.StringVar(&exportEnd, "end", "2023", "End date (exclusive)")
	f.Float64Var(&exportScale, "scale", 328, "Pixel scale in meters")
	f.IntVarP(&exportMaxImages, "max-images", "n", 10, "Number of mosaics to export")
	f.Float64Var(&exportCloudMin, "cloud-min", 0, "Minimum cloud cover percentage")
	f.Float64Var(&exportCloudMax, "cloud-max", 30, "Maximum cloud cover percentage")
	f.StringSliceVar(&exportBands, "bands", nil, "Bands to render (default B4,B3,B2)")
	f.StringVarP(&exportFormat, "format", "f", "GEOTiff", "Output format (GEOTiff or PNG)")
	f.StringVarP(&exportOut, "out", "o", "", "Destination folder on the export drive")
	f.Int64Var(&exportSeed, "seed", 0, "Seed for mosaic ordering and point sampling (0 draws one)")
	f.Float64Var(&exportHalfWidth, "half-width", 425088, "Mosaic half-width in meters")
	f.Float64Var(&exportHalfHeight, "half-height", 318816, "Mosaic half-height in meters")
	f.DurationVar(&exportPollInterval, "poll-interval", export.DefaultPollInterval, "Delay between export status polls")
}

func exportOverrides(cmd *cobra.Command) config.Config {
	var cfg config.Config
	set := cmd.Flags().Changed
	if set("sensor") {
		cfg.Fetch.Sensor = exportSensor
	}
	if set("grid-key") {
		cfg.Fetch.GridKey = exportGridKey
	}
	if set("region") {
		cfg.Fetch.Region = exportRegion
	}
	if set("start") {
		cfg.Fetch.StartDate = exportStart
	}
	if set("end") {
		cfg.Fetch.EndDate = exportEnd
	}
	if set("scale") {
		cfg.Fetch.ScaleM = exportScale
	}
	if set("max-images") {
		cfg.Fetch.MaxImages = exportMaxImages
	}
	if set("cloud-min") {
		cfg.Fetch.CloudMin = exportCloudMin
	}
	if set("cloud-max") {
		cfg.Fetch.CloudMax = exportCloudMax
	}
	if set("bands") {
		cfg.Fetch.Bands = exportBands
	}
	if set("format") {
		cfg.Fetch.Format = exportFormat
	}
	if set("out") {
		cfg.Fetch.OutDir = exportOut
	}
	if set("seed") {
		cfg.Fetch.Seed = exportSeed
	}
	if set("half-width") {
		cfg.Fetch.HalfWidthM = exportHalfWidth
	}
	if set("half-height") {
		cfg.Fetch.HalfHeightM = exportHalfHeight
	}
	if set("poll-interval") {
		cfg.Export.PollInterval = exportPollInterval
	}
	return cfg
}
