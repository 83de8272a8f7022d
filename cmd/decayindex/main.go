package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"decayindex/pkg/catalog"
	"decayindex/pkg/config"
	"decayindex/pkg/reconstruction"
	"decayindex/pkg/report"
	"decayindex/pkg/server"
	"decayindex/pkg/session"
	"decayindex/pkg/visualization"
)

const usage = `usage: decayindex <command> [flags]

commands:
  replay       rebuild a stored session and write its results
  serve        reconstruct a cropped region and accept clicks over /ws
  synth        write a synthetic field volume
  catalog      list catalogued results
  init-config  write the default configuration
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "replay":
		err = runReplay(args)
	case "serve":
		err = runServe(args)
	case "synth":
		err = runSynth(args)
	case "catalog":
		err = runCatalog(args)
	case "init-config":
		err = runInitConfig(args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func banner() {
	fmt.Println("================================")
	fmt.Println("DECAY INDEX ABOVE SOLAR ACTIVE REGIONS")
	fmt.Println("critical height of the torus instability from PFSS fields")
	fmt.Println("================================")
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig(path string, verbose bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := log.ParseLevel(cfg.Output.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if verbose || cfg.Output.Verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return cfg, nil
}

// newProducer serves stored solver output when a volume path is configured
// and the synthetic field otherwise.
func newProducer(cfg *config.Config) reconstruction.Producer {
	if cfg.Reconstruction.VolumePath != "" {
		return &reconstruction.FileProducer{Path: cfg.Reconstruction.VolumePath}
	}
	syn := cfg.Reconstruction.Synthetic
	return &reconstruction.SyntheticProducer{
		NLon:       syn.NLon,
		NLat:       syn.NLat,
		DepthMm:    syn.DepthMm,
		Exponent:   syn.Exponent,
		Noise:      syn.Noise,
		Seed:       syn.Seed,
		FieldGauss: syn.FieldGauss,
	}
}

// newWriter opens the catalog when one is configured.
func newWriter(cfg *config.Config) (*report.Writer, func(), error) {
	if cfg.Catalog.Path == "" {
		return report.NewWriter(cfg.Output.Dir, cfg.Output.FigureFormat, nil), func() {}, nil
	}
	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return nil, nil, err
	}
	return report.NewWriter(cfg.Output.Dir, cfg.Output.FigureFormat, db), func() { db.Close() }, nil
}

func runReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Configuration file")
	recordPath := fs.String("record", "", "Session record (.json or .yaml)")
	slicesDir := fs.String("slices", "", "Also save every decay-index slice along each axis under this directory")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Parse(args)

	if *recordPath == "" {
		fs.Usage()
		os.Exit(1)
	}
	cfg, err := loadConfig(*configPath, *verbose)
	if err != nil {
		return err
	}
	banner()

	rec, err := session.LoadRecord(*recordPath)
	if err != nil {
		return err
	}
	ctrl, err := session.NewController(cfg, newProducer(cfg))
	if err != nil {
		return err
	}

	startTime := time.Now()
	outcomes, err := ctrl.Replay(rec)
	for i, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("click %d at (%.2f, %.2f) rejected: %v\n", i+1, o.Event.World.Lon, o.Event.World.Lat, o.Err)
			continue
		}
		fmt.Printf("click %d at (%.2f, %.2f): h_crit = %.1f Mm\n", i+1, o.Event.World.Lon, o.Event.World.Lat, o.Result.CriticalHeightMm)
	}
	if err != nil {
		return err
	}

	summary, err := ctrl.Extract()
	if err != nil {
		return err
	}

	w, closeCatalog, err := newWriter(cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()
	paths, err := w.Write(ctrl, summary)
	if err != nil {
		return err
	}

	fmt.Printf("\nSession %s replayed in %.2f seconds\n", summary.SessionID, time.Since(startTime).Seconds())
	fmt.Printf("Clicks: %d (%d profiles)\n", summary.Clicks, summary.Profiles)
	fmt.Printf("Critical height of the mean profile: %.1f Mm (n = %g)\n", summary.CriticalHeightMm, summary.KeyDI)
	fmt.Println("\nResults saved to:")
	fmt.Printf("- %s\n- %s\n- %s\n- %s\n- %s\n", paths.EachFigure, paths.TotalFigure, paths.Map, paths.Population, paths.Record)
	if paths.ResultID != "" {
		fmt.Printf("Catalog entry: %s\n", paths.ResultID)
	}

	if *slicesDir != "" {
		fmt.Println("\nExtracting decay-index slices along all axes...")
		viewer := visualization.NewViewer(ctrl.Volume(), visualization.DefaultMaxIndex)
		for _, axis := range []string{"h", "lon", "lat"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				return fmt.Errorf("%s-axis slices: %w", axis, err)
			}
		}
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Configuration file")
	lon := fs.Float64("lon", 0, "Crop center longitude [deg]")
	lat := fs.Float64("lat", 0, "Crop center latitude [deg]")
	height := fs.Float64("height", 20, "Crop height [deg]")
	width := fs.Float64("width", 30, "Crop width [deg]")
	recordPath := fs.String("record", "", "Resume a stored session instead of cropping")
	verbose := fs.Bool("v", false, "Debug logging")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, *verbose)
	if err != nil {
		return err
	}
	banner()

	ctrl, err := session.NewController(cfg, newProducer(cfg))
	if err != nil {
		return err
	}
	if *recordPath != "" {
		rec, err := session.LoadRecord(*recordPath)
		if err != nil {
			return err
		}
		if _, err := ctrl.Replay(rec); err != nil {
			return err
		}
	} else {
		if err := ctrl.SetSources(session.Sources{Magnetogram: cfg.Reconstruction.VolumePath}); err != nil {
			return err
		}
		area := session.CropArea{CenterCoord: [2]float64{*lon, *lat}, Height: *height, Width: *width}
		if err := ctrl.Crop(area); err != nil {
			return err
		}
		if err := ctrl.Reconstruct(); err != nil {
			return err
		}
	}

	w, closeCatalog, err := newWriter(cfg)
	if err != nil {
		return err
	}
	defer closeCatalog()

	hub := server.NewHub(ctrl)
	hub.SetExtractHook(w.Hook)

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Session %s ready, %d heights up to %.0f Mm\n",
		ctrl.Record().SessionID, len(ctrl.Heights()), cfg.Threshold.HeightMm)
	return server.NewServer(cfg.Server.Addr, upgrader, hub).Serve(ctx)
}

func runSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Configuration file")
	output := fs.String("output", "volume.parquet.gz", "Output volume (.parquet or .parquet.gz)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		return err
	}
	syn := cfg.Reconstruction.Synthetic
	producer := &reconstruction.SyntheticProducer{
		NLon:       syn.NLon,
		NLat:       syn.NLat,
		DepthMm:    syn.DepthMm,
		Exponent:   syn.Exponent,
		Noise:      syn.Noise,
		Seed:       syn.Seed,
		FieldGauss: syn.FieldGauss,
	}
	volume, err := producer.Produce(reconstruction.Input{
		Nr:  cfg.Reconstruction.Nr,
		Rss: cfg.Reconstruction.Rss,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(*output), 0755); err != nil {
		return err
	}
	if err := reconstruction.WriteVolume(*output, volume); err != nil {
		return err
	}

	info, err := os.Stat(*output)
	if err != nil {
		return err
	}
	fmt.Printf("Synthetic volume %dx%dx%d saved to %s (%s)\n",
		volume.NLon, volume.NLat, volume.NR, *output, humanize.Bytes(uint64(info.Size())))
	return nil
}

func runCatalog(args []string) error {
	fs := flag.NewFlagSet("catalog", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Configuration file")
	limit := fs.Int("n", 20, "Number of results to list")
	sessionID := fs.String("session", "", "Only list results of this session")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		return err
	}
	if cfg.Catalog.Path == "" {
		return fmt.Errorf("no catalog.path configured")
	}
	db, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	var results []catalog.Result
	if *sessionID != "" {
		results, err = db.Session(*sessionID)
	} else {
		results, err = db.Recent(*limit)
	}
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%s  %-14s  session %s  n=%g  h_crit = %6.1f Mm  (%d clicks)\n",
			r.ID[:8], humanize.Time(r.Created()), r.SessionID, r.KeyDI, r.CriticalHeightMm, r.Clicks)
	}
	return nil
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Configuration file to create")
	fs.Parse(args)

	if _, err := os.Stat(*configPath); err == nil {
		return fmt.Errorf("%s already exists", *configPath)
	}
	if err := config.CreateDefaultConfigFile(*configPath); err != nil {
		return err
	}
	fmt.Printf("Default configuration written to %s\n", *configPath)
	return nil
}
