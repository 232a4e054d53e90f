// Команда satsky рассчитывает положение спутников на небе наблюдателя.
//
//	satsky look  -obs 51.5,0,0 (-target 51.5,10,400000 | -norad 25544 [-at RFC3339]) [-format text|json]
//	satsky track [-config satsky.yaml] [-tle file] [-norad 25544] [-start RFC3339] [-span 24h] [-step 1m]
//	satsky demo  [-config satsky.yaml] [-at RFC3339]
//	satsky serve [-config satsky.yaml]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/art-injener/satsky-go/internal/config"
	"github.com/art-injener/satsky-go/internal/handlers"
	"github.com/art-injener/satsky-go/internal/logging"
	"github.com/art-injener/satsky-go/internal/metrics"
	"github.com/art-injener/satsky-go/internal/observability"
	"github.com/art-injener/satsky-go/internal/tracker"
)

const usage = `usage: satsky <command> [flags]

commands:
  look   compute altitude, azimuth and range from observer to target
  track  sample a satellite over a time span and list visible passes
  demo   propagate one TLE now and print the computation trace
  serve  run the HTTP API
`

// errUsage — неверные аргументы командной строки (код выхода 2).
var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error

	switch args[0] {
	case "look":
		err = runLook(ctx, args[1:], stdout, stderr)
	case "track":
		err = runTrack(ctx, args[1:], stdout, stderr)
	case "demo":
		err = runDemo(ctx, args[1:], stdout, stderr)
	case "serve":
		err = runServe(ctx, args[1:], stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, err)
		return 2
	default:
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	return fs
}

func runLook(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("look", stderr)
	obs := fs.String("obs", "", "observer lat,lon[,alt] (deg, deg, m)")
	target := fs.String("target", "", "target lat,lon[,alt] (deg, deg, m)")
	noradID := fs.Int("norad", 0, "look at a satellite by NORAD ID instead of -target")
	configPath := fs.String("config", "", "path to YAML config (TLE sources for -norad)")
	tleFile := fs.String("tle", "", "read TLE from file instead of the configured sources")
	atRaw := fs.String("at", "", "time for -norad, RFC3339 (default now)")
	format := fs.String("format", "text", "output format: text or json")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *obs == "" || (*target == "") == (*noradID <= 0) {
		return fmt.Errorf("%w: look requires -obs and exactly one of -target or -norad", errUsage)
	}
	if *format != "text" && *format != "json" {
		return fmt.Errorf("%w: unknown format %q", errUsage, *format)
	}

	observer, err := tracker.ParseGeodeticPoint(*obs)
	if err != nil {
		return fmt.Errorf("obs: %w", err)
	}

	if *noradID > 0 {
		return lookAtSatellite(ctx, stdout, stderr, observer, *noradID, *configPath, *tleFile, *atRaw, *format)
	}

	tgt, err := tracker.ParseGeodeticPoint(*target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}

	if *format == "json" {
		look, err := tracker.Look(observer, tgt)
		if err != nil {
			return err
		}
		return writeJSON(stdout, look)
	}

	report, err := tracker.BuildLookReport(observer, tgt)
	if err != nil {
		return err
	}

	_, err = report.WriteTo(stdout)

	return err
}

type satelliteLook struct {
	NoradID int       `json:"norad_id"`
	Name    string    `json:"name"`
	Time    time.Time `json:"time"`
	tracker.Topocentric
}

// lookAtSatellite пропагирует TLE на момент at и выводит положение спутника на небе.
func lookAtSatellite(
	ctx context.Context,
	stdout, stderr io.Writer,
	observer tracker.GeodeticPoint,
	noradID int,
	configPath, tleFile, atRaw, format string,
) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	at := time.Now().UTC()
	if atRaw != "" {
		if at, err = time.Parse(time.RFC3339, atRaw); err != nil {
			return fmt.Errorf("%w: at: %v", errUsage, err)
		}
		at = at.UTC()
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)

	tle, err := loadTLE(ctx, cfg, tleFile, noradID, logger)
	if err != nil {
		return err
	}

	prop, err := tracker.NewSGP4PropagatorWithGravity(tle, cfg.Propagator.GravityModel())
	if err != nil {
		return err
	}

	look, err := tracker.LookAt(ctx, prop, observer, at)
	if err != nil {
		return err
	}

	if format == "json" {
		return writeJSON(stdout, satelliteLook{NoradID: tle.NoradID, Name: tle.Name, Time: at, Topocentric: look})
	}

	fmt.Fprintf(stdout, "Satellite: %s (NORAD %d)\nDate (UTC): %s\n", tle.Name, tle.NoradID, at.Format(time.RFC3339))
	fmt.Fprintf(stdout, "  altitude=%s°\n  azimuth=%s°\n  slant range=%s km\n",
		tracker.FormatNumber(look.AltitudeDeg, 3),
		tracker.FormatNumber(look.AzimuthDeg, 3),
		tracker.FormatNumber(look.RangeM/1000, 3))

	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

type trackOutput struct {
	NoradID int                `json:"norad_id,omitempty"`
	Name    string             `json:"name"`
	Points  []tracker.SkyPoint `json:"points,omitempty"`
	Passes  []tracker.Pass     `json:"passes"`
}

func runTrack(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("track", stderr)
	configPath := fs.String("config", "", "path to YAML config")
	tleFile := fs.String("tle", "", "read TLE from file instead of the configured sources")
	noradID := fs.Int("norad", 0, "NORAD catalog number (default from config)")
	obs := fs.String("obs", "", "observer lat,lon[,alt] (default from config)")
	startRaw := fs.String("start", "", "start time, RFC3339 (default now)")
	span := fs.Duration("span", 0, "time span (default from config)")
	step := fs.Duration("step", 0, "time step (default from config)")
	minAlt := fs.Float64("min-alt", 0, "minimum altitude of a visible pass, deg")
	synthetic := fs.Bool("synthetic", false, "use the synthetic circular orbit instead of TLE")
	points := fs.Bool("points", false, "print every track point")
	format := fs.String("format", "text", "output format: text or json")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)

	observer := cfg.Observer.Point()
	if *obs != "" {
		if observer, err = tracker.ParseGeodeticPoint(*obs); err != nil {
			return fmt.Errorf("obs: %w", err)
		}
	}

	start := time.Now().UTC()
	if *startRaw != "" {
		if start, err = time.Parse(time.RFC3339, *startRaw); err != nil {
			return fmt.Errorf("%w: start: %v", errUsage, err)
		}
		start = start.UTC()
	}

	if *span == 0 {
		*span = cfg.Track.Span
	}
	if *step == 0 {
		*step = cfg.Track.Step
	}
	if *span/max(*step, 1) > config.MaxTrackPoints {
		return fmt.Errorf("%w: span/step exceeds %d points", errUsage, config.MaxTrackPoints)
	}

	minAltitude := cfg.Track.MinAltitudeDeg
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "min-alt" {
			minAltitude = *minAlt
		}
	})
	if !(minAltitude >= -90 && minAltitude <= 90) {
		return fmt.Errorf("%w: min-alt %v outside [-90, 90]", errUsage, minAltitude)
	}

	out := trackOutput{}

	var src tracker.PositionSource
	if *synthetic {
		out.Name = "synthetic"
		src = tracker.DefaultSyntheticOrbit(start)
	} else {
		id := cfg.Track.NoradID
		if *noradID > 0 {
			id = *noradID
		}

		tle, err := loadTLE(ctx, cfg, *tleFile, id, logger)
		if err != nil {
			return err
		}

		prop, err := tracker.NewSGP4PropagatorWithGravity(tle, cfg.Propagator.GravityModel())
		if err != nil {
			return err
		}

		out.NoradID, out.Name = tle.NoradID, tle.Name
		src = tracker.PropagatedSource{Propagator: prop}
	}

	track, err := tracker.GenerateSkyTrack(ctx, src, observer, start, *span, *step)
	if err != nil {
		return err
	}

	out.Passes = tracker.SplitVisiblePasses(track, minAltitude)
	for i := range out.Passes {
		out.Passes[i].Points = nil
	}
	if *points {
		out.Points = track
	}

	logger.DebugContext(ctx, "track generated",
		"satellite", out.Name,
		"points", len(track),
		"passes", len(out.Passes),
	)

	switch *format {
	case "json":
		return writeJSON(stdout, out)
	case "text":
		return writeTrackText(stdout, out, observer, len(track))
	default:
		return fmt.Errorf("%w: unknown format %q", errUsage, *format)
	}
}

// loadTLE ищет спутник в файле или в цепочке источников из конфигурации.
func loadTLE(ctx context.Context, cfg *config.Config, tleFile string, noradID int, logger *slog.Logger) (*tracker.TLE, error) {
	var loader handlers.Loader = cfg.Sources.Chain(logger)
	if tleFile != "" {
		loader = &tracker.SourceChain{
			Sources: []tracker.TLESource{&tracker.FileSource{Path: tleFile}},
			Logger:  logger,
		}
	}

	result, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	tle, ok := result.Find(noradID)
	if !ok {
		return nil, fmt.Errorf("NORAD %d not found in %s", noradID, result.Source)
	}

	return tle, nil
}

func writeTrackText(w io.Writer, out trackOutput, observer tracker.GeodeticPoint, total int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "Satellite: %s", out.Name)
	if out.NoradID > 0 {
		fmt.Fprintf(tw, " (NORAD %d)", out.NoradID)
	}
	fmt.Fprintf(tw, "\nObserver: lat=%s lon=%s alt=%s m\nPoints: %d\n\n",
		tracker.FormatNumber(observer.Lat, 4), tracker.FormatNumber(observer.Lon, 4),
		tracker.FormatNumber(observer.Alt, 1), total)

	if len(out.Passes) == 0 {
		fmt.Fprintln(tw, "No visible passes.")
	} else {
		fmt.Fprintln(tw, "START (UTC)\tEND (UTC)\tDURATION\tMAX ALT\tAZ RISE\tAZ SET")
		for _, p := range out.Passes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s°\t%s°\t%s°\n",
				p.Start.Format(time.RFC3339), p.End.Format(time.RFC3339), p.Duration(),
				tracker.FormatNumber(p.MaxAltitudeDeg, 1),
				tracker.FormatNumber(p.StartAzimuth, 1), tracker.FormatNumber(p.EndAzimuth, 1))
		}
	}

	if len(out.Points) > 0 {
		fmt.Fprintln(tw, "\nTIME (UTC)\tALT\tAZ\tRANGE (km)")
		for _, p := range out.Points {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Time.Format(time.RFC3339),
				tracker.FormatNumber(p.AltitudeDeg, 2), tracker.FormatNumber(p.AzimuthDeg, 2),
				tracker.FormatNumber(p.RangeM/1000, 3))
		}
	}

	return tw.Flush()
}

func runDemo(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("demo", stderr)
	configPath := fs.String("config", "", "path to YAML config")
	atRaw := fs.String("at", "", "propagation time, RFC3339 (default now)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)

	at := time.Now().UTC()
	if *atRaw != "" {
		if at, err = time.Parse(time.RFC3339, *atRaw); err != nil {
			return fmt.Errorf("%w: at: %v", errUsage, err)
		}
	}

	result, err := cfg.Sources.Chain(logger).Load(ctx)
	if err != nil {
		return err
	}

	tle, ok := result.Find(cfg.Track.NoradID)
	if !ok {
		tle = result.TLEs[0]
	}

	prop, err := tracker.NewSGP4PropagatorWithGravity(tle, cfg.Propagator.GravityModel())
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "TLE source: %s\n", result.Source)

	observer := cfg.Observer.Point()
	report, err := tracker.BuildPropagationReport(prop, tle, at, &observer)
	if report != nil {
		if _, werr := report.WriteTo(stdout); werr != nil {
			return werr
		}
	}

	return err
}

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("serve", stderr)
	configPath := fs.String("config", "", "path to YAML config")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, stderr)
	slog.SetDefault(logger)

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
		Writer:      stderr,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	api := handlers.NewAPIHandler(cfg.Sources.Chain(logger),
		handlers.WithLogger(logger),
		handlers.WithMetrics(collector),
		handlers.WithTracer(observability.Tracer()),
		handlers.WithGravity(cfg.Propagator.GravityModel()),
		handlers.WithObserver(cfg.Observer.Point()),
		handlers.WithTrackDefaults(handlers.TrackDefaults{
			NoradID:        cfg.Track.NoradID,
			Span:           cfg.Track.Span,
			Step:           cfg.Track.Step,
			MinAltitudeDeg: cfg.Track.MinAltitudeDeg,
		}),
	)

	if err := api.Reload(ctx); err != nil {
		logger.WarnContext(ctx, "initial TLE load failed, /api/track unavailable until reload",
			logging.KeyError, err)
	}

	return handlers.NewServer(cfg.Server, api, logger).Run(ctx)
}
