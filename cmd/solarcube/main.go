package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"solarcube/pkg/catalog"
	sc "solarcube/pkg/solarcube"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	files     []string
	line      string
	quicklook string
	goes      string
	events    string
}

func parseArgs(args []string) (options, error) {
	var opts options
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch a {
		case "-line", "-quicklook", "-goes", "-events":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("%s needs a value", a)
			}
			i++
			switch a {
			case "-line":
				opts.line = args[i]
			case "-quicklook":
				opts.quicklook = args[i]
			case "-goes":
				opts.goes = args[i]
			case "-events":
				opts.events = args[i]
			}
		default:
			if strings.HasPrefix(a, "-") {
				return opts, fmt.Errorf("unknown flag %s", a)
			}
			opts.files = append(opts.files, a)
		}
	}
	if len(opts.files) == 0 {
		return opts, fmt.Errorf("usage: solarcube [-line desc] [-quicklook out.png] [-goes xrs.csv] [-events catalog.db] <fits-file>...")
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}
	fmt.Printf("Loading: %d file(s)\n", len(opts.files))

	startTime := time.Now()
	cfg := sc.DefaultConfig()
	obs, err := sc.OpenObservation(cfg, sc.CubeSource{Files: opts.files, Line: opts.line})
	if err != nil {
		return fmt.Errorf("opening observation: %w", err)
	}
	defer obs.Close()
	cube, err := obs.Cube(0)
	if err != nil {
		return err
	}

	filter, err := sc.NewCubeQualityFilter(cfg)
	if err != nil {
		return err
	}
	quality, err := filter.Fit(cube)
	if err != nil {
		return fmt.Errorf("quality scan: %w", err)
	}

	cropper, err := sc.NewContentCropper(cfg)
	if err != nil {
		return err
	}
	crop, cropErr := cropper.Fit(cube)
	if cropErr != nil && !errors.Is(cropErr, sc.ErrEmptyCube) {
		return fmt.Errorf("crop: %w", cropErr)
	}
	elapsed := time.Since(startTime)

	start, end := obs.TimeSpan()
	fmt.Println()
	fmt.Printf("=== Observation %s (%.1fs) ===\n", obs.ID(), elapsed.Seconds())
	fmt.Printf("  Kind:            %s\n", cube.Kind())
	fmt.Printf("  Line:            %s\n", cube.Line())
	fmt.Printf("  Steps:           %d\n", cube.StepCount())
	fmt.Printf("  Extent:          %d x %d\n", cube.Extent().Dx(), cube.Extent().Dy())
	fmt.Printf("  Time span:       %s .. %s\n", start.Format(time.RFC3339), end.Format(time.RFC3339))
	if dev := cube.Deviations(); len(dev) > 0 {
		fmt.Printf("  Time deviations: %v\n", dev)
	}
	fmt.Printf("  Corrupt steps:   %v\n", quality.Corrupt)
	fmt.Printf("  Null steps:      %v\n", quality.Null)
	if cropErr != nil {
		fmt.Printf("  Crop box:        none (%v)\n", cropErr)
	} else {
		fmt.Printf("  Crop box:        %v (%d steps skipped)\n", crop.Box, len(crop.Skipped))
	}
	if exp := cube.Exposures(); len(exp) > 0 {
		expMedian, expMAD := medianMAD(exp)
		fmt.Printf("  Exposure:        %.3f +/- %.3f s\n", expMedian, expMAD)
	}

	if opts.goes != "" {
		if err := printFlux(cube, opts.goes, cfg.FluxGapTolerance); err != nil {
			return err
		}
	}
	if opts.events != "" {
		if err := printEvents(obs, opts.events); err != nil {
			return err
		}
	}
	fmt.Println("==============================")

	if opts.quicklook != "" {
		mask, err := filter.Transform(cube, quality)
		if err != nil {
			return err
		}
		good := mask.Good()
		if len(good) == 0 {
			return fmt.Errorf("no good step to render")
		}
		m, err := cube.GetStep(good[0])
		if err != nil {
			return err
		}
		defer m.Close()
		qopts := sc.NewQuicklookOptions()
		qopts.Box = crop.Box
		id, _ := cube.StepID(good[0])
		qopts.Label = fmt.Sprintf("%s %s", cube.Line(), id)
		if err := sc.RenderQuicklook(m, qopts, opts.quicklook); err != nil {
			return fmt.Errorf("quicklook: %w", err)
		}
		fmt.Printf("Quicklook written to %s\n", opts.quicklook)
	}
	return nil
}

func printFlux(cube *sc.Cube, path string, gap time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening GOES file: %w", err)
	}
	defer f.Close()
	samples, err := catalog.ParseGOESCSV(f)
	if err != nil {
		return err
	}
	series := sc.NewFluxSeries(samples)
	matches, err := sc.GetFlux(cube, series, sc.FluxOptions{Channel: sc.ChannelB, Interpolate: true, MaxGap: gap})
	if err != nil {
		return err
	}
	valid := 0
	for _, m := range matches {
		if m.Valid {
			valid++
		}
	}
	fmt.Printf("  GOES matches:    %d of %d steps\n", valid, len(matches))
	times := cube.Times()
	if len(times) > 0 {
		if peak, ok := series.Peak(sc.ChannelB, times[0], times[len(times)-1]); ok {
			fmt.Printf("  GOES peak (B):   %.3e W/m2 at %s\n", peak.B, peak.Time.Format(time.RFC3339))
		}
	}
	return nil
}

func printEvents(obs *sc.Observation, path string) error {
	ctx := context.Background()
	store, err := catalog.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	start, end := obs.TimeSpan()
	events, err := store.EventsBetween(ctx, start, end)
	if err != nil {
		return fmt.Errorf("reading events: %w", err)
	}
	inFOV, err := obs.Events(events)
	if err != nil {
		return err
	}
	fmt.Printf("  Events in FOV:   %d of %d\n", len(inFOV), len(events))
	for _, ev := range inFOV {
		fmt.Printf("    %-8s %-6s %s .. %s\n", ev.Label, ev.Class, ev.Start.Format(time.RFC3339), ev.End.Format(time.RFC3339))
	}
	return nil
}

func medianMAD(values []float64) (float64, float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	median := middle(sorted)

	deviations := make([]float64, len(sorted))
	for i := range sorted {
		deviations[i] = math.Abs(sorted[i] - median)
	}
	sort.Float64s(deviations)

	return median, 1.4826 * middle(deviations)
}

func middle(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2.0
	}
	return sorted[n/2]
}
