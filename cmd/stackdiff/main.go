package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/xerrors"

	"stackdiff/pkg/alignment"
	"stackdiff/pkg/config"
	"stackdiff/pkg/debug"
	"stackdiff/pkg/imageio"
	"stackdiff/pkg/registration"
	"stackdiff/pkg/visualization"
)

func envOrDefaultValue[T any](key string, defaultValue T) T {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	switch any(defaultValue).(type) {
	case string:
		return any(value).(T)
	case int:
		if intValue, err := strconv.Atoi(value); err == nil {
			return any(intValue).(T)
		}
	case float64:
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return any(floatValue).(T)
		}
	case bool:
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return any(boolValue).(T)
		}
	}

	return defaultValue
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if xerrors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "stackdiff: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newLogger builds a development zap logger behind the logr interface,
// writing to out. Verbosity n enables logr V(n) messages.
func newLogger(verbosity int, out io.Writer) (logr.Logger, func()) {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(zapcore.AddSync(out)),
		zap.NewAtomicLevelAt(zapcore.Level(-verbosity)),
	)
	zapLogger := zap.New(core, zap.Development(), zap.ErrorOutput(zapcore.Lock(os.Stderr)))
	return zapr.NewLogger(zapLogger), func() { _ = zapLogger.Sync() }
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("stackdiff", flag.ContinueOnError)

	// Parse command line arguments
	configPath := fs.String("config", envOrDefaultValue("STACKDIFF_CONFIG", "stackdiff.yaml"), "YAML configuration file (missing file means defaults)")
	initConfig := fs.Bool("init-config", false, "Write a default configuration to -config and exit")
	imageA := fs.String("a", "", "Reference image (top of the stack)")
	imageB := fs.String("b", "", "Image aligned onto the reference (bottom of the stack)")
	batchDir := fs.String("batch", "", "Directory of <n>_top.<ext> / <n>_bottom.<ext> pairs")
	outDir := fs.String("out", "", "Output directory (default: next to the inputs)")
	cutBottom := fs.Int("cut-bottom", 0, fmt.Sprintf("Rows removed from the bottom before matching (typical: %d)", alignment.DefaultBottomCut))
	cutBottomDefault := fs.Bool("cut-bottom-default", false, fmt.Sprintf("Remove the default %d rows from the bottom when -cut-bottom is not given", alignment.DefaultBottomCut))
	nudgeX := fs.Int("nudge-x", 0, "Extra horizontal shift of the bottom image crop")
	nudgeY := fs.Int("nudge-y", 0, "Extra vertical shift of the bottom image crop")
	method := fs.String("method", registration.MethodCCoeffNormed.String(), "Matching score: ccoeff_normed or ccorr_normed")
	strategy := fs.String("strategy", registration.StrategyDirect.String(), "Correlation strategy: direct or fft")
	minConfidence := fs.Float64("min-confidence", registration.DefaultMinConfidence, "Reject matches below this confidence (0 disables)")
	numCores := fs.Int("cores", 0, "Number of CPU cores used for matching (default: all available)")
	workers := fs.Int("workers", 1, "Image pairs processed concurrently in batch mode")
	jpegQuality := fs.Int("jpeg-quality", imageio.DefaultJPEGQuality, "Quality of JPEG outputs")
	noDiff := fs.Bool("no-diff", false, "Do not write the difference map")
	panelsDir := fs.String("panels-dir", "", "Directory for side-by-side panels of the aligned pair")
	saveIntermediary := fs.Bool("save-intermediary", false, "Save intermediary results during processing")
	intermediaryDir := fs.String("intermediary-dir", "intermediary_results", "Directory to save intermediary results")
	verbosity := fs.Int("v", 0, "Log verbosity, overrides STACKDIFF_VERBOSITY and the config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Default configuration written to %s\n", *configPath)
		return nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	// The environment overrides the configuration file and command line
	// flags override both
	cfg.Output.Verbosity = envOrDefaultValue("STACKDIFF_VERBOSITY", cfg.Output.Verbosity)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.Dir = *outDir
		case "cut-bottom":
			cfg.Alignment.BottomCut = *cutBottom
		case "cut-bottom-default":
			cfg.Alignment.BottomCutDefault = *cutBottomDefault
		case "nudge-x":
			cfg.Alignment.NudgeX = *nudgeX
		case "nudge-y":
			cfg.Alignment.NudgeY = *nudgeY
		case "method":
			cfg.Matching.Method = *method
		case "strategy":
			cfg.Matching.Strategy = *strategy
		case "min-confidence":
			cfg.Matching.MinConfidence = *minConfidence
		case "cores":
			cfg.Matching.NumCores = *numCores
		case "workers":
			cfg.Batch.Workers = *workers
		case "jpeg-quality":
			cfg.Output.JPEGQuality = *jpegQuality
		case "no-diff":
			cfg.Output.SaveDiff = !*noDiff
		case "panels-dir":
			cfg.Output.PanelsDir = *panelsDir
		case "save-intermediary":
			cfg.Debug.SaveIntermediaryResults = *saveIntermediary
		case "intermediary-dir":
			cfg.Debug.IntermediaryDir = *intermediaryDir
		case "v":
			cfg.Output.Verbosity = *verbosity
		}
	})

	// Validate inputs
	single := *imageA != "" || *imageB != ""
	if single == (*batchDir != "") || (single && (*imageA == "" || *imageB == "")) {
		fs.Usage()
		return xerrors.New("either -a and -b, or -batch is required")
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}

	log, flush := newLogger(cfg.Output.Verbosity, stdout)
	defer flush()
	opts.Logger = log

	var sink *debug.DirSink
	if cfg.Debug.SaveIntermediaryResults {
		if sink, err = debug.NewDirSink(cfg.Debug.IntermediaryDir, log.WithName("debug")); err != nil {
			return err
		}
		opts.Debug = sink
	}

	startTime := time.Now()
	if *batchDir != "" {
		err = runBatch(ctx, stdout, *batchDir, cfg, opts)
	} else {
		err = runPair(ctx, stdout, *imageA, *imageB, cfg, opts)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Completed in %.2f seconds\n", time.Since(startTime).Seconds())

	// Print information about intermediary results if saved
	if sink != nil {
		if err := sink.Err(); err != nil {
			log.Error(err, "Some intermediary results could not be saved")
		}
		fmt.Fprintf(stdout, "Intermediary results saved to: %s\n", sink.Dir())
	}
	return nil
}

func runPair(ctx context.Context, stdout io.Writer, pathA, pathB string, cfg *config.Config, opts alignment.Options) error {
	res, err := alignment.Align(ctx, imageio.PathSource(pathA), imageio.PathSource(pathB), opts)
	if err != nil {
		return err
	}

	outA := imageio.OutputPath(pathA, "_aligned", cfg.Output.Dir)
	outB := imageio.OutputPath(pathB, "_aligned", cfg.Output.Dir)
	diffPath := ""
	if cfg.Output.SaveDiff {
		diffPath = diffOutputPath(pathA, cfg.Output.Dir)
	}
	enc := imageio.NewEncoder(opts.JPEGQuality)
	if err := res.Save(enc, outA, outB, diffPath); err != nil {
		return err
	}
	if cfg.Output.PanelsDir != "" {
		viewer := visualization.NewViewer(res.CroppedA, res.CroppedB, res.Diff)
		if err := viewer.SavePanels(enc, cfg.Output.PanelsDir); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Panels saved to: %s\n", cfg.Output.PanelsDir)
	}

	fmt.Fprintf(stdout, "Translation: %s (confidence %.3f)\n", res.Match.Translation, res.Match.Confidence)
	fmt.Fprintf(stdout, "Aligned size: %dx%d\n", res.CroppedA.Width, res.CroppedA.Height)
	fmt.Fprintf(stdout, "Edge correlation: %.3f\n", res.EdgeCorrelation)
	fmt.Fprintf(stdout, "Aligned images saved to:\n- %s\n- %s\n", outA, outB)
	if diffPath != "" {
		fmt.Fprintf(stdout, "Difference map saved to: %s\n", diffPath)
	}
	return nil
}

func runBatch(ctx context.Context, stdout io.Writer, dir string, cfg *config.Config, opts alignment.Options) error {
	pairs, err := alignment.FindPairs(dir)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return xerrors.Errorf("no <n>_top / <n>_bottom image pairs found in %s", dir)
	}
	fmt.Fprintf(stdout, "Found %d image pairs in %s\n", len(pairs), dir)

	results, err := alignment.RunBatch(ctx, pairs, opts, cfg.Output.Dir, cfg.Batch.Workers)
	if err != nil {
		return err
	}

	enc := imageio.NewEncoder(opts.JPEGQuality)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(stdout, "- %s: FAILED: %v\n", res.Pair.Name, res.Err)
			continue
		}
		if cfg.Output.PanelsDir != "" {
			viewer := visualization.NewViewer(res.Result.CroppedA, res.Result.CroppedB, res.Result.Diff)
			if err := viewer.SavePanels(enc, filepath.Join(cfg.Output.PanelsDir, res.Pair.Name)); err != nil {
				return err
			}
		}
		fmt.Fprintf(stdout, "- %s: translation %s, aligned %dx%d\n", res.Pair.Name,
			res.Result.Match.Translation, res.Result.CroppedA.Width, res.Result.CroppedA.Height)
	}
	if failed > 0 {
		return xerrors.Errorf("%d of %d pairs failed", failed, len(results))
	}
	return nil
}

// diffOutputPath names the difference map after image A. It is always
// PNG so the 16-bit map keeps its precision.
func diffOutputPath(pathA, outDir string) string {
	p := imageio.OutputPath(pathA, "_diff", outDir)
	return strings.TrimSuffix(p, filepath.Ext(p)) + ".png"
}
