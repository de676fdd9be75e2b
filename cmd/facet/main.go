package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/facetlab/facet/internal/buildinfo"
	"github.com/facetlab/facet/pkg/analytics"
	"github.com/facetlab/facet/pkg/sink"
	"github.com/facetlab/facet/pkg/source"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

func main() {
	var analysisName, inputPath, outputPath string
	var strict, compact bool
	var verbosity int

	flag.StringVar(&analysisName, "analysis", "movies",
		"Analysis to run, one of \"movies\" or \"listings\".")
	flag.StringVar(&inputPath, "input", "",
		"Input file holding the documents, either NDJSON or a single JSON array.")
	flag.StringVar(&outputPath, "output", "", "Report output file (default: stdout).")
	flag.BoolVar(&strict, "strict", false,
		"Abort the run on the first per-document evaluation error instead of dropping the document.")
	flag.BoolVar(&compact, "compact", false, "Write compact JSON instead of indented.")
	flag.IntVar(&verbosity, "v", 0, "Log verbosity level.")
	flag.Parse()

	logger := zapr.NewLogger(newZapLogger(verbosity)).WithName("facet")
	setupLog := logger.WithName("setup")

	buildInfo := buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}
	setupLog.Info(fmt.Sprintf("starting facet %s", buildInfo.String()))

	if inputPath == "" {
		setupLog.Info("no input file given, see -help")
		os.Exit(1)
	}

	analysis, err := analytics.New(analysisName, logger)
	if err != nil {
		setupLog.Error(err, "unable to set up the analysis")
		os.Exit(1)
	}
	analysis.WithStrict(strict)

	src, err := source.NewFileSource(analysisName, inputPath)
	if err != nil {
		setupLog.Error(err, "unable to open the input file")
		os.Exit(1)
	}
	defer src.Close()

	out := os.Stdout
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			setupLog.Error(err, "unable to create the output file")
			os.Exit(1)
		}
		defer file.Close()
		out = file
	}

	var dst sink.Sink = sink.NewIndentedJSONSink(out)
	if compact {
		dst = sink.NewJSONSink(out)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := analytics.NewRunner(logger)
	if _, err := runner.Run(ctx, analysis, src, dst); err != nil {
		setupLog.Error(err, "problem running the analysis")
		os.Exit(1)
	}
}

// newZapLogger builds the zap backend for the logr front end. Verbosity maps
// to negative zap levels so that logr's V levels work as expected.
func newZapLogger(verbosity int) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.OutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("cannot set up logging: %v", err))
	}

	return logger
}
