package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"prisml-train/internal/cfg"
	"prisml-train/internal/metrics"
	"prisml-train/internal/notify"
	"prisml-train/internal/pipeline"
	"prisml-train/internal/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	inputPath   string
	outputPath  string
	algorithm   string
	testSplit   float64
	minAccuracy float64
	seed        int64
	logLevel    string
	metricsFile string
	historyDB   string
	notifyURL   string
	noVerify    bool
)

var rootCmd = &cobra.Command{
	Use:   "prisml-train",
	Short: "Train a tabular model and export it as ONNX",
	Long: `Trains a supervised model on a labeled JSON dataset, checks its held-out
score against a minimum, and writes the model as an ONNX graph next to a
.metadata.json sidecar for the inference runtime.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	},
	RunE: runTrain,
}

func main() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "YAML config file (overrides CONFIG_FILE)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&historyDB, "history-db", "", "BoltDB file recording every run")

	f := rootCmd.Flags()
	f.StringVar(&inputPath, "input", "", "Training data JSON file")
	f.StringVar(&outputPath, "output", "", "Output ONNX model path")
	f.StringVar(&algorithm, "algorithm", "RandomForest", "Algorithm: RandomForest, LogisticRegression, DecisionTree")
	f.Float64Var(&testSplit, "test-split", 0.2, "Held-out fraction, between 0 and 1")
	f.Float64Var(&minAccuracy, "min-accuracy", 0.7, "Minimum held-out accuracy (classification) or R² (regression)")
	f.Int64Var(&seed, "seed", 42, "Random seed for the split and the estimators")
	f.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	f.StringVar(&notifyURL, "notify-url", "", "POST a run summary to this URL")
	f.BoolVar(&noVerify, "no-verify", false, "Skip re-reading and checking the exported graph")

	for _, name := range []string{"input", "output"} {
		if err := rootCmd.MarkFlagRequired(name); err != nil {
			log.Error().Err(err).Str("flag", name).Msg("Failed to mark flag as required")
		}
	}
}

// loadSettings resolves defaults, file and environment, then applies the
// flags the user actually set.
func loadSettings(cmd *cobra.Command) (cfg.Settings, error) {
	settings, err := cfg.Load(configPath)
	if err != nil {
		return cfg.Settings{}, err
	}

	changed := cmd.Flags().Changed
	settings.InputPath = inputPath
	settings.OutputPath = outputPath
	if changed("algorithm") {
		settings.Algorithm = algorithm
	}
	if changed("test-split") {
		settings.TestSplit = testSplit
	}
	if changed("min-accuracy") {
		settings.MinAccuracy = minAccuracy
	}
	if changed("seed") {
		settings.Seed = seed
	}
	if changed("log-level") {
		settings.LogLevel = logLevel
	}
	if changed("metrics-file") {
		settings.MetricsFile = metricsFile
	}
	if changed("history-db") {
		settings.HistoryDB = historyDB
	}
	if changed("notify-url") {
		settings.NotifyURL = notifyURL
	}
	if changed("no-verify") {
		settings.VerifyExport = !noVerify
	}
	return settings, nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	zerolog.SetGlobalLevel(settings.Level())

	fmt.Println("=== Training Configuration ===")
	fmt.Printf("Input: %s\n", settings.InputPath)
	fmt.Printf("Output: %s\n", settings.OutputPath)
	fmt.Printf("Algorithm: %s\n", settings.Algorithm)
	fmt.Printf("Test Split: %.2f\n", settings.TestSplit)
	fmt.Printf("Min Score: %.4f\n", settings.MinAccuracy)
	fmt.Printf("Seed: %d\n", settings.Seed)
	fmt.Println("==============================")

	opts := []pipeline.Option{pipeline.WithRecorder(metrics.New())}
	if settings.HistoryDB != "" {
		store, err := storage.New(settings.HistoryDB)
		if err != nil {
			log.Warn().Err(err).Str("path", settings.HistoryDB).Msg("Run history unavailable, continuing without it")
		} else {
			defer store.Close()
			opts = append(opts, pipeline.WithHistory(store))
		}
	}
	if settings.NotifyURL != "" {
		opts = append(opts, pipeline.WithNotifier(notify.New(settings.NotifyURL, settings.NotifyTimeout)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := pipeline.New(pipeline.Config{
		InputPath:    settings.InputPath,
		OutputPath:   settings.OutputPath,
		Algorithm:    settings.Algorithm,
		TestSplit:    settings.TestSplit,
		MinScore:     settings.MinAccuracy,
		Seed:         settings.Seed,
		VerifyExport: settings.VerifyExport,
		MetricsFile:  settings.MetricsFile,
	}, opts...)

	out, err := driver.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\n=== Training Results ===")
	fmt.Printf("Run ID: %s\n", out.RunID)
	fmt.Printf("Model: %s (%s, %s)\n", out.ModelName, out.Algorithm, out.Task)
	fmt.Printf("Samples: %d train / %d test\n", out.TrainSize, out.TestSize)
	names := make([]string, 0, len(out.Scores))
	for name := range out.Scores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %.4f\n", name, out.Scores[name])
	}
	fmt.Printf("Model File: %s\n", out.Artifacts.ModelPath)
	fmt.Printf("Metadata File: %s\n", out.Artifacts.MetadataPath)
	fmt.Printf("Verified: %t\n", out.Artifacts.Verified)
	fmt.Println("========================")
	return nil
}
