// Command verify scores two forecast NetCDF files against an ERA5 reference
// archive and prints per-timestep MAE, RMSE and R² with a summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"go.ngs.io/forecast-verify/internal/app"
	"go.ngs.io/forecast-verify/internal/config"
	"go.ngs.io/forecast-verify/internal/observability"
	"go.ngs.io/forecast-verify/internal/report"
)

const version = "0.1.0"

func main() {
	var (
		configPath string
		modelA     string
		modelB     string
		nameA      string
		nameB      string
		refPath    string
		jsonPath   string
		timeout    time.Duration
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.StringVar(&modelA, "model-a", "", "Path to the first forecast NetCDF file")
	flag.StringVar(&modelB, "model-b", "", "Path to the second forecast NetCDF file")
	flag.StringVar(&nameA, "name-a", "", "Name of the first model (default: AIFS)")
	flag.StringVar(&nameB, "name-b", "", "Name of the second model (default: IFS)")
	flag.StringVar(&refPath, "reference", "", "Path to the ERA5 reference NetCDF archive")
	flag.StringVar(&jsonPath, "json", "", "Write the full result as JSON to this file ('-' for stdout)")
	flag.DurationVar(&timeout, "timeout", 0, "Abort the run after this duration (default: run_timeout from config)")
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		fmt.Printf("forecast-verify version %s\n", version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	applyFlags(cfg, modelA, modelB, nameA, nameB, refPath)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}
	if timeout > 0 {
		cfg.RunTimeout = timeout
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, jsonPath, logger); err != nil {
		logger.Error("Verification failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, jsonPath string, logger *zap.Logger) error {
	a, err := app.New(cfg, logger, observability.NewMetrics())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
	}

	result, err := a.Verifier.Run(ctx, a.Inputs)
	if err != nil {
		return err
	}

	if err := report.WriteText(os.Stdout, result); err != nil {
		return err
	}

	switch jsonPath {
	case "":
	case "-":
		return report.WriteJSON(os.Stdout, result)
	default:
		f, err := os.Create(jsonPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", jsonPath, err)
		}
		if err := report.WriteJSON(f, result); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write %s: %w", jsonPath, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		logger.Info("Wrote JSON result", zap.String("path", jsonPath))
	}
	return nil
}

// applyFlags overrides the first two models and the reference with command-line values.
func applyFlags(cfg *config.Config, modelA, modelB, nameA, nameB, refPath string) {
	for len(cfg.Models) < 2 {
		cfg.Models = append(cfg.Models, config.ModelConfig{})
	}
	if modelA != "" {
		cfg.Models[0].Path = modelA
	}
	if modelB != "" {
		cfg.Models[1].Path = modelB
	}
	if nameA != "" {
		cfg.Models[0].Name = nameA
	}
	if nameB != "" {
		cfg.Models[1].Name = nameB
	}
	if refPath != "" {
		cfg.Reference.Path = refPath
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Forecast Verify v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  verify -model-a aifs.nc -model-b ifs.nc -reference era5.nc [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -config PATH       YAML config file (models, reference, aliases, region)")
	fmt.Println("  -model-a PATH      First forecast NetCDF file")
	fmt.Println("  -model-b PATH      Second forecast NetCDF file")
	fmt.Println("  -name-a NAME       Name of the first model (default: AIFS)")
	fmt.Println("  -name-b NAME       Name of the second model (default: IFS)")
	fmt.Println("  -reference PATH    ERA5 reference NetCDF archive")
	fmt.Println("  -json PATH         Also write the result as JSON ('-' for stdout)")
	fmt.Println("  -timeout DURATION  Abort the run after this duration (e.g. 10m)")
	fmt.Println("  -help              Show this help message")
	fmt.Println("  -version           Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  MODEL_A_PATH, MODEL_A_NAME, MODEL_B_PATH, MODEL_B_NAME, REFERENCE_PATH")
	fmt.Println("  INTERP_METHOD                bilinear (default) or nearest")
	fmt.Println("  WORKERS                      Timestamps scored concurrently (default: 1)")
	fmt.Println("  REFERENCE_TIME_TOLERANCE     Match the nearest archived time within this duration (default: exact)")
	fmt.Println("  REFERENCE_RETRY_ATTEMPTS     Reference read attempts (default: 3)")
	fmt.Println("  REFERENCE_RETRY_BACKOFF      Initial retry backoff (default: 200ms)")
	fmt.Println("  REFERENCE_RETRY_MAX_BACKOFF  Maximum retry backoff (default: 5s)")
	fmt.Println("  LOG_LEVEL, LOG_FORMAT        Logging (default: info, json)")
	fmt.Println()
	fmt.Println("Command-line flags take precedence over environment variables,")
	fmt.Println("which take precedence over the config file.")
	fmt.Println()
}
