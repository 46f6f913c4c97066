// Package main provides the forecast verification HTTP server.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"go.ngs.io/forecast-verify/internal/app"
	"go.ngs.io/forecast-verify/internal/config"
	httpHandler "go.ngs.io/forecast-verify/internal/http"
	"go.ngs.io/forecast-verify/internal/observability"
	"go.ngs.io/forecast-verify/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("forecast-verify-server version %s\n", version)
		return
	}

	// Load configuration from file and environment.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting forecast verification server",
		zap.String("version", version),
		zap.String("port", cfg.Port))

	metrics := observability.NewMetrics()

	// Open datasets and build the pipeline.
	a, err := app.New(cfg, logger, metrics)
	if err != nil {
		logger.Fatal("Failed to initialize verification inputs", zap.Error(err))
	}
	defer a.Close()

	runs := usecase.NewRunService(a.Verifier, a.Inputs, cfg.RunTimeout, logger)
	if cfg.RunOnStart {
		if _, err := runs.Start(); err != nil {
			logger.Warn("Initial run not started", zap.Error(err))
		}
	}

	// Setup router.
	router := httpHandler.SetupRouter(runs)

	// Start server.
	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("Server listening",
		zap.String("addr", addr),
		zap.Strings("endpoints", []string{
			"GET /health",
			"GET /metrics",
			"GET /v1/verification",
			"GET /v1/verification/summary",
			"POST /v1/verification/runs",
		}))

	if err := router.Run(addr); err != nil {
		logger.Error("Failed to start server", zap.Error(err))
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Forecast Verify Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  forecast-verify-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -config PATH   YAML config file")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  MODEL_A_PATH            First forecast NetCDF file")
	fmt.Println("  MODEL_A_NAME            First model name (default: AIFS)")
	fmt.Println("  MODEL_B_PATH            Second forecast NetCDF file")
	fmt.Println("  MODEL_B_NAME            Second model name (default: IFS)")
	fmt.Println("  REFERENCE_PATH          ERA5 reference NetCDF archive")
	fmt.Println("  RUN_ON_START            Start a verification run at startup (default: false)")
	fmt.Println("  RUN_TIMEOUT             Deadline for a single run (default: 30m)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  LOG_LEVEL, LOG_FORMAT   Logging (default: info, json)")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                      Health check and pipeline state")
	fmt.Println("  GET  /metrics                     Prometheus metrics")
	fmt.Println("  GET  /v1/verification             Latest verification result")
	fmt.Println("  GET  /v1/verification/summary     Latest summary statistics")
	fmt.Println("  POST /v1/verification/runs        Start a verification run (409 while one is running)")
	fmt.Println()
}
