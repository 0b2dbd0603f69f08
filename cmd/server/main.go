package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arjunrao/atlasfuse/pkg/api/rest"
	"github.com/arjunrao/atlasfuse/pkg/api/rest/middleware"
	"github.com/arjunrao/atlasfuse/pkg/config"
	"github.com/arjunrao/atlasfuse/pkg/observability"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version and exit")
		showHelp    = flag.Bool("help", false, "show help and exit")
		configFile  = flag.String("config", "", "path to configuration file (optional)")
		host        = flag.String("host", "", "server host (overrides config/env)")
		port        = flag.Int("port", 0, "server port (overrides config/env)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("atlasfuse server v%s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if *showHelp {
		showUsage()
		os.Exit(0)
	}

	printBanner()

	cfg := loadConfig(*configFile)

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	if err := cfg.Validate(); err != nil {
		observability.Fatalf("Invalid configuration: %v", err)
	}

	metrics := observability.NewMetrics()

	restConfig := rest.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		FusionDefaults: cfg.Fusion.ToFusionConfig(),
		JobHistory:     cfg.Limits.MaxQueuedJobs,
		CORSEnabled:    true,
		CORSOrigins:    []string{"*"},
		Auth: middleware.AuthConfig{
			Enabled:     cfg.Server.JWTSecret != "",
			JWTSecret:   cfg.Server.JWTSecret,
			PublicPaths: []string{"/v1/health", "/v1/metrics"},
			AdminPaths:  []string{"/v1/jobs"},
		},
		RateLimit: middleware.RateLimitConfig{
			Enabled:        true,
			RequestsPerSec: cfg.Limits.RateLimitPerSecond,
			Burst:          cfg.Limits.RateLimitBurst,
			PerIP:          true,
		},
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	server, err := rest.NewServer(restConfig, metrics)
	if err != nil {
		observability.Fatalf("Failed to create REST server: %v", err)
	}

	printStartupInfo(cfg)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	observability.Info("Server is ready. Press Ctrl+C to stop.")
	select {
	case sig := <-sigChan:
		observability.Infof("Received signal: %v", sig)
	case err := <-errChan:
		observability.Errorf("Server error: %v", err)
	}

	observability.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		observability.Errorf("Error stopping REST server: %v", err)
	}

	observability.Info("Server stopped. Goodbye!")
}

func loadConfig(configFile string) *config.Config {
	if configFile != "" {
		observability.Warnf("config file support not yet implemented, using environment variables")
	}
	return config.LoadFromEnv()
}

func printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   atlasfuse                                               ║
║   Multi-Atlas Weighted-Voting Label Fusion Engine         ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("Version: %s (commit: %s)\n\n", version, commit)
}

func printStartupInfo(cfg *config.Config) {
	fmt.Println("\n╔════════════════════════════════════════════════════════╗")
	fmt.Println("║            REST Control Plane Configuration             ║")
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Printf("║ Address:          %-35s ║\n", cfg.Server.Address())
	fmt.Printf("║ TLS Enabled:      %-35v ║\n", cfg.Server.EnableTLS)
	fmt.Printf("║ Rate Limit:       %-35s ║\n", fmt.Sprintf("%.1f req/s (burst: %d)", cfg.Limits.RateLimitPerSecond, cfg.Limits.RateLimitBurst))
	fmt.Printf("║ Max Queued Jobs:  %-35d ║\n", cfg.Limits.MaxQueuedJobs)
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Println("║            Fusion Engine Defaults                       ║")
	fmt.Println("╠════════════════════════════════════════════════════════╣")
	fmt.Printf("║ Patch Radius:     %-35v ║\n", cfg.Fusion.PatchRadius)
	fmt.Printf("║ Search Radius:    %-35v ║\n", cfg.Fusion.SearchRadius)
	fmt.Printf("║ Alpha / Beta:     %-35s ║\n", fmt.Sprintf("%.3f / %.1f", cfg.Fusion.Alpha, cfg.Fusion.Beta))
	fmt.Printf("║ Unique-Mask Pre-Pass: %-31v ║\n", cfg.Fusion.UseUniqueMask)
	fmt.Printf("║ Weight Maps:      %-35v ║\n", cfg.Fusion.GenerateWeightMaps)
	fmt.Println("╚════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func showUsage() {
	fmt.Println("atlasfuse server - multi-atlas label fusion REST control plane")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  atlasfuse-server [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -help             Show this help message")
	fmt.Println("  -version          Show version information")
	fmt.Println("  -config PATH      Path to configuration file (not yet implemented)")
	fmt.Println("  -host HOST        Server host (default: 0.0.0.0)")
	fmt.Println("  -port PORT        Server port (default: 8080)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  ATLASFUSE_HOST                    Server host")
	fmt.Println("  ATLASFUSE_PORT                    Server port")
	fmt.Println("  ATLASFUSE_REQUEST_TIMEOUT         Per-request timeout (e.g., 30s)")
	fmt.Println("  ATLASFUSE_ENABLE_TLS              Enable TLS (true/false)")
	fmt.Println("  ATLASFUSE_TLS_CERT                TLS certificate file")
	fmt.Println("  ATLASFUSE_TLS_KEY                 TLS key file")
	fmt.Println("  ATLASFUSE_JWT_SECRET               HMAC secret for bearer auth")
	fmt.Println("  ATLASFUSE_ALPHA                   Fusion ridge parameter")
	fmt.Println("  ATLASFUSE_BETA                    Fusion similarity exponent")
	fmt.Println("  ATLASFUSE_USE_UNIQUE_MASK          Enable unique-label shortcut (true/false)")
	fmt.Println("  ATLASFUSE_GENERATE_WEIGHT_MAPS     Retain per-atlas weight maps (true/false)")
	fmt.Println("  ATLASFUSE_NUM_WORKERS             Fusion worker pool size")
	fmt.Println("  ATLASFUSE_MEMORY_BUDGET_BYTES      Per-run memory budget")
	fmt.Println("  ATLASFUSE_RATE_LIMIT_PER_SECOND    REST token-bucket refill rate")
	fmt.Println("  ATLASFUSE_RATE_LIMIT_BURST         REST token-bucket burst size")
	fmt.Println("  ATLASFUSE_MAX_QUEUED_JOBS          Job history ring-buffer size")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Start with default configuration")
	fmt.Println("  atlasfuse-server")
	fmt.Println()
	fmt.Println("  # Start on custom port")
	fmt.Println("  atlasfuse-server -port 9090")
	fmt.Println()
	fmt.Println("  # Start with environment variables")
	fmt.Println("  ATLASFUSE_PORT=9090 ATLASFUSE_NUM_WORKERS=8 atlasfuse-server")
	fmt.Println()
}
