// Package config holds the service's externally tunable settings: the
// fusion engine's numeric defaults and the REST control plane's listener,
// auth, and rate-limit settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/arjunrao/atlasfuse/pkg/fusion"
)

// Config holds all process configuration.
type Config struct {
	Server ServerConfig
	Fusion FusionConfig
	Limits LimitsConfig
}

// ServerConfig holds the REST control plane's listener configuration.
type ServerConfig struct {
	Host            string        // Server host (default: "0.0.0.0")
	Port            int           // Server port (default: 8080)
	RequestTimeout  time.Duration // Per-request timeout
	ShutdownTimeout time.Duration // Graceful shutdown timeout
	EnableTLS       bool          // Enable TLS
	CertFile        string        // TLS certificate file
	KeyFile         string        // TLS key file
	JWTSecret       string        // HMAC secret for bearer token verification
}

// FusionConfig mirrors fusion.Config's fields so they can be overridden
// from the environment without the fusion package itself knowing about
// configuration sources (spec §1 keeps the engine free of I/O).
type FusionConfig struct {
	PatchRadius             [3]int
	SearchRadius            [3]int
	Alpha                   float64
	Beta                    float64
	PenalizeAnticorrelation bool
	GenerateWeightMaps      bool
	RetainPosteriors        bool
	UseUniqueMask           bool
	MemoryBudgetBytes       int64
	NumWorkers              int
}

// ToFusionConfig converts to the engine's own Config type.
func (f FusionConfig) ToFusionConfig() fusion.Config {
	return fusion.Config{
		PatchRadius:             f.PatchRadius,
		SearchRadius:            f.SearchRadius,
		Alpha:                   f.Alpha,
		Beta:                    f.Beta,
		PenalizeAnticorrelation: f.PenalizeAnticorrelation,
		GenerateWeightMaps:      f.GenerateWeightMaps,
		RetainPosteriors:        f.RetainPosteriors,
		UseUniqueMask:           f.UseUniqueMask,
		MemoryBudgetBytes:       f.MemoryBudgetBytes,
		NumWorkers:              f.NumWorkers,
	}
}

// LimitsConfig bounds the REST control plane's request rate and the number
// of completed jobs it keeps, independent of the fusion engine's own
// resource budget.
type LimitsConfig struct {
	RateLimitPerSecond float64 // token-bucket refill rate
	RateLimitBurst     int     // token-bucket burst capacity
	MaxQueuedJobs      int     // capacity of the job-history ring buffer; oldest results are evicted
}

// Default returns default configuration.
func Default() *Config {
	fc := fusion.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			EnableTLS:       false,
		},
		Fusion: FusionConfig{
			PatchRadius:             fc.PatchRadius,
			SearchRadius:            fc.SearchRadius,
			Alpha:                   fc.Alpha,
			Beta:                    fc.Beta,
			PenalizeAnticorrelation: fc.PenalizeAnticorrelation,
			GenerateWeightMaps:      fc.GenerateWeightMaps,
			RetainPosteriors:        fc.RetainPosteriors,
			UseUniqueMask:           fc.UseUniqueMask,
			MemoryBudgetBytes:       0,
			NumWorkers:              0,
		},
		Limits: LimitsConfig{
			RateLimitPerSecond: 5,
			RateLimitBurst:     10,
			MaxQueuedJobs:      64,
		},
	}
}

// LoadFromEnv loads configuration from environment variables, starting
// from Default() and overriding whatever ATLASFUSE_* variables are set.
func LoadFromEnv() *Config {
	cfg := Default()

	// Server configuration
	if host := os.Getenv("ATLASFUSE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("ATLASFUSE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if timeout := os.Getenv("ATLASFUSE_REQUEST_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			cfg.Server.RequestTimeout = t
		}
	}
	if enableTLS := os.Getenv("ATLASFUSE_ENABLE_TLS"); enableTLS == "true" {
		cfg.Server.EnableTLS = true
		cfg.Server.CertFile = os.Getenv("ATLASFUSE_TLS_CERT")
		cfg.Server.KeyFile = os.Getenv("ATLASFUSE_TLS_KEY")
	}
	if secret := os.Getenv("ATLASFUSE_JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}

	// Fusion configuration
	if alpha := os.Getenv("ATLASFUSE_ALPHA"); alpha != "" {
		if a, err := strconv.ParseFloat(alpha, 64); err == nil {
			cfg.Fusion.Alpha = a
		}
	}
	if beta := os.Getenv("ATLASFUSE_BETA"); beta != "" {
		if b, err := strconv.ParseFloat(beta, 64); err == nil {
			cfg.Fusion.Beta = b
		}
	}
	if anticorr := os.Getenv("ATLASFUSE_PENALIZE_ANTICORRELATION"); anticorr == "false" {
		cfg.Fusion.PenalizeAnticorrelation = false
	}
	if uniqueMask := os.Getenv("ATLASFUSE_USE_UNIQUE_MASK"); uniqueMask == "false" {
		cfg.Fusion.UseUniqueMask = false
	}
	if weightMaps := os.Getenv("ATLASFUSE_GENERATE_WEIGHT_MAPS"); weightMaps == "true" {
		cfg.Fusion.GenerateWeightMaps = true
	}
	if workers := os.Getenv("ATLASFUSE_NUM_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			cfg.Fusion.NumWorkers = w
		}
	}
	if budget := os.Getenv("ATLASFUSE_MEMORY_BUDGET_BYTES"); budget != "" {
		if b, err := strconv.ParseInt(budget, 10, 64); err == nil {
			cfg.Fusion.MemoryBudgetBytes = b
		}
	}

	// Limits configuration
	if rate := os.Getenv("ATLASFUSE_RATE_LIMIT_PER_SECOND"); rate != "" {
		if r, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.Limits.RateLimitPerSecond = r
		}
	}
	if burst := os.Getenv("ATLASFUSE_RATE_LIMIT_BURST"); burst != "" {
		if b, err := strconv.Atoi(burst); err == nil {
			cfg.Limits.RateLimitBurst = b
		}
	}
	if maxQueued := os.Getenv("ATLASFUSE_MAX_QUEUED_JOBS"); maxQueued != "" {
		if m, err := strconv.Atoi(maxQueued); err == nil {
			cfg.Limits.MaxQueuedJobs = m
		}
	}

	return cfg
}

// Validate checks the server and limits configuration, then delegates the
// fusion parameters to fusion.Config.Validate so there is exactly one
// place that knows what a valid patch radius or alpha is.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.EnableTLS {
		if c.Server.CertFile == "" || c.Server.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert or key file not specified")
		}
	}
	if c.Limits.RateLimitPerSecond <= 0 {
		return fmt.Errorf("invalid rate limit: %v (must be > 0)", c.Limits.RateLimitPerSecond)
	}
	if c.Limits.RateLimitBurst < 1 {
		return fmt.Errorf("invalid rate limit burst: %d (must be > 0)", c.Limits.RateLimitBurst)
	}
	if c.Limits.MaxQueuedJobs < 1 {
		return fmt.Errorf("invalid max queued jobs: %d (must be > 0)", c.Limits.MaxQueuedJobs)
	}
	if err := c.Fusion.ToFusionConfig().Validate(); err != nil {
		return fmt.Errorf("fusion config: %w", err)
	}
	return nil
}

// Address returns the server address (host:port).
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
