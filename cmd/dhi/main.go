// Command dhi runs the verification service: the HTTP surface in pkg/api
// backed by the sandbox executor, attestation ledger, and LLM gateway.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/bhagyabanghadai/dhi/pkg/api"
	"github.com/bhagyabanghadai/dhi/pkg/artifacts"
	"github.com/bhagyabanghadai/dhi/pkg/auth"
	"github.com/bhagyabanghadai/dhi/pkg/config"
	"github.com/bhagyabanghadai/dhi/pkg/fingerprint"
	"github.com/bhagyabanghadai/dhi/pkg/ledger"
	"github.com/bhagyabanghadai/dhi/pkg/limiter"
	"github.com/bhagyabanghadai/dhi/pkg/llm"
	"github.com/bhagyabanghadai/dhi/pkg/manifest"
	"github.com/bhagyabanghadai/dhi/pkg/observability"
	"github.com/bhagyabanghadai/dhi/pkg/pipeline"
	"github.com/bhagyabanghadai/dhi/pkg/retry"
	"github.com/bhagyabanghadai/dhi/pkg/sandbox"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI dispatcher. With no subcommand it starts the server, the
// service's default mode; "health" probes a running instance's /health.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return runServer(stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "_sandbox_mount_init":
		return sandbox.RunMountInit(args, stderr)
	default:
		fmt.Fprintf(stderr, "dhi: unknown command %q (expected \"server\" or \"health\")\n", args[1])
		return 2
	}
}

func runServer(stdout, _ io.Writer) int {
	logger := slog.New(slog.NewJSONHandler(stdout, nil))
	slog.SetDefault(logger)
	ctx := context.Background()

	cfg := config.Load()
	logger.Info("starting dhi verification service", "port", cfg.Port, "mode", cfg.DefaultMode)

	dataDir := filepath.Dir(cfg.SQLitePath)
	if dataDir == "." {
		dataDir = "data"
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		logger.Error("failed to create data dir", "error", err)
		return 1
	}

	db, driver, err := ledger.Open(cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		logger.Error("failed to open ledger store", "error", err)
		return 1
	}
	lgr, err := ledger.New(db, driver)
	if err != nil {
		logger.Error("failed to initialize ledger", "error", err)
		return 1
	}
	defer func() { _ = lgr.Close() }()
	logger.Info("ledger ready", "driver", driver)

	store, err := artifacts.NewStoreFromEnv(ctx)
	if err != nil {
		logger.Error("failed to initialize artifact store", "error", err)
		return 1
	}

	signingKey, err := loadOrGenerateSigningKey(dataDir, logger)
	if err != nil {
		logger.Error("failed to initialize attestation signer", "error", err)
		return 1
	}
	signer := manifest.NewSigner(signingKey)

	sb, err := sandbox.New(cfg.DefaultMode, cfg.StrictMandated, cfg.ArtifactDir)
	if err != nil {
		logger.Error("failed to initialize sandbox", "error", err)
		return 1
	}
	defer func() { _ = sb.Close() }()

	defaultPolicy := sandbox.DefaultPolicy(cfg.ArtifactDir)
	if policies, err := config.LoadAllPolicies(cfg.ProfilesDir); err != nil {
		logger.Warn("no sandbox security profiles loaded", "dir", cfg.ProfilesDir, "error", err)
	} else if p, ok := policies["default"]; ok {
		defaultPolicy = p
	}

	envFingerprint := currentEnvironmentFingerprint()
	baseline, err := fingerprint.LoadOrInitBaseline(filepath.Join(dataDir, "baseline.json"), envFingerprint)
	if err != nil {
		logger.Error("failed to load environment baseline", "error", err)
		return 1
	}

	authSecret := os.Getenv("DHI_JWT_SECRET")
	if authSecret == "" {
		if os.Getenv("DHI_PRODUCTION") == "1" {
			logger.Error("DHI_JWT_SECRET is required when DHI_PRODUCTION=1")
			return 1
		}
		authSecret = "dev-only-insecure-secret"
		logger.Warn("DHI_JWT_SECRET not set; using an insecure development default")
	}
	validator := auth.NewValidator([]byte(authSecret))

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceName = "dhi"
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		obsCfg.OTLPEndpoint = endpoint
	} else {
		obsCfg.Enabled = false
	}
	obsProvider, err := observability.New(ctx, obsCfg)
	if err != nil {
		logger.Error("failed to initialize observability", "error", err)
		return 1
	}
	defer func() { _ = obsProvider.Shutdown(context.Background()) }()

	gate := buildLimiter(cfg, logger)

	defaultClient, err := llm.NewClientFromRequest(llm.Provider(cfg.LLMProvider), llm.RequestOverrides{})
	if err != nil {
		logger.Warn("no default LLM client configured; /orchestrate requires a per-request override", "error", err)
	}

	pl := pipeline.New(pipeline.Config{
		Sandbox:       sb,
		LLM:           defaultClient,
		FlakeOracle:   fingerprint.NewFlakeOracle(),
		Ledger:        lgr,
		ManifestStore: store,
		Signer:        signer,
		Fingerprint:   envFingerprint,
		Baseline:      baseline,
		Backoff:       retry.BackoffPolicy{BaseMs: 200, MaxMs: 5000, MaxJitterMs: 250},
	})

	srv := api.NewServer(api.Server{
		Sandbox:       sb,
		Pipeline:      pl,
		ManifestStore: store,
		Signer:        signer,
		Ledger:        lgr,
		Fingerprint:   envFingerprint,
		Baseline:      baseline,
		Validator:     validator,
		Observability: obsProvider,
		Limiter:       gate,
		DefaultPolicy: defaultPolicy,
		Version:       "0.1.0",
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}

// buildLimiter connects the distributed concurrency gate to Redis when
// REDIS_ADDR resolves to a reachable server. A nil Gate is a valid Server
// field: the HTTP surface simply admits every request unconditionally.
func buildLimiter(cfg *config.Config, logger *slog.Logger) *limiter.Gate {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable; sandbox concurrency cap disabled", "addr", cfg.RedisAddr, "error", err)
		return nil
	}
	waiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
	return limiter.New(client, "dhi:sandbox-slots", cfg.ConcurrencyCap, waiter, 30*time.Second)
}

// currentEnvironmentFingerprint derives the process's environment
// fingerprint from its own Go runtime version. The toolchain/lockfile maps
// are intentionally sparse in a single-process deployment; operators that
// need a richer fingerprint populate them from their build pipeline and
// feed a full EnvironmentFingerprint in through a future config surface.
func currentEnvironmentFingerprint() fingerprint.EnvironmentFingerprint {
	return fingerprint.EnvironmentFingerprint{
		ImageDigest:       os.Getenv("DHI_IMAGE_DIGEST"),
		ToolchainVersions: map[string]string{"go": runtime.Version()},
		LockfileHashes:    map[string]string{},
		CommandSetHash:    "default",
		EnvAllowlistHash:  "default",
	}
}

func runHealthCmd(stdout, stderr io.Writer) int {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	resp, err := http.Get(fmt.Sprintf("http://localhost:%s/health", port))
	if err != nil {
		fmt.Fprintf(stderr, "dhi: health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "dhi: health check returned status %d\n", resp.StatusCode)
		return 1
	}
	fmt.Fprintln(stdout, "dhi: ok")
	return 0
}
