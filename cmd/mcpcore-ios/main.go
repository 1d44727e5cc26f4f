// Command mcpcore-ios runs the iOS automation MCP server: JSON-RPC over
// stdio, dispatching ios_* tools against simulator discovery, a
// per-device test-runner subprocess supervisor, and a WebKit inspector
// WebSocket proxy.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsegrid/mcpcore/internal/audit"
	"github.com/pulsegrid/mcpcore/internal/config"
	"github.com/pulsegrid/mcpcore/internal/envwatch"
	"github.com/pulsegrid/mcpcore/internal/iosauto"
	"github.com/pulsegrid/mcpcore/internal/iosauto/inspector"
	"github.com/pulsegrid/mcpcore/internal/iosauto/runner"
	"github.com/pulsegrid/mcpcore/internal/iostools"
	"github.com/pulsegrid/mcpcore/internal/metrics"
	"github.com/pulsegrid/mcpcore/internal/policy"
	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/rpc"
	"github.com/pulsegrid/mcpcore/internal/rpcmw"
	"github.com/pulsegrid/mcpcore/internal/tenant"
	"github.com/pulsegrid/mcpcore/internal/ratelimit"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "mcpcore-ios",
	Short:   "mcpcore-ios - JSON-RPC MCP server for iOS simulator automation",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcpcore-ios %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	envwatch.Load(".env")
	envWatcher, err := envwatch.NewWatcher(".env")
	if err != nil {
		log.Warn().Err(err).Msg("failed to start .env watcher")
	}
	defer envWatcher.Stop()

	cfg := config.Load()
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	log.Info().Msg("starting mcpcore-ios")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runnerCfg := runner.Config{
		ProjectPath:    cfg.IOSProjectPath,
		Scheme:         cfg.IOSScheme,
		BasePort:       cfg.IOSBasePort,
		StartupTimeout: cfg.IOSStartupTimeout,
		Command:        xcodebuildTestRunnerCommand(cfg),
		HealthURL:      runner.StatusURL,
	}
	runners := runner.NewManager(runnerCfg)

	client := iosauto.NewRunnerClient(runners, 10*time.Second)
	sessions := iosauto.NewSessionManager(client, func() string { return uuid.New().String() })
	go sessions.RunReaper(ctx, 30*time.Second, cfg.IOSSessionTimeout)
	inspectorProxy := inspector.NewProxy(inspector.HTTPDiscovery(cfg.IOSInspectorDiscoveryURL))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/json/list", inspectorProxy)
		srv := &http.Server{Addr: ":9221", Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("inspector discovery listener stopped")
		}
	}()

	auditLog := audit.NewLogger(cfg.AuditCapacity)
	policyEngine := policy.New(policy.DefaultRules(), nil, nil, 2*time.Minute)
	defer policyEngine.Shutdown()

	tenants := tenant.NewRegistry()
	tenants.Upsert(tenant.Tenant{ID: "default", Tier: tenant.TierStandard})
	limiter := ratelimit.New(tenant.DefaultPolicies(), ratelimit.Policy{RequestsPerSecond: 5, Burst: 10, Concurrency: 2, MaxWait: cfg.RateLimitMaxWait})
	metricsReg := metrics.New()
	go metricsReg.Serve(ctx, ":9091")

	reg := registry.New()
	defer reg.Close()

	if err := iostools.Register(reg, iostools.Deps{
		Runners:          runners,
		Client:           client,
		Sessions:         sessions,
		Inspector:        inspectorProxy,
		Policy:           policyEngine,
		Audit:            auditLog,
		BootTimeout:      cfg.IOSStartupTimeout,
		BootPollEvery:    500 * time.Millisecond,
		InspectorTimeout: 10 * time.Second,
		DefaultBundleID:  cfg.IOSDefaultBundle,
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to register ios_* tools")
	}

	middlewares := []rpc.Middleware{}
	if cfg.RateLimitEnabled {
		middlewares = append(middlewares, rpcmw.RateLimit(limiter, tenants, metricsReg, cfg.RateLimitTier))
	}
	middlewares = append(middlewares, rpcmw.TenantGate(tenants), rpcmw.Metrics(metricsReg))

	transport := rpc.NewTransportWithFraming(os.Stdin, os.Stdout, rpc.Framing(cfg.Framing))
	dispatcher := rpc.NewDispatcher(
		transport,
		reg,
		rpc.ServerInfo{Name: "mcpcore-ios", Version: Version},
		middlewares...,
	)

	if err := dispatcher.Serve(ctx); err != nil {
		log.Error().Err(err).Msg("dispatcher stopped")
	}

	log.Info().Msg("mcpcore-ios stopped")
}

// xcodebuildTestRunnerCommand builds the Command func runner.Manager uses
// to launch one XCTest runner subprocess per device, passing the bind
// port and target device UDID the same way `xcodebuild test-without-building`
// accepts -destination and environment overrides.
func xcodebuildTestRunnerCommand(cfg config.Config) func(port int, deviceUDID string) *exec.Cmd {
	return func(port int, deviceUDID string) *exec.Cmd {
		cmd := exec.Command("xcodebuild",
			"test-without-building",
			"-project", cfg.IOSProjectPath,
			"-scheme", cfg.IOSScheme,
			"-destination", fmt.Sprintf("platform=iOS Simulator,id=%s", deviceUDID),
		)
		cmd.Env = append(os.Environ(),
			"MCPCORE_RUNNER_PORT="+strconv.Itoa(port),
			"MCPCORE_RUNNER_UDID="+deviceUDID,
		)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		return cmd
	}
}
