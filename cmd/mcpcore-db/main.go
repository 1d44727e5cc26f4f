// Command mcpcore-db runs the database MCP server: JSON-RPC over stdio,
// dispatching db_* tools against a pooled connection manager, query
// executor, policy engine, audit log and subscription hub.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pulsegrid/mcpcore/internal/audit"
	"github.com/pulsegrid/mcpcore/internal/cache"
	"github.com/pulsegrid/mcpcore/internal/codeapi"
	"github.com/pulsegrid/mcpcore/internal/config"
	"github.com/pulsegrid/mcpcore/internal/dbpool"
	"github.com/pulsegrid/mcpcore/internal/dbtools"
	"github.com/pulsegrid/mcpcore/internal/envwatch"
	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
	"github.com/pulsegrid/mcpcore/internal/metrics"
	"github.com/pulsegrid/mcpcore/internal/policy"
	"github.com/pulsegrid/mcpcore/internal/query"
	"github.com/pulsegrid/mcpcore/internal/ratelimit"
	"github.com/pulsegrid/mcpcore/internal/registry"
	"github.com/pulsegrid/mcpcore/internal/rpc"
	"github.com/pulsegrid/mcpcore/internal/rpcmw"
	"github.com/pulsegrid/mcpcore/internal/sandbox"
	"github.com/pulsegrid/mcpcore/internal/subscription"
	"github.com/pulsegrid/mcpcore/internal/subscription/wsfeed"
	"github.com/pulsegrid/mcpcore/internal/tenant"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "mcpcore-db",
	Short:   "mcpcore-db - JSON-RPC MCP server for pooled database access",
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcpcore-db %s\n", Version)
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

	log.Info().Str("mode", string(cfg.Mode)).Msg("starting mcpcore-db")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manager := dbpool.NewManager()
	defer manager.Shutdown()

	if cfg.DatabaseURL != "" {
		if err := manager.AddConnection(ctx, "default", cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("failed to add default connection")
		}
		if err := manager.SwitchConnection("default"); err != nil {
			log.Fatal().Err(err).Msg("failed to activate default connection")
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set; start with db_connection_add before issuing queries")
	}

	health := dbpool.NewHealthMonitor(manager, 15*time.Second)
	go health.Run(ctx)
	defer health.Stop()

	var queryCache *cache.Cache
	if cfg.CacheEnabled {
		c, err := cache.New(cache.Config{MaxEntries: cfg.CacheMaxEntries, DefaultTTL: cfg.CacheTTLDefault})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build query cache")
		}
		queryCache = c
	}
	executor := query.NewExecutor(queryCache)

	auditLog := audit.NewLogger(cfg.AuditCapacity)
	if cfg.AuditSignerKey != "" {
		auditLog = auditLog.WithSigner([]byte(cfg.AuditSignerKey))
	}
	if cfg.AuditMirrorPath != "" {
		if mirror, err := audit.NewSQLiteMirror(cfg.AuditMirrorPath); err != nil {
			log.Warn().Err(err).Msg("failed to open audit sqlite mirror")
		} else {
			auditLog = auditLog.WithMirror(mirror)
		}
	}
	if cfg.AuditWebhookURL != "" {
		auditLog = auditLog.WithSink(audit.NewWebhookSink(cfg.AuditWebhookURL, 5*time.Second))
	}
	hub := subscription.NewHub(30 * time.Second)
	if cfg.DatabaseURL != "" {
		if conn, err := manager.Active(); err == nil {
			listener := subscription.NewListenNotifyListener(conn.Pool(), cfg.NotifyChannel)
			go func() {
				if err := listener.Run(ctx, hub.Publish); err != nil {
					log.Warn().Err(err).Msg("listen/notify listener stopped")
				}
			}()
		}
	}

	policyEngine := policy.New(policy.DefaultRules(), nil, nil, 2*time.Minute)
	defer policyEngine.Shutdown()

	tenants := tenant.NewRegistry()
	tenants.Upsert(tenant.Tenant{ID: "default", Tier: tenant.TierStandard})
	limiter := ratelimit.New(tenant.DefaultPolicies(), ratelimit.Policy{RequestsPerSecond: 5, Burst: 10, Concurrency: 2, MaxWait: cfg.RateLimitMaxWait})

	metricsReg := metrics.New()
	go metricsReg.Serve(ctx, ":9090")

	feed := wsfeed.New(hub)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/subscriptions", dashboardAuth(cfg.DashboardToken, feed))
		srv := &http.Server{Addr: ":9092", Handler: mux}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("subscription feed listener stopped")
		}
	}()

	reg := registry.New()
	defer reg.Close()

	skills := sandbox.NewRegistry()
	for name, s := range sandbox.DefaultSkills() {
		skills.Register(name, s)
	}

	if cfg.Mode == config.ModeCodeAPI {
		if err := codeapi.Register(reg, codeapi.Deps{
			Manager:        manager,
			Executor:       executor,
			Skills:         skills,
			ScratchRoot:    cfg.SandboxFSRoot,
			SandboxMode:    cfg.SandboxMode,
			WallClockLimit: cfg.SandboxWallClock,
			MemoryBudget:   cfg.SandboxMemoryBudgetBytes,
			AcquireTimeout: 10 * time.Second,
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to register code_execute tool")
		}
	} else {
		if err := dbtools.Register(reg, dbtools.Deps{
			Manager:        manager,
			Executor:       executor,
			Policy:         policyEngine,
			Audit:          auditLog,
			Hub:            hub,
			Tenants:        tenants,
			MigrationsDir:  cfg.MigrationsDir,
			StreamBatchSize: cfg.StreamBatchSize,
			AcquireTimeout: 10 * time.Second,
			ConfirmTTL:     2 * time.Minute,
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to register db_* tools")
		}
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
		rpc.ServerInfo{Name: "mcpcore-db", Version: Version},
		middlewares...,
	)

	if err := dispatcher.Serve(ctx); err != nil {
		if mcpErr := mcperrors.As(err); mcpErr != nil {
			log.Error().Err(err).Str("code", string(mcpErr.Code)).Msg("dispatcher stopped")
		} else {
			log.Error().Err(err).Msg("dispatcher stopped")
		}
	}

	log.Info().Msg("mcpcore-db stopped")
}

// dashboardAuth requires "Bearer <token>" on every request when token is
// non-empty, gating the dashboard-facing subscription feed the same way
// config.IntegrationTokenEnabled gates upstream-integration tools: absence
// of the token disables the check rather than the feed.
func dashboardAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
