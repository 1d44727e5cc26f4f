// Package config reads the environment-variable configuration surface. Env
// is read-only from the process; an optional dotenv load is the launcher's
// job (cmd/*), never this package's.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Mode selects the dispatch mode.
type Mode string

const (
	ModeTools   Mode = "tools"
	ModeCodeAPI Mode = "code-api"
)

// SandboxMode selects how Code-API mode executes agent-authored pipelines.
type SandboxMode string

const (
	SandboxModeSandbox SandboxMode = "sandbox"
	SandboxModeDirect  SandboxMode = "direct"
)

// Config holds every recognized option. Constructed once in main and
// threaded through handlers — no package-level globals.
type Config struct {
	Mode              Mode
	SandboxMode       SandboxMode
	Framing           string
	LogLevel          string
	DatabaseURL       string
	ServiceRoleToken  string
	ProjectRef        string
	DashboardToken    string

	CacheEnabled      bool
	CacheExternalURL  string
	CacheTTLDefault   time.Duration
	CacheMaxEntries   int

	RateLimitEnabled bool
	RateLimitTier    string
	RateLimitMaxWait time.Duration

	MigrationsDir string

	NotifyChannel string

	IOSProjectPath     string
	IOSScheme          string
	IOSBasePort        int
	IOSStartupTimeout  time.Duration
	IOSSessionTimeout  time.Duration
	IOSDefaultBundle   string
	IOSInspectorDiscoveryURL string

	StreamBatchSize int
	SandboxFSRoot   string
	SandboxWallClock time.Duration
	SandboxMemoryBudgetBytes int64

	AuditCapacity      int
	AuditSignerKey     string
	AuditMirrorPath    string
	AuditWebhookURL    string
}

// Load builds a Config from the process environment, applying defaults
// where an option is absent.
func Load() Config {
	return Config{
		Mode:             Mode(getenv("MCP_MODE", string(ModeTools))),
		SandboxMode:      SandboxMode(getenv("CODE_EXECUTION_MODE", string(SandboxModeSandbox))),
		Framing:          getenv("MCP_FRAMING", "line"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ServiceRoleToken: os.Getenv("SERVICE_ROLE_TOKEN"),
		ProjectRef:       os.Getenv("PROJECT_REF"),
		DashboardToken:   os.Getenv("DASHBOARD_TOKEN"),

		CacheEnabled:     getenvBool("CACHE_ENABLED", true),
		CacheExternalURL: os.Getenv("CACHE_EXTERNAL_URL"),
		CacheTTLDefault:  getenvDuration("CACHE_TTL_DEFAULT", 60*time.Second),
		CacheMaxEntries:  getenvInt("CACHE_MAX_ENTRIES", 10_000),

		RateLimitEnabled: getenvBool("RATE_LIMIT_ENABLED", true),
		RateLimitTier:    getenv("RATE_LIMIT_DEFAULT_TIER", "standard"),
		RateLimitMaxWait: getenvDuration("RATE_LIMIT_MAX_WAIT", 2*time.Second),

		MigrationsDir: getenv("MIGRATIONS_DIR", "./migrations"),

		NotifyChannel: getenv("NOTIFY_CHANNEL", "mcpcore_events"),

		IOSProjectPath:    os.Getenv("IOS_RUNNER_PROJECT_PATH"),
		IOSScheme:         os.Getenv("IOS_RUNNER_SCHEME"),
		IOSBasePort:       getenvInt("IOS_RUNNER_BASE_PORT", 9100),
		IOSStartupTimeout: getenvDuration("IOS_RUNNER_STARTUP_TIMEOUT", 30*time.Second),
		IOSSessionTimeout: getenvDuration("IOS_SESSION_TIMEOUT", 5*time.Minute),
		IOSDefaultBundle:  os.Getenv("IOS_DEFAULT_BUNDLE_ID"),
		IOSInspectorDiscoveryURL: getenv("IOS_INSPECTOR_DISCOVERY_URL", "http://127.0.0.1:9221/json/list"),

		StreamBatchSize:          getenvInt("STREAM_BATCH_SIZE", 1000),
		SandboxFSRoot:            getenv("SANDBOX_FS_ROOT", "./sandbox-scratch"),
		SandboxWallClock:         getenvDuration("SANDBOX_WALL_CLOCK_LIMIT", 30*time.Second),
		SandboxMemoryBudgetBytes: int64(getenvInt("SANDBOX_MEMORY_BUDGET_BYTES", 64<<20)),

		AuditCapacity:   getenvInt("AUDIT_CAPACITY", 10_000),
		AuditSignerKey:  os.Getenv("AUDIT_SIGNER_KEY"),
		AuditMirrorPath: os.Getenv("AUDIT_MIRROR_PATH"),
		AuditWebhookURL: os.Getenv("AUDIT_WEBHOOK_URL"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// IntegrationTokenEnabled reports whether an upstream integration token is
// configured; absence disables the corresponding tools at registration
// time.
func IntegrationTokenEnabled(name string) bool {
	return strings.TrimSpace(os.Getenv(strings.ToUpper(name)+"_TOKEN")) != ""
}
