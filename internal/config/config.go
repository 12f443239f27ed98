package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Sessions
	JWTSecret      string        // HMAC secret for session tokens
	AccessTokenTTL time.Duration // lifetime of one signed token (default: 15m)
	SessionTTL     time.Duration // lifetime of the server-side session (default: 720h)

	// Gate
	ProtectedPrefixes []string // path prefixes requiring a session (default: /dashboard)
	PublicPaths       []string // exact paths bounced to the dashboard when a session exists (default: /)

	// Collections
	SyncIdleTTL  time.Duration // dispose a synchronizer untouched for this long (default: 30m)
	ReapInterval time.Duration // how often idle synchronizers are collected (default: 5m)

	// Seed import
	SeedFile string // path to the seed yaml file (optional, empty = seeding disabled)

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict ops endpoints to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("MARQD_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("MARQD_SHUTDOWN_TIMEOUT", 5*time.Second),

		// Logging
		LogLevel:  getenv("MARQD_LOG_LEVEL", "info"),
		PrettyLog: mustBool("MARQD_PRETTY_LOG", true),

		// Sessions
		JWTSecret:      requireEnv("MARQD_JWT_SECRET"),
		AccessTokenTTL: mustDuration("MARQD_ACCESS_TOKEN_TTL", 15*time.Minute),
		SessionTTL:     mustDuration("MARQD_SESSION_TTL", 720*time.Hour),

		// Gate
		ProtectedPrefixes: getenvSlice("MARQD_PROTECTED_PREFIXES", []string{"/dashboard"}),
		PublicPaths:       getenvSlice("MARQD_PUBLIC_PATHS", []string{"/"}),

		// Collections
		SyncIdleTTL:  mustDuration("MARQD_SYNC_IDLE_TTL", 30*time.Minute),
		ReapInterval: mustDuration("MARQD_REAP_INTERVAL", 5*time.Minute),

		// Seed import
		SeedFile: getenv("MARQD_SEED_FILE", ""), // Optional, empty = seeding disabled

		// Redis settings
		RedisAddr:             requireEnv("MARQD_REDIS_ADDR"),
		RedisUser:             getenv("MARQD_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("MARQD_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("MARQD_REDIS_PASSWORD", ""),
		RedisDB:               requireEnvInt("MARQD_REDIS_DB"),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: getenvSlice("MARQD_ALLOWED_HOSTS", nil),
		AllowedCIDRS: parseAllowedIPs(getenv("MARQD_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("MARQD_TRUST_PROXY", true),
	}

	// Validate Redis password configuration
	if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: MARQD_REDIS_PASSWORD is required when MARQD_REDIS_PASSWORD_REQUIRED=true")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		cfgCopy.JWTSecret = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func requireEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func getenvSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		return splitAndTrim(v)
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
