// Package config loads the gateway's runtime configuration from the
// environment, with every integer knob bounds-checked at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the gateway's full runtime configuration.
type Config struct {
	// Server
	GatewayPort int
	AdminPort   int
	OCPPBasePath string
	NodeID      string

	// Session directory
	SessionTTL        time.Duration
	SessionStaleAfter time.Duration
	NodeTTL           time.Duration
	NodeHeartbeat     time.Duration

	// Command pipeline
	CommandIdempotencyTTL time.Duration
	CommandAuditTTL       time.Duration
	CommandDefaultTimeout time.Duration

	// Response cache
	ResponseCacheTTL time.Duration

	// Connection manager
	MaxPayloadBytes       int
	PendingMessageLimit   int

	// Rate limiting
	RateLimitWindow         time.Duration
	RateLimitMaxPerCharger  int64
	RateLimitMaxGlobal      int64
	FloodLogCooldown        time.Duration

	// Schema engine
	SchemaStrictMode                    bool
	SchemaAdditionalPropertiesAllowlist []string

	// Auth
	AuthRequireExplicitProtocolList bool
	AuthAllowedModes                []string
	AuthTrustedProxy                bool

	// Circuit breaker
	CircuitBreakerFailureThreshold int
	CircuitBreakerCooldown         time.Duration
	CircuitBreakerSuccessThreshold int

	// Audit
	OCPPAuditLogEnabled bool

	// Backends
	KVBackend  string
	RedisAddr  string
	BusBackend string

	LogLevel string

	// Postgres (only consulted when the audit sink is enabled)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
}

// LoadConfig loads configuration from environment variables, applying
// the teacher's getEnv-with-fallback pattern plus bounds validation.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	gatewayPort, err := getEnvInt("GATEWAY_PORT", 8887, 1, 65535)
	if err != nil {
		return nil, err
	}
	adminPort, err := getEnvInt("ADMIN_PORT", 8888, 1, 65535)
	if err != nil {
		return nil, err
	}

	sessionTTL, err := getEnvSeconds("SESSION_TTL_SECONDS", 300, 1, 86400)
	if err != nil {
		return nil, err
	}
	sessionStale, err := getEnvSeconds("SESSION_STALE_SECONDS", 90, 1, 86400)
	if err != nil {
		return nil, err
	}
	nodeTTL, err := getEnvSeconds("NODE_TTL_SECONDS", 120, 1, 86400)
	if err != nil {
		return nil, err
	}
	nodeHeartbeat, err := getEnvSeconds("NODE_HEARTBEAT_SECONDS", 30, 1, 86400)
	if err != nil {
		return nil, err
	}

	idemTTL, err := getEnvSeconds("COMMAND_IDEMPOTENCY_TTL_SECONDS", 86400, 1, 30*86400)
	if err != nil {
		return nil, err
	}
	auditTTL, err := getEnvSeconds("COMMAND_AUDIT_TTL_SECONDS", 86400, 1, 30*86400)
	if err != nil {
		return nil, err
	}
	cmdTimeout, err := getEnvSeconds("COMMAND_DEFAULT_TIMEOUT_SECONDS", 15, 1, 600)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := getEnvSeconds("RESPONSE_CACHE_TTL_SECONDS", 300, 0, 86400)
	if err != nil {
		return nil, err
	}

	maxPayload, err := getEnvInt("OCPP_MAX_PAYLOAD_BYTES", 256*1024, 1024, 16*1024*1024)
	if err != nil {
		return nil, err
	}
	pendingLimit, err := getEnvInt("OCPP_PENDING_MESSAGE_LIMIT", 32, 1, 10000)
	if err != nil {
		return nil, err
	}

	rlWindow, err := getEnvSeconds("RATE_LIMIT_WINDOW_SECONDS", 60, 1, 3600)
	if err != nil {
		return nil, err
	}
	rlPerCharger, err := getEnvInt64("RATE_LIMIT_MAX_PER_CHARGER", 120, 1, 1_000_000)
	if err != nil {
		return nil, err
	}
	rlGlobal, err := getEnvInt64("RATE_LIMIT_MAX_GLOBAL", 20000, 1, 100_000_000)
	if err != nil {
		return nil, err
	}
	floodCooldown, err := getEnvSeconds("FLOOD_LOG_COOLDOWN_SECONDS", 300, 1, 86400)
	if err != nil {
		return nil, err
	}

	breakerThreshold, err := getEnvInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5, 1, 1000)
	if err != nil {
		return nil, err
	}
	breakerCooldown, err := getEnvSeconds("CIRCUIT_BREAKER_COOLDOWN_SECONDS", 30, 1, 3600)
	if err != nil {
		return nil, err
	}
	breakerSuccess, err := getEnvInt("CIRCUIT_BREAKER_SUCCESS_THRESHOLD", 3, 1, 1000)
	if err != nil {
		return nil, err
	}

	dbPort, err := getEnvInt("DB_PORT", 5432, 1, 65535)
	if err != nil {
		return nil, err
	}

	nodeID := getEnv("NODE_ID", "")
	if nodeID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "node-unknown"
		}
		nodeID = hostname
	}

	return &Config{
		GatewayPort:  gatewayPort,
		AdminPort:    adminPort,
		OCPPBasePath: getEnv("OCPP_BASE_PATH", "/ocpp"),
		NodeID:       nodeID,

		SessionTTL:        sessionTTL,
		SessionStaleAfter: sessionStale,
		NodeTTL:           nodeTTL,
		NodeHeartbeat:     nodeHeartbeat,

		CommandIdempotencyTTL: idemTTL,
		CommandAuditTTL:       auditTTL,
		CommandDefaultTimeout: cmdTimeout,

		ResponseCacheTTL: cacheTTL,

		MaxPayloadBytes:     maxPayload,
		PendingMessageLimit: pendingLimit,

		RateLimitWindow:        rlWindow,
		RateLimitMaxPerCharger: rlPerCharger,
		RateLimitMaxGlobal:     rlGlobal,
		FloodLogCooldown:       floodCooldown,

		SchemaStrictMode:                    getEnvBool("SCHEMA_STRICT_MODE", true),
		SchemaAdditionalPropertiesAllowlist: getEnvList("SCHEMA_ADDITIONAL_PROPERTIES_ALLOWLIST", []string{"DataTransfer"}),

		AuthRequireExplicitProtocolList: getEnvBool("AUTH_REQUIRE_EXPLICIT_PROTOCOL_LIST", false),
		AuthAllowedModes:                getEnvList("AUTH_ALLOWED_MODES", []string{"basic", "token", "mtls"}),
		AuthTrustedProxy:                getEnvBool("AUTH_TRUSTED_PROXY", false),

		CircuitBreakerFailureThreshold: breakerThreshold,
		CircuitBreakerCooldown:         breakerCooldown,
		CircuitBreakerSuccessThreshold: breakerSuccess,

		OCPPAuditLogEnabled: getEnvBool("OCPP_AUDIT_LOG_ENABLED", false),

		KVBackend:  getEnv("KV_BACKEND", "memory"),
		RedisAddr:  getEnv("REDIS_ADDR", "localhost:6379"),
		BusBackend: getEnv("BUS_BACKEND", "memory"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     dbPort,
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "ocpp_gateway"),
		DBSSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}, nil
}

// GetDSN returns the PostgreSQL connection string for the optional audit sink.
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger configures the global logrus logger.
func (c *Config) SetupLogger() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvInt(key string, fallback, min, max int) (int, error) {
	raw := getEnv(key, strconv.Itoa(fallback))
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s=%d out of bounds [%d,%d]", key, v, min, max)
	}
	return v, nil
}

func getEnvInt64(key string, fallback, min, max int64) (int64, error) {
	raw := getEnv(key, strconv.FormatInt(fallback, 10))
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", key, err)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("%s=%d out of bounds [%d,%d]", key, v, min, max)
	}
	return v, nil
}

func getEnvSeconds(key string, fallbackSeconds, minSeconds, maxSeconds int) (time.Duration, error) {
	v, err := getEnvInt(key, fallbackSeconds, minSeconds, maxSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}
