// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/durationpb"
)

// Bootstrap is the root configuration for the DualLane service.
type Bootstrap struct {
	Server      *Server
	Data        *Data
	Reliability *Reliability
	Transport   *Transport
	Audit       *Audit
	Log         *Log
}

// Server holds transport server configuration.
type Server struct {
	Http *Server_HTTP
	// AdminToken guards the operator endpoints (breaker overrides, audit
	// verification). Empty disables operator authentication.
	AdminToken string
}

// Server_HTTP holds HTTP server configuration.
type Server_HTTP struct {
	Network string
	Addr    string
	Timeout *durationpb.Duration
}

// Data holds data layer configuration.
type Data struct {
	Database *Data_Database
	Redis    *Data_Redis
}

// Data_Database holds database connection configuration.
type Data_Database struct {
	Driver string
	Source string
}

// Data_Redis holds Redis connection configuration.
type Data_Redis struct {
	Network      string
	Addr         string
	ReadTimeout  *durationpb.Duration
	WriteTimeout *durationpb.Duration
}

// Reliability holds retry, circuit breaker and SLA validation configuration.
type Reliability struct {
	MaxRetries                   int32
	BaseRetryDelay               *durationpb.Duration
	MaxRetryDelay                *durationpb.Duration
	ExponentialBackoffMultiplier float64
	CircuitBreakerThreshold      int32
	CircuitBreakerTimeout        *durationpb.Duration
	HalfOpenMaxCalls             int32
	HealthCheckInterval          *durationpb.Duration
	SuccessRateTarget            float64
	PerformanceThresholds        *PerformanceThresholds
	Grades                       *GradeCutPoints
}

// PerformanceThresholds bounds the acceptable operational envelope.
type PerformanceThresholds struct {
	MaxLatency     *durationpb.Duration
	MaxErrorRate   float64
	MinSuccessRate float64
}

// GradeCutPoints maps rolling success rates onto letter grades.
// Success rate >= A yields grade A, >= B yields B, and so on; below D is F.
type GradeCutPoints struct {
	A float64
	B float64
	C float64
	D float64
}

// Transport holds per-path transport configuration.
type Transport struct {
	Direct *Transport_Direct
	Broker *Transport_Broker
}

// Transport_Direct configures the low-latency direct provider path.
type Transport_Direct struct {
	Endpoint string
	Timeout  *durationpb.Duration
	ProxyUrl string
}

// Transport_Broker configures the queue-mediated broker path.
type Transport_Broker struct {
	ReplyTimeout *durationpb.Duration
	MaxQueueSize int32
}

// Audit holds audit trail configuration.
type Audit struct {
	// IntegrityCheckEnabled disables chain verification when false.
	// This is a documented escape hatch for non-compliance environments:
	// VerifyIntegrity reports every event list as valid.
	IntegrityCheckEnabled bool
	ChannelBuffer         int32
}

// Log holds logging configuration.
type Log struct {
	Level      string
	Format     string
	OutputFile string
	Env        string
}

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with DUALLANE_.
//
// Configuration priority: CLI flags > Environment variables > Config file > Defaults
//
// Required environment variables:
//   - MYSQL_DSN or DUALLANE_DATA_DATABASE_SOURCE: MySQL connection string
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Enable environment variable support with DUALLANE_ prefix
	v.SetEnvPrefix("DUALLANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Allow direct environment variable names (without DUALLANE_ prefix) for compatibility
	_ = v.BindEnv("data.database.source", "MYSQL_DSN", "DUALLANE_DATA_DATABASE_SOURCE")
	_ = v.BindEnv("data.redis.addr", "DUALLANE_DATA_REDIS_ADDR")
	_ = v.BindEnv("transport.direct.endpoint", "DIRECT_ENDPOINT", "DUALLANE_TRANSPORT_DIRECT_ENDPOINT")
	_ = v.BindEnv("transport.direct.proxy_url", "DIRECT_PROXY_URL", "DUALLANE_TRANSPORT_DIRECT_PROXY_URL")
	_ = v.BindEnv("server.admin_token", "ADMIN_TOKEN", "DUALLANE_SERVER_ADMIN_TOKEN")

	// Load configuration file
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// If config file is specified but not found, return error
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Parse configuration into Bootstrap structure
	bc := &Bootstrap{
		Server: &Server{
			Http: &Server_HTTP{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: durationpb.New(v.GetDuration("server.http.timeout")),
			},
			AdminToken: v.GetString("server.admin_token"),
		},
		Data: &Data{
			Database: &Data_Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Data_Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				ReadTimeout:  durationpb.New(v.GetDuration("data.redis.read_timeout")),
				WriteTimeout: durationpb.New(v.GetDuration("data.redis.write_timeout")),
			},
		},
		Reliability: &Reliability{
			MaxRetries:                   v.GetInt32("reliability.max_retries"),
			BaseRetryDelay:               durationpb.New(v.GetDuration("reliability.base_retry_delay")),
			MaxRetryDelay:                durationpb.New(v.GetDuration("reliability.max_retry_delay")),
			ExponentialBackoffMultiplier: v.GetFloat64("reliability.exponential_backoff_multiplier"),
			CircuitBreakerThreshold:      v.GetInt32("reliability.circuit_breaker_threshold"),
			CircuitBreakerTimeout:        durationpb.New(v.GetDuration("reliability.circuit_breaker_timeout")),
			HalfOpenMaxCalls:             v.GetInt32("reliability.half_open_max_calls"),
			HealthCheckInterval:          durationpb.New(v.GetDuration("reliability.health_check_interval")),
			SuccessRateTarget:            v.GetFloat64("reliability.success_rate_target"),
			PerformanceThresholds: &PerformanceThresholds{
				MaxLatency:     durationpb.New(v.GetDuration("reliability.performance_thresholds.max_latency")),
				MaxErrorRate:   v.GetFloat64("reliability.performance_thresholds.max_error_rate"),
				MinSuccessRate: v.GetFloat64("reliability.performance_thresholds.min_success_rate"),
			},
			Grades: &GradeCutPoints{
				A: v.GetFloat64("reliability.grades.a"),
				B: v.GetFloat64("reliability.grades.b"),
				C: v.GetFloat64("reliability.grades.c"),
				D: v.GetFloat64("reliability.grades.d"),
			},
		},
		Transport: &Transport{
			Direct: &Transport_Direct{
				Endpoint: v.GetString("transport.direct.endpoint"),
				Timeout:  durationpb.New(v.GetDuration("transport.direct.timeout")),
				ProxyUrl: v.GetString("transport.direct.proxy_url"),
			},
			Broker: &Transport_Broker{
				ReplyTimeout: durationpb.New(v.GetDuration("transport.broker.reply_timeout")),
				MaxQueueSize: v.GetInt32("transport.broker.max_queue_size"),
			},
		},
		Audit: &Audit{
			IntegrityCheckEnabled: v.GetBool("audit.integrity_check_enabled"),
			ChannelBuffer:         v.GetInt32("audit.channel_buffer"),
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			OutputFile: v.GetString("log.output_file"),
			Env:        v.GetString("log.env"),
		},
	}

	// Validate required fields
	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 60*time.Second)

	// Data defaults
	v.SetDefault("data.database.driver", "mysql")
	// Note: data.database.source (MYSQL_DSN) is required from environment

	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.addr", "127.0.0.1:6379")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Reliability defaults
	v.SetDefault("reliability.max_retries", 3)
	v.SetDefault("reliability.base_retry_delay", 200*time.Millisecond)
	v.SetDefault("reliability.max_retry_delay", 5*time.Second)
	v.SetDefault("reliability.exponential_backoff_multiplier", 2.0)
	v.SetDefault("reliability.circuit_breaker_threshold", 5)
	v.SetDefault("reliability.circuit_breaker_timeout", 30*time.Second)
	v.SetDefault("reliability.half_open_max_calls", 2)
	v.SetDefault("reliability.health_check_interval", 30*time.Second)
	v.SetDefault("reliability.success_rate_target", 0.99)
	v.SetDefault("reliability.performance_thresholds.max_latency", 2*time.Second)
	v.SetDefault("reliability.performance_thresholds.max_error_rate", 0.01)
	v.SetDefault("reliability.performance_thresholds.min_success_rate", 0.99)
	v.SetDefault("reliability.grades.a", 0.995)
	v.SetDefault("reliability.grades.b", 0.99)
	v.SetDefault("reliability.grades.c", 0.97)
	v.SetDefault("reliability.grades.d", 0.90)

	// Transport defaults
	v.SetDefault("transport.direct.endpoint", "http://127.0.0.1:9100/v1/operations")
	v.SetDefault("transport.direct.timeout", 15*time.Second)
	v.SetDefault("transport.broker.reply_timeout", 30*time.Second)
	v.SetDefault("transport.broker.max_queue_size", 1000)

	// Audit defaults
	v.SetDefault("audit.integrity_check_enabled", true)
	v.SetDefault("audit.channel_buffer", 1000)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that all required configuration fields are present and valid.
// It returns an error listing all missing or invalid fields.
func Validate(bc *Bootstrap) error {
	var missingFields []string

	// Check required database configuration
	if bc.Data == nil || bc.Data.Database == nil || bc.Data.Database.Source == "" {
		missingFields = append(missingFields, "data.database.source (MYSQL_DSN)")
	}

	// Check required direct transport configuration
	if bc.Transport == nil || bc.Transport.Direct == nil || bc.Transport.Direct.Endpoint == "" {
		missingFields = append(missingFields, "transport.direct.endpoint (DIRECT_ENDPOINT)")
	}

	if len(missingFields) > 0 {
		return fmt.Errorf("missing required configuration fields: %s", strings.Join(missingFields, ", "))
	}

	if bc.Reliability != nil {
		if bc.Reliability.ExponentialBackoffMultiplier < 1.0 {
			return fmt.Errorf("reliability.exponential_backoff_multiplier must be >= 1.0, got %v",
				bc.Reliability.ExponentialBackoffMultiplier)
		}
		if bc.Reliability.SuccessRateTarget <= 0 || bc.Reliability.SuccessRateTarget > 1 {
			return fmt.Errorf("reliability.success_rate_target must be in (0, 1], got %v",
				bc.Reliability.SuccessRateTarget)
		}
	}

	return nil
}
