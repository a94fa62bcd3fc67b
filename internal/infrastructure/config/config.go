package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the settings of the API server, the dispatch worker and the
// migrate tool. Keys are snake_case in config.toml and LEADFLOW_SECTION_KEY
// in the environment.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	RabbitMQ     RabbitMQConfig     `mapstructure:"rabbitmq"`
	Log          LogConfig          `mapstructure:"log"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	HTTPClient   HTTPClientConfig   `mapstructure:"http_client"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Notification NotificationConfig `mapstructure:"notification"`
	Locale       LocaleConfig       `mapstructure:"locale"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	// Integrations holds per channel type overrides keyed by type code
	Integrations map[string]IntegrationConfig `mapstructure:"integrations"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr, or file path
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// pool; lifetimes are minutes
	MaxOpenConns    int `mapstructure:"max_open_conns"`
	MaxIdleConns    int `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int `mapstructure:"conn_max_idle_time"`
}

// RedisConfig is the dispatch queue and finalization claim store
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// KeyPrefix namespaces every key this service writes
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// RabbitMQConfig holds the broker the mail sender publishes to. An empty URL
// logs mail requests instead of publishing them.
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
}

type HTTPConfig struct {
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	MaxBodySize       int64         `mapstructure:"max_body_size"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	CORSAllowOrigins  []string      `mapstructure:"cors_allow_origins"`
	CORSAllowMethods  []string      `mapstructure:"cors_allow_methods"`
	CORSAllowHeaders  []string      `mapstructure:"cors_allow_headers"`
	TrustedProxies    []string      `mapstructure:"trusted_proxies"`
	HSTSEnabled       bool          `mapstructure:"hsts_enabled"`
	// Per-lead limit on manual resends
	ResendLimitRequests int           `mapstructure:"resend_limit_requests"`
	ResendLimitWindow   time.Duration `mapstructure:"resend_limit_window"`
	// API docs under /swagger
	SwaggerEnabled    bool     `mapstructure:"swagger_enabled"`
	SwaggerAllowedIPs []string `mapstructure:"swagger_allowed_ips"`
}

// HTTPClientConfig holds the outbound client used by channels
type HTTPClientConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Retries        int           `mapstructure:"retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	// UserAgent defaults to the app name
	UserAgent string `mapstructure:"user_agent"`
}

// DispatchConfig holds queue, worker and retry settings
type DispatchConfig struct {
	// QueueBackend is "redis" or "memory" (single process only)
	QueueBackend  string `mapstructure:"queue_backend"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	// Workers is the number of goroutines per channel stream
	Workers    int           `mapstructure:"workers"`
	JobWorkers int           `mapstructure:"job_workers"`
	ReadBlock  time.Duration `mapstructure:"read_block"`
	// MaxDeliveries bounds queue-level redelivery before the DLQ
	MaxDeliveries int `mapstructure:"max_deliveries"`

	MaxAttempts int `mapstructure:"max_attempts"`
	// Backoff accepts durations or bare seconds: ["10s", "1m", 90]
	Backoff        []time.Duration `mapstructure:"backoff"`
	UnitTimeout    time.Duration   `mapstructure:"unit_timeout"`
	JobTimeout     time.Duration   `mapstructure:"job_timeout"`
	SupportedTypes []string        `mapstructure:"supported_types"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	// StaleAfter is how long a unit may stay RUNNING before it is reclaimed.
	// Zero means twice UnitTimeout.
	StaleAfter time.Duration `mapstructure:"stale_after"`

	CleanupEnabled   bool          `mapstructure:"cleanup_enabled"`
	CleanupRetention time.Duration `mapstructure:"cleanup_retention"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`

	IdempotencyTTL time.Duration `mapstructure:"idempotency_ttl"`
}

// NotificationConfig holds operator notification settings
type NotificationConfig struct {
	OperatorEmails []string `mapstructure:"operator_emails"`
	OperatorLocale string   `mapstructure:"operator_locale"`
}

// LocaleConfig holds translation and template settings
type LocaleConfig struct {
	Default string `mapstructure:"default"`
	// Templates maps template code -> locale -> provider template ID
	Templates map[string]map[string]string `mapstructure:"templates"`
}

// IntegrationConfig is the configured override for one channel type
type IntegrationConfig struct {
	BaseURL        string         `mapstructure:"base_url"`
	RequiredFields []string       `mapstructure:"required_fields"`
	Fields         map[string]any `mapstructure:"fields"`
}

// TelemetryConfig holds OpenTelemetry and Pyroscope settings
type TelemetryConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	CollectorEndpoint string        `mapstructure:"collector_endpoint"` // OTLP gRPC, host:port
	SamplingRatio     float64       `mapstructure:"sampling_ratio"`     // root spans, 0..1
	ServiceName       string        `mapstructure:"service_name"`       // defaults to the app name
	Insecure          bool          `mapstructure:"insecure"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`

	DBTraceEnabled bool `mapstructure:"db_trace_enabled"`
	// DBLogFullSQL puts statements with their values on spans; never in production
	DBLogFullSQL      bool          `mapstructure:"db_log_full_sql"`
	DBSlowQueryThresh time.Duration `mapstructure:"db_slow_query_threshold"`

	ProfilingEnabled       bool     `mapstructure:"profiling_enabled"`
	ProfilingServerAddress string   `mapstructure:"profiling_server_address"`
	ProfilingAppName       string   `mapstructure:"profiling_app_name"`
	ProfilingAuthUser      string   `mapstructure:"profiling_auth_user"`
	ProfilingAuthPassword  string   `mapstructure:"profiling_auth_password"`
	ProfilingTypes         []string `mapstructure:"profiling_types"`
	// SpanProfiles links trace spans to CPU profiles
	SpanProfiles bool `mapstructure:"span_profiles"`
}

// defaults registers every key, which is also what lets AutomaticEnv see
// it: viper only resolves environment variables for keys it knows.
var defaults = map[string]any{
	"app.name": "leadflow-backend",
	"app.env":  "development",
	"app.port": "8080",

	"database.host":               "localhost",
	"database.port":               5432,
	"database.user":               "postgres",
	"database.password":           "",
	"database.dbname":             "leadflow",
	"database.sslmode":            "disable",
	"database.max_open_conns":     25,
	"database.max_idle_conns":     5,
	"database.conn_max_lifetime":  60,
	"database.conn_max_idle_time": 30,

	"redis.host":       "localhost",
	"redis.port":       6379,
	"redis.password":   "",
	"redis.db":         0,
	"redis.key_prefix": "leadflow:",

	"rabbitmq.url":         "",
	"rabbitmq.exchange":    "notifications",
	"rabbitmq.routing_key": "mail.send",

	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	"http.read_timeout": 15 * time.Second,
	// synchronous sends wait for the remote system
	"http.write_timeout":         150 * time.Second,
	"http.idle_timeout":          60 * time.Second,
	"http.max_header_bytes":      1 << 20,
	"http.max_body_size":         10 << 20,
	"http.rate_limit_enabled":    false,
	"http.rate_limit_requests":   100,
	"http.rate_limit_window":     time.Minute,
	"http.cors_allow_origins":    []string{},
	"http.cors_allow_methods":    []string{"GET", "POST", "OPTIONS"},
	"http.cors_allow_headers":    []string{"Content-Type", "Authorization", "X-Request-ID"},
	"http.trusted_proxies":       []string{},
	"http.hsts_enabled":          false,
	"http.resend_limit_requests": 5,
	"http.resend_limit_window":   10 * time.Minute,
	"http.swagger_enabled":       true,
	"http.swagger_allowed_ips":   []string{},

	"http_client.timeout":         30 * time.Second,
	"http_client.connect_timeout": 10 * time.Second,
	"http_client.retries":         2,
	"http_client.retry_delay":     500 * time.Millisecond,
	"http_client.user_agent":      "",

	"dispatch.queue_backend":     "redis",
	"dispatch.consumer_group":    "leadflow-workers",
	"dispatch.workers":           4,
	"dispatch.job_workers":       2,
	"dispatch.read_block":        5 * time.Second,
	"dispatch.max_deliveries":    5,
	"dispatch.max_attempts":      5,
	"dispatch.backoff":           []string{"10s", "30s", "1m", "5m", "1h"},
	"dispatch.unit_timeout":      120 * time.Second,
	"dispatch.job_timeout":       300 * time.Second,
	"dispatch.supported_types":   []string{},
	"dispatch.poll_interval":     5 * time.Second,
	"dispatch.batch_size":        100,
	"dispatch.stale_after":       time.Duration(0),
	"dispatch.cleanup_enabled":   true,
	"dispatch.cleanup_retention": 168 * time.Hour,
	"dispatch.cleanup_interval":  time.Hour,
	"dispatch.idempotency_ttl":   168 * time.Hour,

	"notification.operator_emails": []string{},
	"notification.operator_locale": "en",
	"locale.default":               "en",

	"telemetry.enabled":                  false,
	"telemetry.collector_endpoint":       "localhost:4317",
	"telemetry.sampling_ratio":           1.0,
	"telemetry.service_name":             "",
	"telemetry.insecure":                 false,
	"telemetry.metrics_interval":         time.Minute,
	"telemetry.db_trace_enabled":         false,
	"telemetry.db_log_full_sql":          false,
	"telemetry.db_slow_query_threshold":  200 * time.Millisecond,
	"telemetry.profiling_enabled":        false,
	"telemetry.profiling_server_address": "",
	"telemetry.profiling_app_name":       "",
	"telemetry.profiling_auth_user":      "",
	"telemetry.profiling_auth_password":  "",
	"telemetry.profiling_types":          []string{},
	"telemetry.span_profiles":            false,
}

// Load reads config.toml from ".", "./config" or "/app" when present, then
// LEADFLOW_* environment variables (e.g. LEADFLOW_DATABASE_PASSWORD), which
// win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	for _, dir := range []string{".", "./config", "/app"} {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEADFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return build(v)
}

func build(v *viper.Viper) (*Config, error) {
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		backoffHook,
		listHook,
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	cfg.derive()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// derive fills settings whose default depends on another setting
func (c *Config) derive() {
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.App.Name
	}
	if c.Telemetry.ProfilingAppName == "" {
		c.Telemetry.ProfilingAppName = c.Telemetry.ServiceName
	}
	if c.HTTPClient.UserAgent == "" {
		c.HTTPClient.UserAgent = c.App.Name
	}
	if c.Dispatch.StaleAfter == 0 {
		c.Dispatch.StaleAfter = 2 * c.Dispatch.UnitTimeout
	}
	if c.Integrations == nil {
		c.Integrations = map[string]IntegrationConfig{}
	}
}

var durationSlice = reflect.TypeOf([]time.Duration(nil))

// listHook splits environment strings such as "a b" or "a,b" into slices
func listHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}
	return splitList(data.(string)), nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
}

// backoffHook decodes retry delays written as durations ("30s") or bare
// seconds (30 or "30")
func backoffHook(from, to reflect.Type, data any) (any, error) {
	if to != durationSlice {
		return data, nil
	}
	var raw []string
	switch {
	case from.Kind() == reflect.String:
		raw = splitList(data.(string))
	case from.Kind() == reflect.Slice:
		rv := reflect.ValueOf(data)
		for i := 0; i < rv.Len(); i++ {
			raw = append(raw, fmt.Sprint(rv.Index(i).Interface()))
		}
	default:
		return data, nil
	}
	return parseBackoff(raw)
}

// parseBackoff reads durations like "10s" or bare seconds like "30"
func parseBackoff(raw []string) ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.ContainsAny(s, "smh") {
			s += "s"
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("dispatch.backoff: invalid delay %q: %w", s, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Dispatch.QueueBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("dispatch.queue_backend must be redis or memory, got %q", c.Dispatch.QueueBackend)
	}
	if c.Dispatch.Workers < 0 || c.Dispatch.JobWorkers < 0 {
		return fmt.Errorf("dispatch workers cannot be negative")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be at least 1")
	}
	if c.Dispatch.StaleAfter <= c.Dispatch.UnitTimeout {
		return fmt.Errorf("dispatch.stale_after (%s) must exceed dispatch.unit_timeout (%s)",
			c.Dispatch.StaleAfter, c.Dispatch.UnitTimeout)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Dispatch.QueueBackend == "memory" {
			return fmt.Errorf("dispatch.queue_backend=memory is not allowed in production")
		}
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("rabbitmq.url is required in production, email units cannot be delivered without it")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.ProfilingServerAddress == "" {
		return fmt.Errorf("telemetry.profiling_server_address is required when profiling is enabled")
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
