package cfg

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// SinkType defines where mirrored events are published
type SinkType string

const (
	SinkNATS  SinkType = "nats"  // NATS JetStream subject
	SinkKafka SinkType = "kafka" // Kafka topic
)

// Frame formats understood by the publisher
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// HTTPConfiguration controls the HTTP listener serving /ws and the admin API
type HTTPConfiguration struct {
	BindAddress    string   `toml:"bind_address"`
	Port           int      `toml:"port"`
	WSPath         string   `toml:"ws_path"`
	AllowedOrigins []string `toml:"allowed_origins"` // Empty = any origin
	WelcomeMessage string   `toml:"welcome_message"`
	ShutdownMS     int      `toml:"shutdown_timeout_ms"`
}

// DatabaseConfiguration describes the upstream store the watchers poll
type DatabaseConfiguration struct {
	Driver             string `toml:"driver"` // "mysql" or "sqlite3"
	DSN                string `toml:"dsn"`    // Overrides host/port/user/... when set
	Host               string `toml:"host"`
	Port               int    `toml:"port"`
	User               string `toml:"user"`
	Password           string `toml:"password"`
	Database           string `toml:"database"`
	PoolSize           int    `toml:"pool_size"`
	MaxIdleTimeSeconds int    `toml:"max_idle_time_seconds"`
	MaxLifetimeSeconds int    `toml:"max_lifetime_seconds"`
	QueryTimeoutMS     int    `toml:"query_timeout_ms"`
}

// WatchConfiguration describes one watched freshness column
type WatchConfiguration struct {
	Name       string `toml:"name"`
	Table      string `toml:"table"`
	Column     string `toml:"column"`
	Target     string `toml:"target"` // Resource key sent in refresh events
	IntervalMS int    `toml:"interval_ms"`
}

// WebSocketConfiguration controls per-connection liveness and buffering
type WebSocketConfiguration struct {
	PingIntervalMS int `toml:"ping_interval_ms"`
	PongWaitMS     int `toml:"pong_wait_ms"`
	WriteWaitMS    int `toml:"write_wait_ms"`
	SendBuffer     int `toml:"send_buffer"`
	ReadLimitBytes int `toml:"read_limit_bytes"`
}

// AdminConfiguration controls the operator API
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Secret  string `toml:"secret"` // Empty = no authentication
}

// HistoryConfiguration controls the recent broadcast history
type HistoryConfiguration struct {
	Size int `toml:"size"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled           bool   `toml:"enabled"`
	Path              string `toml:"path"`
	CollectIntervalMS int    `toml:"collect_interval_ms"`
}

// SinkConfiguration configures one mirror of broadcast events onto a message bus
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            SinkType `toml:"type"`
	Format          string   `toml:"format"`
	Topic           string   `toml:"topic"`
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	BatchSize       int      `toml:"batch_size"`
	QueueSize       int      `toml:"queue_size"`
	FilterTargets   []string `toml:"filter_targets"`
	FilterTypes     []string `toml:"filter_types"`
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// IngressConfiguration lets other services push events to dashboard clients over NATS
type IngressConfiguration struct {
	Enabled bool   `toml:"enabled"`
	NatsURL string `toml:"nats_url"`
	Subject string `toml:"subject"`
	Format  string `toml:"format"`
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID  string `toml:"instance_id"`
	Environment string `toml:"environment"` // "development" or "production"

	HTTP       HTTPConfiguration       `toml:"http"`
	Database   DatabaseConfiguration   `toml:"database"`
	Watches    []WatchConfiguration    `toml:"watch"`
	WebSocket  WebSocketConfiguration  `toml:"websocket"`
	Admin      AdminConfiguration      `toml:"admin"`
	History    HistoryConfiguration    `toml:"history"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Sinks      []SinkConfiguration     `toml:"sink"`
	Ingress    IngressConfiguration    `toml:"ingress"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	PortFlag       = flag.Int("port", 0, "HTTP port (overrides config)")
	DSNFlag        = flag.String("db-dsn", "", "Database DSN (overrides config)")
	InstanceIDFlag = flag.String("instance-id", "", "Instance ID (overrides config, empty=auto)")
)

// DefaultWatch is the daily report monitor the dashboard has always relied on
var DefaultWatch = WatchConfiguration{
	Name:       "monitor-diario",
	Table:      "tb_toa_reporte_diario_mysql",
	Column:     "fecha_integracion",
	Target:     "monitor-diario",
	IntervalMS: 10000,
}

// Default configuration
var Config = NewDefault()

// NewDefault returns a configuration populated with defaults
func NewDefault() *Configuration {
	return &Configuration{
		InstanceID:  "", // Auto-generate
		Environment: "development",

		HTTP: HTTPConfiguration{
			BindAddress:    "0.0.0.0",
			Port:           5000,
			WSPath:         "/ws",
			AllowedOrigins: []string{},
			WelcomeMessage: "Connected to TQW Real-time updates",
			ShutdownMS:     5000,
		},

		Database: DatabaseConfiguration{
			Driver:             "mysql",
			Host:               "localhost",
			Port:               3306,
			User:               "root",
			Password:           "",
			Database:           "operaciones_tqw",
			PoolSize:           2,   // The watcher runs one query at a time per watch
			MaxIdleTimeSeconds: 60,  // Idle connections recycled after a minute
			MaxLifetimeSeconds: 300, // Max 5 minute connection lifetime
			QueryTimeoutMS:     5000,
		},

		Watches: []WatchConfiguration{DefaultWatch},

		WebSocket: WebSocketConfiguration{
			PingIntervalMS: 30000,
			PongWaitMS:     60000,
			WriteWaitMS:    10000,
			SendBuffer:     16,
			ReadLimitBytes: 4096,
		},

		Admin: AdminConfiguration{
			Enabled: true,
		},

		History: HistoryConfiguration{
			Size: 128,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled:           true,
			Path:              "/metrics",
			CollectIntervalMS: 5000,
		},

		Sinks: []SinkConfiguration{},

		Ingress: IngressConfiguration{
			Subject: "vigia.events",
			Format:  FormatJSON,
		},
	}
}

// Load loads configuration from file and applies CLI and environment overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")

			// toml decodes array tables into existing elements, so [[watch]]
			// entries would inherit omitted fields from the default watch
			defaultWatches := Config.Watches
			Config.Watches = nil
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				Config.Watches = defaultWatches
				return fmt.Errorf("failed to decode config: %w", err)
			}
			if len(Config.Watches) == 0 {
				Config.Watches = defaultWatches
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if err := applyEnv(Config); err != nil {
		return err
	}

	// Apply CLI overrides
	if *PortFlag != 0 {
		Config.HTTP.Port = *PortFlag
	}
	if *DSNFlag != "" {
		Config.Database.DSN = *DSNFlag
	}
	if *InstanceIDFlag != "" {
		Config.InstanceID = *InstanceIDFlag
	}

	// Auto-generate instance ID if not set
	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	applyDefaults(Config)

	return nil
}

// applyEnv applies the MYSQL_* variables the deployment scripts already export
func applyEnv(c *Configuration) error {
	if v := os.Getenv("MYSQL_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("MYSQL_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MYSQL_PORT %q: %w", v, err)
		}
		c.Database.Port = port
	}
	if v := os.Getenv("MYSQL_USER"); v != "" {
		c.Database.User = v
	}
	if v, ok := os.LookupEnv("MYSQL_PASSWORD"); ok {
		c.Database.Password = v
	}
	if v := os.Getenv("MYSQL_DATABASE"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("VIGIA_ADMIN_SECRET"); v != "" {
		c.Admin.Secret = v
	}
	return nil
}

// applyDefaults fills fields that entries decoded from [[watch]] and [[sink]] tables may omit
func applyDefaults(c *Configuration) {
	for i := range c.Watches {
		w := &c.Watches[i]
		if w.IntervalMS == 0 {
			w.IntervalMS = DefaultWatch.IntervalMS
		}
		if w.Target == "" {
			w.Target = w.Name
		}
	}
	for i := range c.Sinks {
		s := &c.Sinks[i]
		if s.Format == "" {
			s.Format = FormatJSON
		}
		if s.Topic == "" {
			s.Topic = "vigia.events"
		}
	}
	if c.Ingress.Format == "" {
		c.Ingress.Format = FormatJSON
	}
}

// generateInstanceID derives a stable instance ID from the machine ID
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("vigia")
	if err != nil {
		return "", err
	}
	return id[:12], nil
}

// IsProduction reports whether the configured environment is production
func IsProduction() bool {
	return Config.Environment == "production"
}

// Validate checks configuration for errors
func Validate() error {
	if Config.HTTP.Port < 1 || Config.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", Config.HTTP.Port)
	}

	if Config.HTTP.WSPath == "" || Config.HTTP.WSPath[0] != '/' {
		return fmt.Errorf("websocket path must start with '/': %q", Config.HTTP.WSPath)
	}

	if Config.Environment != "development" && Config.Environment != "production" {
		return fmt.Errorf("invalid environment: %s", Config.Environment)
	}

	// Validate database configuration
	switch Config.Database.Driver {
	case "mysql":
		if Config.Database.DSN == "" && Config.Database.Host == "" {
			return fmt.Errorf("database host is required for mysql driver")
		}
		if Config.Database.DSN == "" && (Config.Database.Port < 1 || Config.Database.Port > 65535) {
			return fmt.Errorf("invalid database port: %d", Config.Database.Port)
		}
	case "sqlite3":
		if Config.Database.DSN == "" {
			return fmt.Errorf("sqlite3 driver requires dsn")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", Config.Database.Driver)
	}

	if Config.Database.PoolSize < 1 {
		return fmt.Errorf("database pool size must be >= 1")
	}

	if Config.Database.MaxIdleTimeSeconds < 0 {
		return fmt.Errorf("database max idle time must be >= 0")
	}

	if Config.Database.MaxLifetimeSeconds < 0 {
		return fmt.Errorf("database max lifetime must be >= 0")
	}

	if Config.Database.QueryTimeoutMS < 1 {
		return fmt.Errorf("query timeout must be >= 1ms")
	}

	if IsProduction() && Config.Database.DSN == "" && Config.Database.Password == "" {
		return fmt.Errorf("database password is required in production")
	}

	// Validate watches
	if len(Config.Watches) == 0 {
		return fmt.Errorf("at least one watch must be configured")
	}

	seen := make(map[string]bool, len(Config.Watches))
	for i, w := range Config.Watches {
		if w.Name == "" {
			return fmt.Errorf("watch #%d: name is required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate watch name: %s", w.Name)
		}
		seen[w.Name] = true

		if w.Table == "" || w.Column == "" {
			return fmt.Errorf("watch %s: table and column are required", w.Name)
		}
		if w.Target == "" {
			return fmt.Errorf("watch %s: target is required", w.Name)
		}
		if w.IntervalMS < 100 {
			return fmt.Errorf("watch %s: interval must be >= 100ms", w.Name)
		}
	}

	// Validate websocket configuration
	if Config.WebSocket.PingIntervalMS < 1 {
		return fmt.Errorf("websocket ping interval must be >= 1ms")
	}

	if Config.WebSocket.PongWaitMS <= Config.WebSocket.PingIntervalMS {
		return fmt.Errorf("websocket pong wait must exceed ping interval")
	}

	if Config.WebSocket.WriteWaitMS < 1 {
		return fmt.Errorf("websocket write wait must be >= 1ms")
	}

	if Config.WebSocket.SendBuffer < 1 {
		return fmt.Errorf("websocket send buffer must be >= 1")
	}

	if Config.History.Size < 1 {
		return fmt.Errorf("history size must be >= 1")
	}

	if Config.Admin.Enabled && IsProduction() && Config.Admin.Secret == "" {
		return fmt.Errorf("admin secret is required in production")
	}

	// Validate sinks
	sinkNames := make(map[string]bool, len(Config.Sinks))
	for _, s := range Config.Sinks {
		if s.Name == "" {
			return fmt.Errorf("sink name is required")
		}
		if sinkNames[s.Name] {
			return fmt.Errorf("duplicate sink name: %s", s.Name)
		}
		sinkNames[s.Name] = true

		switch s.Type {
		case SinkNATS:
			if s.NatsURL == "" {
				return fmt.Errorf("sink %s: nats sink requires nats_url", s.Name)
			}
		case SinkKafka:
			if len(s.Brokers) == 0 {
				return fmt.Errorf("sink %s: kafka sink requires brokers", s.Name)
			}
		default:
			return fmt.Errorf("sink %s: unsupported type %q", s.Name, s.Type)
		}

		if !validFormat(s.Format) {
			return fmt.Errorf("sink %s: unsupported format %q", s.Name, s.Format)
		}
	}

	if Config.Ingress.Enabled {
		if Config.Ingress.NatsURL == "" || Config.Ingress.Subject == "" {
			return fmt.Errorf("ingress requires nats_url and subject")
		}
		if !validFormat(Config.Ingress.Format) {
			return fmt.Errorf("ingress: unsupported format %q", Config.Ingress.Format)
		}
	}

	return nil
}

func validFormat(format string) bool {
	return format == FormatJSON || format == FormatMsgpack
}
