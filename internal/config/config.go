package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendMongo    = "mongo"

	ModeHTTP   = "http"
	ModeLambda = "lambda"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	AWS      AWSConfig      `mapstructure:"aws"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Events   EventsConfig   `mapstructure:"events"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // http or lambda
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // dynamodb or mongo
}

type AWSConfig struct {
	Region           string `mapstructure:"region"`
	EndpointOverride string `mapstructure:"endpoint_override"`
}

type DynamoDBConfig struct {
	InvoicesTable       string `mapstructure:"invoices_table"`
	InvoiceNumbersTable string `mapstructure:"invoice_numbers_table"`
	IdempotencyTable    string `mapstructure:"idempotency_table"`
}

type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// EventsConfig configures lifecycle event publishing. An empty queue URL
// disables publishing.
type EventsConfig struct {
	QueueURL string `mapstructure:"queue_url"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in increasing precedence. Variables in envFile are loaded
// into the environment first; a missing envFile is ignored.
func Load(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.mode", ModeHTTP)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.backend", BackendDynamoDB)

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("dynamodb.invoices_table", "invoices")
	v.SetDefault("dynamodb.invoice_numbers_table", "invoice-numbers")
	v.SetDefault("dynamodb.idempotency_table", "invoice-events-processed")

	v.SetDefault("mongo.database", "invoices")
	v.SetDefault("mongo.collection", "invoices")
	v.SetDefault("mongo.connect_timeout", 10*time.Second)

	v.SetDefault("metrics.namespace", "InvoiceService")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars maps the conventional deployment variable names.
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("server.port", "PORT", "SERVER_PORT")
	_ = v.BindEnv("server.mode", "SERVER_MODE")
	_ = v.BindEnv("store.backend", "STORE_BACKEND")
	_ = v.BindEnv("aws.region", "AWS_REGION")
	_ = v.BindEnv("aws.endpoint_override", "AWS_ENDPOINT_OVERRIDE")
	_ = v.BindEnv("dynamodb.invoices_table", "INVOICES_TABLE")
	_ = v.BindEnv("dynamodb.invoice_numbers_table", "INVOICE_NUMBERS_TABLE")
	_ = v.BindEnv("dynamodb.idempotency_table", "IDEMPOTENCY_TABLE")
	_ = v.BindEnv("mongo.uri", "MONGODB_URI")
	_ = v.BindEnv("events.queue_url", "INVOICE_EVENTS_QUEUE_URL")
	_ = v.BindEnv("metrics.namespace", "METRICS_NAMESPACE")
	_ = v.BindEnv("logger.level", "LOG_LEVEL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Mode {
	case ModeHTTP, ModeLambda:
	default:
		return fmt.Errorf("server.mode must be %q or %q, got %q", ModeHTTP, ModeLambda, c.Server.Mode)
	}

	switch c.Store.Backend {
	case BackendDynamoDB:
		if c.DynamoDB.InvoicesTable == "" {
			return fmt.Errorf("dynamodb.invoices_table is required")
		}
		if c.DynamoDB.InvoiceNumbersTable == "" {
			return fmt.Errorf("dynamodb.invoice_numbers_table is required")
		}
	case BackendMongo:
		if c.Mongo.URI == "" {
			return fmt.Errorf("mongo.uri is required")
		}
		if c.Mongo.Database == "" || c.Mongo.Collection == "" {
			return fmt.Errorf("mongo.database and mongo.collection are required")
		}
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendDynamoDB, BackendMongo, c.Store.Backend)
	}

	return nil
}
