package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Outputs  OutputsConfig  `mapstructure:"outputs"`
	Modbus   ModbusConfig   `mapstructure:"modbus"`
	GPIO     GPIOConfig     `mapstructure:"gpio"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// postgres or memory
	Backend        string `mapstructure:"backend"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	// YAML file with outputs and triggers loaded into the memory backend
	SeedFile string `mapstructure:"seed_file"`
}

type OutputsConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	MaxAmps        float64       `mapstructure:"max_amps"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	TriggerTimeout time.Duration `mapstructure:"trigger_timeout"`
}

type ModbusConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

type GPIOConfig struct {
	Chip string `mapstructure:"chip"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type LogConfig struct {
	Development bool `mapstructure:"development"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults setzen
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.backend", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openoutputcore")
	v.SetDefault("database.user", "openoutputcore")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.seed_file", "")

	v.SetDefault("outputs.poll_interval", "500ms")
	v.SetDefault("outputs.max_amps", 15.0)
	v.SetDefault("outputs.workers", 4)
	v.SetDefault("outputs.queue_size", 256)
	v.SetDefault("outputs.trigger_timeout", "30s")

	v.SetDefault("modbus.default_timeout", "1s")
	v.SetDefault("gpio.chip", "gpiochip0")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "openoutputcore")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", "openoutputcore")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connect_timeout", "10s")

	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Environment Variables mit Prefix OOC_, z.B. OOC_OUTPUTS_MAX_AMPS
	v.SetEnvPrefix("OOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that would otherwise only fail at runtime.
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid database backend %q", c.Database.Backend)
	}
	if c.Outputs.PollInterval <= 0 {
		return fmt.Errorf("outputs.poll_interval must be positive")
	}
	if c.Outputs.MaxAmps < 0 {
		return fmt.Errorf("outputs.max_amps must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
