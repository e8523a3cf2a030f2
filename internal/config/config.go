package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Scylla     ScyllaConfig     `mapstructure:"scylla"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Telephony  TelephonyConfig  `mapstructure:"telephony"`
	VoiceAgent VoiceAgentConfig `mapstructure:"voice_agent"`
	Outbound   OutboundConfig   `mapstructure:"outbound"`
}

type AppConfig struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// StorageConfig selects the backing store for engine state.
type StorageConfig struct {
	Driver       string `mapstructure:"driver"`
	BusinessFile string `mapstructure:"business_file"`
}

type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Brokers         []string      `mapstructure:"brokers"`
	ClientID        string        `mapstructure:"client_id"`
	EventTopic      string        `mapstructure:"event_topic"`
	TopicPartitions int           `mapstructure:"topic_partitions"`
	ConsumerGroupID string        `mapstructure:"consumer_group_id"`
	CommitInterval  time.Duration `mapstructure:"commit_interval"`
}

// MQTTConfig configures the MQTT event sink.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceName     string        `mapstructure:"service_name"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TelephonyConfig configures the carrier adapters and the router.
type TelephonyConfig struct {
	FailoverEnabled  bool          `mapstructure:"failover_enabled"`
	PrimaryProvider  string        `mapstructure:"primary_provider"`
	HealthInterval   time.Duration `mapstructure:"health_interval"`
	CheckOnFailure   bool          `mapstructure:"check_on_failure"`
	WebhookBaseURL   string        `mapstructure:"webhook_base_url"`
	DefaultFrom      string        `mapstructure:"default_from_number"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MachineDetection bool          `mapstructure:"machine_detection"`

	Simulate   SimulatedCarrierConfig `mapstructure:"simulate"`
	Twilio     TwilioConfig           `mapstructure:"twilio"`
	SignalWire SignalWireConfig       `mapstructure:"signalwire"`
	Plivo      PlivoConfig            `mapstructure:"plivo"`
	Telnyx     TelnyxConfig           `mapstructure:"telnyx"`
}

// CarrierConfig holds the settings every carrier shares.
type CarrierConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Priority int    `mapstructure:"priority"`
	BaseURL  string `mapstructure:"base_url"`
}

type TwilioConfig struct {
	CarrierConfig `mapstructure:",squash"`
	AccountSID    string `mapstructure:"account_sid"`
	AuthToken     string `mapstructure:"auth_token"`
}

type SignalWireConfig struct {
	CarrierConfig `mapstructure:",squash"`
	ProjectID     string `mapstructure:"project_id"`
	AuthToken     string `mapstructure:"auth_token"`
	SpaceURL      string `mapstructure:"space_url"`
}

type PlivoConfig struct {
	CarrierConfig `mapstructure:",squash"`
	AuthID        string `mapstructure:"auth_id"`
	AuthToken     string `mapstructure:"auth_token"`
}

type TelnyxConfig struct {
	CarrierConfig `mapstructure:",squash"`
	APIKey        string `mapstructure:"api_key"`
	ConnectionID  string `mapstructure:"connection_id"`
}

// SimulatedCarrierConfig registers an in-process carrier for development.
type SimulatedCarrierConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Provider    string        `mapstructure:"provider"`
	Priority    int           `mapstructure:"priority"`
	SuccessRate float64       `mapstructure:"success_rate"`
	MachineRate float64       `mapstructure:"machine_rate"`
	MinDuration time.Duration `mapstructure:"min_duration"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// VoiceAgentConfig configures the voice agent integration.
type VoiceAgentConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SimulateOnFailure bool          `mapstructure:"simulate_on_failure"`
}

// OutboundConfig tunes the outbound dispatch engine.
type OutboundConfig struct {
	CompletionTimeout time.Duration `mapstructure:"completion_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SessionReapAfter  time.Duration `mapstructure:"session_reap_after"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	CallbackScript    string        `mapstructure:"callback_script"`

	DefaultCallsPerMinute int `mapstructure:"default_calls_per_minute"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("CALLCENTER")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if !c.Postgres.Enabled {
			return fmt.Errorf("config: storage driver postgres requires postgres.enabled")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("config: mqtt.broker is required when mqtt is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required when kafka is enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "call-dispatch-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("kafka.event_topic", "callcenter.events")
	v.SetDefault("kafka.topic_partitions", 12)
	v.SetDefault("kafka.consumer_group_id", "callcenter-relay")
	v.SetDefault("kafka.commit_interval", time.Second)
	v.SetDefault("mqtt.client_id", "callcenter-engine")
	v.SetDefault("mqtt.topic_prefix", "callcenter")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("redis.key_prefix", "callcenter")
	v.SetDefault("scylla.consistency", "quorum")
	v.SetDefault("scylla.timeout", 5*time.Second)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.shutdown_timeout", 5*time.Second)
	v.SetDefault("telephony.failover_enabled", true)
	v.SetDefault("telephony.health_interval", time.Minute)
	v.SetDefault("telephony.check_on_failure", true)
	v.SetDefault("telephony.request_timeout", 15*time.Second)
	v.SetDefault("telephony.webhook_base_url", "http://localhost:8080/api/v1/telephony/webhooks")
	v.SetDefault("telephony.simulate.provider", "telnyx")
	v.SetDefault("telephony.simulate.success_rate", 0.9)
	v.SetDefault("telephony.simulate.machine_rate", 0.2)
	v.SetDefault("telephony.simulate.min_duration", 2*time.Second)
	v.SetDefault("telephony.simulate.max_duration", 8*time.Second)
	v.SetDefault("voice_agent.base_url", "http://localhost:8000")
	v.SetDefault("voice_agent.timeout", 30*time.Second)
	v.SetDefault("voice_agent.simulate_on_failure", true)
	v.SetDefault("outbound.completion_timeout", 30*time.Second)
	v.SetDefault("outbound.poll_interval", time.Second)
	v.SetDefault("outbound.session_reap_after", time.Minute)
	v.SetDefault("outbound.session_ttl", time.Hour)
	v.SetDefault("outbound.default_calls_per_minute", 5)
	v.SetDefault("outbound.callback_script", "Hello {name}, we are returning your call about {reason}.")
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
