package config

import "time"

// Chat definition chat_service YAML structure
type Chat struct {
	Port  string         `mapstructure:"port"`
	Mongo DatabaseConfig `mapstructure:"mongo"`
	Redis RedisConfig    `mapstructure:"redis"`
	MinIO MinIOConfig    `mapstructure:"minio"`
	Push  PushConfig     `mapstructure:"push"`
	Sync  SyncConfig     `mapstructure:"sync"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Addr    string `mapstructure:"addr"` // empty: use sentinel from .env
	RedisDB int    `mapstructure:"redis_db"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// MinIOConfig definition image attachment bucket, empty endpoint disables attachments
type MinIOConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	BucketName    string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// PushDriver push notification transport
type PushDriver string

const (
	// PushDriverNone push disabled
	PushDriverNone PushDriver = "none"
	// PushDriverRedis publish to a redis channel
	PushDriverRedis PushDriver = "redis"
	// PushDriverRabbitMQ publish to a rabbitmq queue
	PushDriverRabbitMQ PushDriver = "rabbitmq"
	// PushDriverKafka write to a kafka topic
	PushDriverKafka PushDriver = "kafka"
)

// PushConfig definition push dispatch setting
type PushConfig struct {
	Driver        PushDriver `mapstructure:"driver"`
	Channel       string     `mapstructure:"channel"` // redis channel, rabbitmq queue or kafka topic
	URL           string     `mapstructure:"url"`     // rabbitmq url
	Brokers       []string   `mapstructure:"brokers"` // kafka brokers
	RetryInterval int        `mapstructure:"retry_interval"`
	RetryCount    int        `mapstructure:"retry_count"`
}

// SyncConfig definition snapshot subscription setting
type SyncConfig struct {
	// PollInterval re-query period when change streams are unavailable (standalone mongo)
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// Timezone used for same-day / same-minute message grouping
	Timezone string `mapstructure:"timezone"`
	// CascadeDelete also deletes a room's messages when the room is deleted
	CascadeDelete bool `mapstructure:"cascade_delete"`
}

// Location resolves Timezone, time.Local when empty or unknown
func (s SyncConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
