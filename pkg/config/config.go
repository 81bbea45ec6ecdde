package config

import "time"

// Sync definition sync_service YAML structure
type Sync struct {
	Port  string      `mapstructure:"port"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
	MinIO MinIOConfig `mapstructure:"minio"`
	Room  RoomConfig  `mapstructure:"room"`
}

// RoomConfig definition study room lifetime & sync protocol setting
type RoomConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SnapshotWait    time.Duration `mapstructure:"snapshot_wait"`
	SnapshotRetries int           `mapstructure:"snapshot_retries"`
	ScrollInterval  time.Duration `mapstructure:"scroll_interval"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	RedisDB int `mapstructure:"redis_db"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// MinIOConfig definition minio setting
type MinIOConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}
