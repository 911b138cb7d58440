package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	DataDir         string
	MappingFile     string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// ReloadInterval is how often the data directory is re-read. Zero loads once.
	ReloadInterval time.Duration
	FrameCacheSize int

	// Kafka frame publishing configuration.
	KafkaEnabled     bool
	KafkaBrokers     []string
	KafkaTopic       string
	PublishBatchSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	reloadInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("RELOAD_INTERVAL", "0s"))
	if err != nil || reloadInterval < 0 {
		return nil, errors.New("invalid RELOAD_INTERVAL")
	}

	batchSize, err := strconv.Atoi(sharedcfg.EnvOrDefault("PUBLISH_BATCH_SIZE", "100"))
	if err != nil || batchSize < 1 || batchSize > 1000 {
		return nil, errors.New("PUBLISH_BATCH_SIZE must be between 1 and 1000")
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}
	kafkaEnabled := len(brokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		DataDir:          sharedcfg.EnvOrDefault("DATA_DIR", "./data"),
		MappingFile:      sharedcfg.EnvOrDefault("MAPPING_FILE", "node_mapping.txt"),
		HTTPAddr:         sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:         sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:  shutdownTimeout,
		ReloadInterval:   reloadInterval,
		FrameCacheSize:   parseFrameCacheSize(),
		KafkaEnabled:     kafkaEnabled,
		KafkaBrokers:     brokers,
		KafkaTopic:       sharedcfg.EnvOrDefault("KAFKA_TOPIC", "building-animation-frames"),
		PublishBatchSize: batchSize,
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if cfg.MappingFile == "" {
		return nil, errors.New("MAPPING_FILE is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}

	return cfg, nil
}

func parseFrameCacheSize() int {
	if s := os.Getenv("FRAME_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 256
}
