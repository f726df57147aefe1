package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.work_topic", "BROKER_KAFKA_WORK_TOPIC")
	viper.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	viper.BindEnv("ledger.backend", "LEDGER_BACKEND")
	viper.BindEnv("ledger.redis.host", "LEDGER_REDIS_HOST")
	viper.BindEnv("ledger.redis.port", "LEDGER_REDIS_PORT")
	viper.BindEnv("ledger.redis.password", "LEDGER_REDIS_PASSWORD")
	viper.BindEnv("ledger.redis.db", "LEDGER_REDIS_DB")
	viper.BindEnv("ledger.postgres.host", "LEDGER_POSTGRES_HOST")
	viper.BindEnv("ledger.postgres.port", "LEDGER_POSTGRES_PORT")
	viper.BindEnv("ledger.postgres.user", "LEDGER_POSTGRES_USER")
	viper.BindEnv("ledger.postgres.password", "LEDGER_POSTGRES_PASSWORD")
	viper.BindEnv("ledger.postgres.dbname", "LEDGER_POSTGRES_DBNAME")
	viper.BindEnv("ledger.postgres.sslmode", "LEDGER_POSTGRES_SSLMODE")

	viper.BindEnv("store.base_url", "STORE_BASE_URL")
	viper.BindEnv("store.api_version", "STORE_API_VERSION")

	viper.BindEnv("credentials.token_url", "CREDENTIALS_TOKEN_URL")
	viper.BindEnv("credentials.client_id", "CREDENTIALS_CLIENT_ID")
	viper.BindEnv("credentials.client_secret", "CREDENTIALS_CLIENT_SECRET")
	viper.BindEnv("credentials.static_token", "CREDENTIALS_STATIC_TOKEN")

	viper.BindEnv("reconciler.max_retries", "RECONCILER_MAX_RETRIES")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		for i := range brokers {
			brokers[i] = strings.TrimSpace(brokers[i])
		}
		if len(brokers) > 0 && brokers[0] != "" {
			cfg.Broker.Kafka.Brokers = brokers
		}
	}

	return nil
}
