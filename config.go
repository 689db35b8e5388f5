package main

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath string `yaml:"db_path"`

	AnthropicAPIKey  string  `yaml:"anthropic_api_key"`
	OracleModel      string  `yaml:"oracle_model"`
	OracleBatchSize  int     `yaml:"oracle_batch_size"`
	OracleTimeoutSec int     `yaml:"oracle_timeout_seconds"`
	MatchConfidence  float64 `yaml:"match_confidence_threshold"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	// Cron expressions (5-field) for watch mode. Empty disables the job.
	ReconcileSchedule string `yaml:"reconcile_schedule"`
	ShiftSchedule     string `yaml:"shift_schedule"`

	// Shared secret required by the purge subcommand.
	PurgeToken string `yaml:"purge_token"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OracleModel, "ORACLE_MODEL")
	envOverrideInt(&cfg.OracleBatchSize, "ORACLE_BATCH_SIZE")
	envOverrideInt(&cfg.OracleTimeoutSec, "ORACLE_TIMEOUT_SECONDS")
	envOverrideFloat(&cfg.MatchConfidence, "MATCH_CONFIDENCE_THRESHOLD")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.ReconcileSchedule, "RECONCILE_SCHEDULE")
	envOverride(&cfg.ShiftSchedule, "SHIFT_SCHEDULE")
	envOverride(&cfg.PurgeToken, "PURGE_TOKEN")

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "./qamatrix.db"
	}
	if cfg.OracleBatchSize == 0 {
		cfg.OracleBatchSize = 200
	}
	if cfg.OracleTimeoutSec == 0 {
		cfg.OracleTimeoutSec = 120
	}
	if cfg.MatchConfidence == 0 {
		cfg.MatchConfidence = 0.30
	}

	// Validate
	if cfg.OracleBatchSize < 1 {
		log.Fatalf("invalid oracle_batch_size '%d': must be >= 1", cfg.OracleBatchSize)
	}
	if cfg.OracleTimeoutSec < 1 {
		log.Fatalf("invalid oracle_timeout_seconds '%d': must be >= 1", cfg.OracleTimeoutSec)
	}
	if cfg.MatchConfidence < 0 || cfg.MatchConfidence > 1 {
		log.Fatalf("invalid match_confidence_threshold '%f': must be between 0 and 1", cfg.MatchConfidence)
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

// SlackConfigured reports whether run summaries can be posted.
func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}
