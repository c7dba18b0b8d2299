// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package config loads and validates the bridge's configuration (§6
// Configuration table) from a YAML file plus environment overrides via
// viper, validated with go-playground/validator at startup.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// StreamingMode names a pipeline shape. It is a process-wide value read
// once at startup and validated; the Conductor does not consult it and
// runs the classic C6/C7 pipeline for every session, so no call ever
// switches mode.
type StreamingMode string

const (
	StreamingModeMedia         StreamingMode = "media"
	StreamingModeTranscription StreamingMode = "transcription"
	StreamingModeRealtimeVoice StreamingMode = "realtime_voice"
)

// PostgresConfig configures the call-context ledger (D1).
type PostgresConfig struct {
	Host               string `mapstructure:"host" validate:"required"`
	Port               int    `mapstructure:"port" validate:"required"`
	DBName             string `mapstructure:"db_name" validate:"required"`
	User               string `mapstructure:"user" validate:"required"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxOpenConnection  int    `mapstructure:"max_open_connection"`
	MaxIdealConnection int    `mapstructure:"max_ideal_connection"`
}

// RedisConfig configures the session store (C5).
type RedisConfig struct {
	Address  string `mapstructure:"address" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// VADConfig configures the optional Silero voice-activity detector. An
// empty model_path disables it, leaving barge-in on the STT-confidence
// proxy alone.
type VADConfig struct {
	ModelPath string  `mapstructure:"model_path"`
	Threshold float64 `mapstructure:"threshold"`
}

// PoolSizes bounds concurrently leased handles per client pool (§6).
type PoolSizes struct {
	STT int `mapstructure:"stt"`
	TTS int `mapstructure:"tts"`
	LLM int `mapstructure:"llm"`
}

// ProviderCredential is a minimal, env/config-resolved credential bag
// (no external secrets-vault integration).
type ProviderCredential map[string]string

// AppConfig is the fully validated, typed configuration for the bridge
// process.
type AppConfig struct {
	Name       string `mapstructure:"service_name" validate:"required"`
	Version    string `mapstructure:"version" validate:"required"`
	Host       string `mapstructure:"host" validate:"required"`
	Port       int    `mapstructure:"port" validate:"required"`
	LogLevel   string `mapstructure:"log_level" validate:"required"`
	LogFile    string `mapstructure:"log_file"`
	LogMaxSize int    `mapstructure:"log_max_size_mb"`

	Postgres PostgresConfig `mapstructure:"postgres" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`

	StreamingMode StreamingMode `mapstructure:"streaming_mode" validate:"required"`
	PoolSizes     PoolSizes     `mapstructure:"pool_sizes"`
	VAD           VADConfig     `mapstructure:"vad"`

	TurnTimeoutMs           int     `mapstructure:"turn_timeout_ms"`
	ToolTimeoutMs           int     `mapstructure:"tool_timeout_ms"`
	HistoryWindowTurns      int     `mapstructure:"history_window_turns"`
	BargeInStabilityThresh  float64 `mapstructure:"barge_in_stability_threshold"`
	BargeInMinAudioMs       int     `mapstructure:"barge_in_min_audio_ms"`
	SessionTTLSeconds       int     `mapstructure:"session_ttl_seconds"`
	STTSilenceTimeoutMs     int     `mapstructure:"stt_silence_timeout_ms"`
	OutboundQueueHighWater  int     `mapstructure:"outbound_queue_high_water"`
	InboundStallDropAfterMs int     `mapstructure:"inbound_stall_drop_after_ms"`
	GoodbyePhrase           string  `mapstructure:"goodbye_phrase"`

	Credentials map[string]ProviderCredential `mapstructure:"credentials"`
}

// InitConfig wires up a Viper instance reading a YAML/ENV config file
// with environment-variable overrides.
func InitConfig() (*viper.Viper, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName("voicebridge")
	if path := os.Getenv("VOICEBRIDGE_CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix("VOICEBRIDGE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "voicebridge")
	v.SetDefault("VERSION", "0.1.0")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 100)

	v.SetDefault("STREAMING_MODE", string(StreamingModeMedia))

	v.SetDefault("VAD__MODEL_PATH", "")
	v.SetDefault("VAD__THRESHOLD", 0.5)

	v.SetDefault("POOL_SIZES__STT", 256)
	v.SetDefault("POOL_SIZES__TTS", 256)
	v.SetDefault("POOL_SIZES__LLM", 256)

	v.SetDefault("TURN_TIMEOUT_MS", 30000)
	v.SetDefault("TOOL_TIMEOUT_MS", 10000)
	v.SetDefault("HISTORY_WINDOW_TURNS", 8)
	v.SetDefault("BARGE_IN_STABILITY_THRESHOLD", 0.3)
	v.SetDefault("BARGE_IN_MIN_AUDIO_MS", 120)
	v.SetDefault("SESSION_TTL_SECONDS", 86400)
	v.SetDefault("STT_SILENCE_TIMEOUT_MS", 15000)
	v.SetDefault("OUTBOUND_QUEUE_HIGH_WATER", 64)
	v.SetDefault("INBOUND_STALL_DROP_AFTER_MS", 500)
	v.SetDefault("GOODBYE_PHRASE", "I'm having trouble hearing you, so I'll end the call here. Goodbye.")

	v.SetDefault("POSTGRES__HOST", "localhost")
	v.SetDefault("POSTGRES__PORT", 5432)
	v.SetDefault("POSTGRES__DB_NAME", "voicebridge")
	v.SetDefault("POSTGRES__USER", "voicebridge")
	v.SetDefault("POSTGRES__SSL_MODE", "disable")
	v.SetDefault("POSTGRES__MAX_OPEN_CONNECTION", 10)
	v.SetDefault("POSTGRES__MAX_IDEAL_CONNECTION", 10)

	v.SetDefault("REDIS__ADDRESS", "localhost:6379")
	v.SetDefault("REDIS__DB", 0)
}

// GetApplicationConfig unmarshals and validates the config, returning
// ErrorKind::Config (via a *commons.BridgeError, not imported here to avoid
// a cycle — callers wrap with commons.NewError(commons.KindConfig, err))
// on failure. A validation failure here is exit code 1 per §6.
func GetApplicationConfig(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}
