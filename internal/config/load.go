package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. ROLLCALL_SERVER_PORT
const EnvPrefix = "ROLLCALL"

// Load reads configuration from defaults, an optional config file and
// ROLLCALL_* environment variables, in increasing precedence, then
// validates it. An empty configPath looks for rollcall.yaml in the working
// directory or /etc/rollcall and continues without it when absent.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rollcall")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rollcall")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.debug", false)

	v.SetDefault("database.path", "rollcall.db")

	v.SetDefault("attendance.cycle_interval", "15s")
	v.SetDefault("attendance.recognition_concurrency", 3)
	v.SetDefault("attendance.work_dir", "data")

	v.SetDefault("capture.ffmpeg_path", "ffmpeg")
	v.SetDefault("capture.rtsp_port", 554)
	v.SetDefault("capture.stream_path", "/stream1")
	v.SetDefault("capture.transport", "tcp")
	v.SetDefault("capture.timeout", "15s")

	v.SetDefault("recognition.backend", "http")
	v.SetDefault("recognition.endpoint", "http://localhost:8000")
	v.SetDefault("recognition.command", "")
	v.SetDefault("recognition.timeout", "60s")
	v.SetDefault("recognition.similarity_threshold", 0.3)

	v.SetDefault("delivery.default_recipient", "")
	v.SetDefault("delivery.smtp.host", "")
	v.SetDefault("delivery.smtp.port", 0)
	v.SetDefault("delivery.smtp.username", "")
	v.SetDefault("delivery.smtp.password", "")
	v.SetDefault("delivery.smtp.from", "")
	v.SetDefault("delivery.smtp.ssl", false)
	v.SetDefault("delivery.telegram.bot_token", "")
	v.SetDefault("delivery.telegram.api_base", "")
	v.SetDefault("delivery.telegram.control_chats", []string{})
}
