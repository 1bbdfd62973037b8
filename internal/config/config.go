package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Attendance  AttendanceConfig  `mapstructure:"attendance"`
	Capture     CaptureConfig     `mapstructure:"capture"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Delivery    DeliveryConfig    `mapstructure:"delivery"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	Debug    bool   `mapstructure:"debug"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AttendanceConfig tunes the session loops.
type AttendanceConfig struct {
	CycleInterval          time.Duration `mapstructure:"cycle_interval" validate:"gt=0"`
	RecognitionConcurrency int           `mapstructure:"recognition_concurrency" validate:"gte=1,lte=32"`
	// WorkDir holds screenshots/ and sheets/
	WorkDir string `mapstructure:"work_dir"`
}

// CaptureConfig controls ffmpeg frame grabs.
type CaptureConfig struct {
	FFmpegPath string        `mapstructure:"ffmpeg_path"`
	RTSPPort   int           `mapstructure:"rtsp_port" validate:"gt=0,lt=65536"`
	StreamPath string        `mapstructure:"stream_path" validate:"required,startswith=/"`
	Transport  string        `mapstructure:"transport" validate:"oneof=tcp udp"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// RecognitionConfig selects the recognition backend.
type RecognitionConfig struct {
	Backend             string        `mapstructure:"backend" validate:"oneof=http grpc exec"`
	Endpoint            string        `mapstructure:"endpoint" validate:"required_unless=Backend exec"`
	Command             string        `mapstructure:"command" validate:"required_if=Backend exec"`
	Timeout             time.Duration `mapstructure:"timeout" validate:"gt=0"`
	SimilarityThreshold float64       `mapstructure:"similarity_threshold" validate:"gte=0,lte=1"`
}

// DeliveryConfig contains roster delivery settings. Channels left
// unconfigured are disabled.
type DeliveryConfig struct {
	DefaultRecipient string         `mapstructure:"default_recipient"`
	SMTP             SMTPConfig     `mapstructure:"smtp"`
	Telegram         TelegramConfig `mapstructure:"telegram"`
}

// SMTPConfig contains outgoing mail settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"gte=0,lt=65536"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"omitempty,email"`
	SSL      bool   `mapstructure:"ssl"`
}

// Enabled reports whether mail delivery is configured
func (c SMTPConfig) Enabled() bool { return c.Host != "" }

// TelegramConfig contains Telegram bot settings.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base" validate:"omitempty,url"`
	// ControlChats are the chat ids allowed to start and stop attendance
	// with bot commands. Empty disables command polling.
	ControlChats []string `mapstructure:"control_chats" validate:"dive,numeric"`
}

// Enabled reports whether Telegram delivery is configured
func (c TelegramConfig) Enabled() bool { return c.BotToken != "" }
