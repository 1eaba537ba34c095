// Package server provides configuration helpers that define runtime defaults,
// validation, and capacity limits for the chat relay.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultChatAddr        = ":8888"
	defaultHTTPAddr        = ":8080"
	defaultMaxClients      = 100
	defaultMaxLineLength   = 2048
	defaultMaxNameLength   = 31
	defaultMaxRoomLength   = 31
	defaultSendQueueSize   = 256
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultPIDFile         = "/tmp/chat_server.pid"
	defaultChannelPrefix   = "chat:room:"
	defaultEnv             = "dev"
	defaultAllowedOrigin   = "http://localhost:8080"
)

// Config holds the relay configuration including capacity and transport limits.
// Defaults live in NewConfig; the env tags only name the variables.
type Config struct {
	Env            string   `env:"APP_ENV"`
	ChatAddr       string   `env:"CHAT_ADDR"`
	HTTPAddr       string   `env:"HTTP_ADDR"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	MaxClients    int `env:"MAX_CLIENTS"`
	MaxLineLength int `env:"MAX_LINE_LENGTH"`
	MaxNameLength int `env:"MAX_NAME_LENGTH"`
	MaxRoomLength int `env:"MAX_ROOM_LENGTH"`
	SendQueueSize int `env:"SEND_QUEUE_SIZE"`

	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`

	PIDFile string `env:"PID_FILE"`

	// Redis settings are optional; an empty address disables the room mirror.
	RedisAddr          string `env:"REDIS_ADDR"`
	RedisDB            int    `env:"REDIS_DB"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := Config{
		Env:                defaultEnv,
		ChatAddr:           defaultChatAddr,
		HTTPAddr:           defaultHTTPAddr,
		AllowedOrigins:     []string{defaultAllowedOrigin},
		MaxClients:         defaultMaxClients,
		MaxLineLength:      defaultMaxLineLength,
		MaxNameLength:      defaultMaxNameLength,
		MaxRoomLength:      defaultMaxRoomLength,
		SendQueueSize:      defaultSendQueueSize,
		WriteTimeout:       defaultWriteTimeout,
		ShutdownTimeout:    defaultShutdownTimeout,
		PIDFile:            defaultPIDFile,
		RedisChannelPrefix: defaultChannelPrefix,
	}
	return &cfg
}

// NewConfigFromEnv loads an optional .env file and then parses the process
// environment over NewConfig. Unset variables keep their defaults.
func NewConfigFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := NewConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	// env leaves preset values alone for empty variables, but an empty
	// HTTP_ADDR is how the side server is switched off.
	if addr, ok := os.LookupEnv("HTTP_ADDR"); ok && addr == "" {
		cfg.HTTPAddr = ""
	}
	sanitized := cfg.sanitize()
	return &sanitized, nil
}

// sanitize replaces out-of-range values with defaults. The chat address is
// never blanked; the HTTP address may be empty to disable the side server.
func (c Config) sanitize() Config {
	if c.ChatAddr == "" {
		c.ChatAddr = defaultChatAddr
	}
	if c.MaxClients <= 0 {
		c.MaxClients = defaultMaxClients
	}
	if c.MaxLineLength < 16 {
		c.MaxLineLength = defaultMaxLineLength
	}
	if c.MaxNameLength <= 0 {
		c.MaxNameLength = defaultMaxNameLength
	}
	if c.MaxRoomLength <= 0 {
		c.MaxRoomLength = defaultMaxRoomLength
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.PIDFile == "" {
		c.PIDFile = defaultPIDFile
	}
	if c.RedisChannelPrefix == "" {
		c.RedisChannelPrefix = defaultChannelPrefix
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}
