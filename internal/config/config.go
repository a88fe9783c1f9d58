package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                   string   `yaml:"port"`
	Env                    string   `yaml:"env"`
	LogLevel               string   `yaml:"log_level"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	DefaultDocument        string   `yaml:"default_document"`
	DefaultLanguage        string   `yaml:"default_language"`
	ChatHistoryLimit       int      `yaml:"chat_history_limit"`
	CursorStaleSeconds     int      `yaml:"cursor_stale_seconds"`
	WsEventsPerSecond      float64  `yaml:"ws_events_per_second"`
	WsEventBurst           int      `yaml:"ws_event_burst"`
	WsMaxMessageBytes      int64    `yaml:"ws_max_message_bytes"`
	HTTPRequestsPerSecond  float64  `yaml:"http_requests_per_second"`
	HTTPBurst              int      `yaml:"http_burst"`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds"`
}

// Default 返回开发环境可直接使用的配置。
func Default() Config {
	return Config{
		Port:                   "3001",
		Env:                    "dev",
		LogLevel:               "info",
		AllowedOrigins:         []string{"http://localhost:3000", "http://localhost:3001"},
		DefaultDocument:        "// Welcome to the collaborative room!\nconsole.log(\"Hello, World!\");",
		DefaultLanguage:        "javascript",
		ChatHistoryLimit:       100,
		CursorStaleSeconds:     10,
		WsEventsPerSecond:      60,
		WsEventBurst:           120,
		WsMaxMessageBytes:      1 << 20,
		HTTPRequestsPerSecond:  20,
		HTTPBurst:              40,
		ShutdownTimeoutSeconds: 15,
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析失败或非正数时回落到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// Load 依次叠加默认值、CONFIG_FILE 指向的 YAML 文件（支持 ${VAR} 展开）和环境变量。
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.Port = getenv("APP_PORT", cfg.Port)
	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigins = getenvList("ALLOWED_ORIGINS", cfg.AllowedOrigins)
	cfg.DefaultLanguage = getenv("DEFAULT_LANGUAGE", cfg.DefaultLanguage)
	cfg.ChatHistoryLimit = getenvInt("CHAT_HISTORY_LIMIT", cfg.ChatHistoryLimit)
	cfg.CursorStaleSeconds = getenvInt("CURSOR_STALE_SECONDS", cfg.CursorStaleSeconds)
	cfg.WsEventsPerSecond = getenvFloat("WS_EVENTS_PER_SECOND", cfg.WsEventsPerSecond)
	cfg.WsEventBurst = getenvInt("WS_EVENT_BURST", cfg.WsEventBurst)
	cfg.WsMaxMessageBytes = int64(getenvInt("WS_MAX_MESSAGE_BYTES", int(cfg.WsMaxMessageBytes)))
	cfg.HTTPRequestsPerSecond = getenvFloat("HTTP_REQUESTS_PER_SECOND", cfg.HTTPRequestsPerSecond)
	cfg.HTTPBurst = getenvInt("HTTP_BURST", cfg.HTTPBurst)
	cfg.ShutdownTimeoutSeconds = getenvInt("SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownTimeoutSeconds)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// Validate 在启动时拒绝明显错误的配置。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return fmt.Errorf("invalid port %q", cfg.Port)
	}
	if cfg.ChatHistoryLimit <= 0 {
		return errors.New("chat_history_limit must be positive")
	}
	if cfg.CursorStaleSeconds <= 0 {
		return errors.New("cursor_stale_seconds must be positive")
	}
	if cfg.WsEventsPerSecond <= 0 || cfg.WsEventBurst <= 0 {
		return errors.New("websocket event rate and burst must be positive")
	}
	if cfg.WsMaxMessageBytes <= 0 {
		return errors.New("ws_max_message_bytes must be positive")
	}
	if cfg.DefaultLanguage == "" {
		return errors.New("default_language is required")
	}
	if cfg.Env != "dev" {
		for _, o := range cfg.AllowedOrigins {
			if o == "*" {
				return errors.New("wildcard allowed origin is only permitted in dev")
			}
		}
	}
	return nil
}

func (c Config) CursorStaleAfter() time.Duration {
	return time.Duration(c.CursorStaleSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
