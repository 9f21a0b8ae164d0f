package config

import (
	"bufio"
	"os"
	"strings"
	"time"

	"github.com/pulse-presence/internal/logger"
	"gopkg.in/yaml.v3"
)

// loadEnv reads .env only outside production (in containers/prod the config
// comes from the environment alone).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for i := 0; i < 5; i++ {
		path := dir + "/.env"
		f, err := os.Open(path)
		if err == nil {
			loadEnvFrom(f)
			f.Close()
			return
		}
		parent := strings.TrimSuffix(dir, "/")
		if idx := strings.LastIndex(parent, "/"); idx <= 0 {
			return
		} else {
			dir = parent[:idx]
			if dir == "" {
				dir = "/"
			}
		}
	}
}

func loadEnvFrom(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		if len(val) >= 2 && (val[0] == '"' && val[len(val)-1] == '"' || val[0] == '\'' && val[len(val)-1] == '\'') {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// RedisConfig is the backing store for locally persisted state (spy-mode flag
// and read markers). Empty URL means the in-memory store is used instead.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SessionConfig identifies the local user the engine runs on behalf of.
type SessionConfig struct {
	UserID   string `yaml:"user_id"`
	UserName string `yaml:"user_name"`
	CanSpy   bool   `yaml:"can_spy"`
}

// Config holds the engine settings.
// Priority: environment variables > YAML file > defaults.
type Config struct {
	// Portal REST API (teams, contacts, preferences, mutations).
	PortalBaseURL string `yaml:"portal_base_url"`
	PortalToken   string `yaml:"portal_token"`

	// Pub/sub transport endpoint (websocket).
	TransportURL string `yaml:"transport_url"`

	// Typing presence.
	TypingTTL   time.Duration `yaml:"-"`
	TypingSweep time.Duration `yaml:"-"`

	// Toast auto-dismiss window.
	ToastDismiss time.Duration `yaml:"-"`

	// Web push.
	VAPIDKeysFile  string `yaml:"vapid_keys_file"`
	PushSubscriber string `yaml:"push_subscriber"`

	Redis   RedisConfig   `yaml:"redis"`
	Session SessionConfig `yaml:"session"`

	LogLevel string `yaml:"log_level"`
}

// yamlConfig is the intermediate parse structure (durations as seconds).
type yamlConfig struct {
	PortalBaseURL       string        `yaml:"portal_base_url"`
	PortalToken         string        `yaml:"portal_token"`
	TransportURL        string        `yaml:"transport_url"`
	TypingTTLSeconds    float64       `yaml:"typing_ttl_seconds"`
	TypingSweepSeconds  float64       `yaml:"typing_sweep_seconds"`
	ToastDismissSeconds float64       `yaml:"toast_dismiss_seconds"`
	VAPIDKeysFile       string        `yaml:"vapid_keys_file"`
	PushSubscriber      string        `yaml:"push_subscriber"`
	Redis               RedisConfig   `yaml:"redis"`
	Session             SessionConfig `yaml:"session"`
	LogLevel            string        `yaml:"log_level"`
}

// Load loads the configuration. Variables from .env are applied first (if
// present), then YAML, then the environment (environment wins).
func Load() *Config {
	loadEnv()
	yc := yamlConfig{
		PortalBaseURL:       "http://localhost:8080",
		TransportURL:        "ws://localhost:8080/broadcast",
		TypingTTLSeconds:    3,
		TypingSweepSeconds:  1,
		ToastDismissSeconds: 8,
		VAPIDKeysFile:       "config/vapid.json",
		LogLevel:            "info",
	}

	paths := []string{os.Getenv("CONFIG_PATH"), "config/presence.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			logger.Errorf("config: parse %s: %v (falling back to defaults)", path, err)
		} else {
			logger.Infof("config: loaded %s", path)
		}
		break
	}

	cfg := &Config{
		PortalBaseURL:  yc.PortalBaseURL,
		PortalToken:    yc.PortalToken,
		TransportURL:   yc.TransportURL,
		TypingTTL:      secs(yc.TypingTTLSeconds, 3*time.Second),
		TypingSweep:    secs(yc.TypingSweepSeconds, time.Second),
		ToastDismiss:   secs(yc.ToastDismissSeconds, 8*time.Second),
		VAPIDKeysFile:  yc.VAPIDKeysFile,
		PushSubscriber: yc.PushSubscriber,
		Redis:          yc.Redis,
		Session:        yc.Session,
		LogLevel:       yc.LogLevel,
	}

	applyEnv(&cfg.PortalBaseURL, "PORTAL_BASE_URL")
	applyEnv(&cfg.PortalToken, "PORTAL_TOKEN")
	applyEnv(&cfg.TransportURL, "TRANSPORT_URL")
	applyEnv(&cfg.Redis.URL, "REDIS_URL")
	applyEnv(&cfg.VAPIDKeysFile, "VAPID_KEYS_FILE")
	applyEnv(&cfg.PushSubscriber, "PUSH_SUBSCRIBER")
	applyEnv(&cfg.Session.UserID, "SESSION_USER_ID")
	applyEnv(&cfg.Session.UserName, "SESSION_USER_NAME")
	applyEnv(&cfg.LogLevel, "LOG_LEVEL")
	if v := os.Getenv("SESSION_CAN_SPY"); v != "" {
		cfg.Session.CanSpy = v == "1" || strings.EqualFold(v, "true")
	}

	if cfg.LogLevel != "" && os.Getenv("LOG_LEVEL") == "" {
		os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	return cfg
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func secs(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}
