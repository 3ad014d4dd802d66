// Package config loads the chat server configuration. Values come from a
// TOML file, then from the process environment (optionally seeded by a .env
// file), with defaults for everything that is left unset.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string        `toml:"addr"`
	Mode           string        `toml:"mode"` // gin mode: debug|release|test
	ReadTimeout    time.Duration `toml:"readTimeout"`
	WriteTimeout   time.Duration `toml:"writeTimeout"`
	AllowedOrigins []string      `toml:"allowedOrigins"`
}

// PostgresConfig points at the room/history database.
type PostgresConfig struct {
	DSN string `toml:"dsn"`
}

// RedisConfig points at the session binding registry.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// LogConfig configures zap and lumberjack rotation.
type LogConfig struct {
	LogPath    string `toml:"logPath"`
	FileName   string `toml:"fileName"`
	MaxSize    int    `toml:"maxSize"`    // MB
	MaxBackups int    `toml:"maxBackups"` // files
	MaxAge     int    `toml:"maxAge"`     // days
	Level      string `toml:"level"`
	Mode       string `toml:"mode"` // dev also logs to stdout
}

// ChatConfig controls the room lifecycle.
type ChatConfig struct {
	InactivityTimeout time.Duration `toml:"inactivityTimeout"`
	ReconnectGrace    time.Duration `toml:"reconnectGrace"`
	SweepInterval     time.Duration `toml:"sweepInterval"`
	SessionTTL        time.Duration `toml:"sessionTTL"`
	MaxBodyBytes      int           `toml:"maxBodyBytes"`
	SendRPS           float64       `toml:"sendRPS"`
	SendBurst         int           `toml:"sendBurst"`
	// RecycleRooms returns a room that dropped back to one member to the
	// idle pool so a new stranger can join the remaining participant.
	RecycleRooms   bool `toml:"recycleRooms"`
	PersistWorkers int  `toml:"persistWorkers"`
	PersistBuffer  int  `toml:"persistBuffer"`
}

// JWTConfig signs session tokens.
type JWTConfig struct {
	Secret string `toml:"secret"`
	Issuer string `toml:"issuer"`
}

// Config aggregates every section.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Log      LogConfig      `toml:"log"`
	Chat     ChatConfig     `toml:"chat"`
	JWT      JWTConfig      `toml:"jwt"`
}

// searchPaths are tried in order when Load is called without a path.
var searchPaths = []string{
	"configs/config_local.toml",
	"configs/config.toml",
	"../../configs/config_local.toml",
	"../../configs/config.toml",
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         DefaultAddr,
			Mode:         "release",
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Postgres: PostgresConfig{
			DSN: "host=localhost user=user password=password dbname=sparetalk port=5432 sslmode=disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Log: LogConfig{
			LogPath:    "logs",
			MaxSize:    DefaultLogMaxSize,
			MaxBackups: DefaultLogMaxBackups,
			MaxAge:     DefaultLogMaxAge,
			Level:      DefaultLogLevel,
			Mode:       "dev",
		},
		Chat: ChatConfig{
			InactivityTimeout: DefaultInactivityTimeout,
			ReconnectGrace:    DefaultReconnectGrace,
			SweepInterval:     DefaultSweepInterval,
			SessionTTL:        DefaultSessionTTL,
			MaxBodyBytes:      DefaultMaxBodyBytes,
			SendRPS:           DefaultSendRPS,
			SendBurst:         DefaultSendBurst,
			PersistWorkers:    DefaultPersistWorkers,
			PersistBuffer:     DefaultPersistBuffer,
		},
		JWT: JWTConfig{Issuer: "sparetalk"},
	}
}

// Load builds the configuration. An explicit path must exist; with an empty
// path the search paths are tried and a missing file is not an error.
func Load(path string) (Config, error) {
	// .env is optional, as in local development.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	} else {
		for _, p := range searchPaths {
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if _, err := toml.DecodeFile(p, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config %s: %w", p, err)
			}
			break
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv lets the environment override whatever the file said.
func applyEnv(cfg *Config) {
	cfg.Server.Addr = getenv("SPARETALK_ADDR", cfg.Server.Addr)
	cfg.Server.Mode = strings.ToLower(getenv("GIN_MODE", cfg.Server.Mode))
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitCSV(origins)
	}
	cfg.Postgres.DSN = getenv("DATABASE_DSN", cfg.Postgres.DSN)
	cfg.Redis.Addr = getenv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getint("REDIS_DB", cfg.Redis.DB)
	cfg.Log.Level = strings.ToLower(getenv("LOG_LEVEL", cfg.Log.Level))
	cfg.Log.Mode = getenv("LOG_MODE", cfg.Log.Mode)
	cfg.Chat.InactivityTimeout = getdur("CHAT_INACTIVITY_TIMEOUT", cfg.Chat.InactivityTimeout)
	cfg.Chat.ReconnectGrace = getdur("CHAT_RECONNECT_GRACE", cfg.Chat.ReconnectGrace)
	cfg.Chat.SweepInterval = getdur("CHAT_SWEEP_INTERVAL", cfg.Chat.SweepInterval)
	cfg.Chat.RecycleRooms = getbool("CHAT_RECYCLE_ROOMS", cfg.Chat.RecycleRooms)
	cfg.JWT.Secret = getenv("JWT_SECRET", cfg.JWT.Secret)
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt secret is required (JWT_SECRET)"))
	}
	if c.Chat.InactivityTimeout <= 0 {
		errs = append(errs, errors.New("chat.inactivityTimeout must be positive"))
	}
	if c.Chat.SweepInterval <= 0 {
		errs = append(errs, errors.New("chat.sweepInterval must be positive"))
	}
	if c.Chat.ReconnectGrace < 0 {
		errs = append(errs, errors.New("chat.reconnectGrace must not be negative"))
	}
	if c.Chat.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("chat.maxBodyBytes must be positive"))
	}
	if c.Chat.SendBurst <= 0 {
		errs = append(errs, errors.New("chat.sendBurst must be positive"))
	}
	return errors.Join(errs...)
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
