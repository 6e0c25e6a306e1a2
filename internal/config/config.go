package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	Addr          string
	DatabaseURL   string
	SaveDir       string
	SaveSlot      string
	TickEvery     time.Duration
	AutosaveEvery time.Duration
	Seed          int64
	BalancePath   string
	MaxOffline    time.Duration
	AutoStart     bool
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadServerFromEnv() (ServerConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TYCOON_ADDR", ":8080")
	}

	cfg := ServerConfig{
		Addr:          addr,
		DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SaveDir:       envDefault("TYCOON_SAVE_DIR", "./data/saves"),
		SaveSlot:      envDefault("TYCOON_SAVE_SLOT", "autosave"),
		TickEvery:     envDurationDefault("TYCOON_TICK_EVERY", 100*time.Millisecond),
		AutosaveEvery: envDurationDefault("TYCOON_AUTOSAVE_EVERY", time.Minute),
		Seed:          envIntDefault("TYCOON_SEED", time.Now().UnixNano()),
		BalancePath:   strings.TrimSpace(os.Getenv("TYCOON_BALANCE")),
		MaxOffline:    envDurationDefault("TYCOON_MAX_OFFLINE", 24*time.Hour),
		AutoStart:     envBoolDefault("TYCOON_AUTOSTART", true),
	}
	if cfg.TickEvery <= 0 {
		return cfg, fmt.Errorf("TYCOON_TICK_EVERY must be > 0")
	}
	if cfg.AutosaveEvery < 0 {
		return cfg, fmt.Errorf("TYCOON_AUTOSAVE_EVERY must be >= 0")
	}
	if cfg.MaxOffline < 0 {
		return cfg, fmt.Errorf("TYCOON_MAX_OFFLINE must be >= 0")
	}
	return cfg, nil
}

// MaxOfflineTicks converts the offline cap into ticks at the configured cadence.
func (c ServerConfig) MaxOfflineTicks() int64 {
	if c.TickEvery <= 0 {
		return 0
	}
	return int64(c.MaxOffline / c.TickEvery)
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TYCOON_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
