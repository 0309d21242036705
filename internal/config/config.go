package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"animewife/internal/wife"
)

type BotConfig struct {
	DataDir      string `yaml:"data_dir"`
	ImageDir     string `yaml:"image_dir"`
	ImageBaseURL string `yaml:"image_base_url"`
	ImageListURL string `yaml:"image_list_url"`

	NeedPrefix bool     `yaml:"need_prefix"`
	Admins     []string `yaml:"admins"`
	AdminsFile string   `yaml:"admins_file"`

	APIAddr     string `yaml:"api_addr"`
	APIToken    string `yaml:"api_token"`
	DatabaseURL string `yaml:"database_url"`

	DiscordToken string `yaml:"discord_token"`
	WhatsAppDSN  string `yaml:"whatsapp_dsn"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	Game GameConfig `yaml:"game"`
}

// GameConfig is the YAML shape of wife.Config.
type GameConfig struct {
	BackpackSize  int           `yaml:"backpack_size"`
	ContestMax    int           `yaml:"contest_max"`
	ContestChance float64       `yaml:"contest_chance"`
	RerollMax     int           `yaml:"reroll_max"`
	TradeMax      int           `yaml:"trade_max"`
	ResetMax      int           `yaml:"reset_max"`
	ResetChance   float64       `yaml:"reset_chance"`
	ResetMute     time.Duration `yaml:"reset_mute"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

func (g GameConfig) Wife() wife.Config {
	return wife.Config{
		BackpackSize:  g.BackpackSize,
		ContestMax:    g.ContestMax,
		ContestChance: g.ContestChance,
		RerollMax:     g.RerollMax,
		TradeMax:      g.TradeMax,
		ResetMax:      g.ResetMax,
		ResetChance:   g.ResetChance,
		ResetMute:     g.ResetMute,
		FetchTimeout:  g.FetchTimeout,
	}
}

type CLIConfig struct {
	APIBaseURL string
}

func defaults() BotConfig {
	w := wife.DefaultConfig()
	return BotConfig{
		DataDir:  "./data",
		APIAddr:  ":8080",
		LogLevel: "info",
		Game: GameConfig{
			BackpackSize:  w.BackpackSize,
			ContestMax:    w.ContestMax,
			ContestChance: w.ContestChance,
			RerollMax:     w.RerollMax,
			TradeMax:      w.TradeMax,
			ResetMax:      w.ResetMax,
			ResetChance:   w.ResetChance,
			ResetMute:     w.ResetMute,
			FetchTimeout:  w.FetchTimeout,
		},
	}
}

// LoadBotFromEnv builds the bot configuration from defaults, the optional
// YAML file named by WIFE_CONFIG_FILE and then the environment.
func LoadBotFromEnv() (BotConfig, error) {
	cfg, err := loadFile(os.Getenv("WIFE_CONFIG_FILE"))
	if err != nil {
		return cfg, err
	}

	cfg.DataDir = envDefault("WIFE_DATA_DIR", cfg.DataDir)
	cfg.ImageDir = envDefault("WIFE_IMAGE_DIR", cfg.ImageDir)
	if cfg.ImageDir == "" {
		cfg.ImageDir = filepath.Join(cfg.DataDir, "img", "wife")
	}
	cfg.ImageBaseURL = envDefault("WIFE_IMAGE_BASE_URL", cfg.ImageBaseURL)
	cfg.ImageListURL = envDefault("WIFE_IMAGE_LIST_URL", cfg.ImageListURL)
	if cfg.ImageBaseURL != "" && !strings.HasSuffix(cfg.ImageBaseURL, "/") {
		cfg.ImageBaseURL += "/"
	}

	cfg.NeedPrefix = envBoolDefault("WIFE_NEED_PREFIX", cfg.NeedPrefix)
	if v := strings.TrimSpace(os.Getenv("WIFE_ADMINS")); v != "" {
		cfg.Admins = splitList(v)
	}
	cfg.AdminsFile = envDefault("WIFE_ADMINS_FILE", cfg.AdminsFile)

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.APIAddr = port
	} else {
		cfg.APIAddr = envDefault("WIFE_API_ADDR", cfg.APIAddr)
	}
	cfg.APIToken = envDefault("WIFE_API_TOKEN", cfg.APIToken)
	cfg.DatabaseURL = envDefault("WIFE_DATABASE_URL", cfg.DatabaseURL)
	cfg.DiscordToken = envDefault("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.WhatsAppDSN = envDefault("WHATSAPP_DSN", cfg.WhatsAppDSN)
	cfg.LogLevel = strings.ToLower(envDefault("WIFE_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFile = envDefault("WIFE_LOG_FILE", cfg.LogFile)

	g := &cfg.Game
	g.BackpackSize = envIntDefault("WIFE_BACKPACK_SIZE", g.BackpackSize)
	g.ContestMax = envIntDefault("WIFE_CONTEST_MAX", g.ContestMax)
	g.ContestChance = envFloatDefault("WIFE_CONTEST_CHANCE", g.ContestChance)
	g.RerollMax = envIntDefault("WIFE_REROLL_MAX", g.RerollMax)
	g.TradeMax = envIntDefault("WIFE_TRADE_MAX", g.TradeMax)
	g.ResetMax = envIntDefault("WIFE_RESET_MAX", g.ResetMax)
	g.ResetChance = envFloatDefault("WIFE_RESET_CHANCE", g.ResetChance)
	g.ResetMute = envDurationDefault("WIFE_RESET_MUTE", g.ResetMute)
	g.FetchTimeout = envDurationDefault("WIFE_FETCH_TIMEOUT", g.FetchTimeout)

	if err := g.Wife().Validate(); err != nil {
		return cfg, fmt.Errorf("invalid game config: %w", err)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return cfg, fmt.Errorf("WIFE_LOG_LEVEL must be one of debug, info, warn, error")
	}
	return cfg, nil
}

func loadFile(path string) (BotConfig, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("WIFECTL_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func splitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
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

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
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
