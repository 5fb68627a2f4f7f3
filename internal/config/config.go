package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	BackendAPIURL          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	CatalogCacheTTLSeconds int
	SessionSecret          string
	SessionTTLMinutes      int
	PrinterType            string
	PrinterDevice          string
	PrinterAddress         string
	PrintCommand           string
	PrintCloseDelayMS      int
	ReceiptWidth           int
	ReceiptCurrency        string
	StoreName              string
	Timezone               string
	LogLevel               string
}

// Load reads configuration from the environment, falling back to a .env file
// in the working directory and then to defaults.
func Load() (Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file. A missing file is not an error.
// An unreadable one is returned alongside a Config built from the environment
// and defaults, so the caller can log it and carry on.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	var fileErr error
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fileErr = fmt.Errorf("read %s: %w", path, err)
	}
	v.AutomaticEnv()
	setDefaults(v)
	return fromViper(v), fileErr
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CATALOG_CACHE_TTL_SECONDS", 60)
	v.SetDefault("SESSION_TTL_MINUTES", 720)
	v.SetDefault("PRINTER_TYPE", "none")
	v.SetDefault("PRINT_COMMAND", "lp")
	v.SetDefault("PRINT_CLOSE_DELAY_MS", 500)
	v.SetDefault("RECEIPT_WIDTH", 48)
	v.SetDefault("STORE_NAME", "Storefront")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("LOG_LEVEL", "info")
}

func fromViper(v *viper.Viper) Config {
	cfg := Config{
		Port:                   strings.TrimSpace(v.GetString("PORT")),
		AllowedOrigin:          strings.TrimSpace(v.GetString("ALLOWED_ORIGIN")),
		BackendAPIURL:          strings.TrimRight(strings.TrimSpace(v.GetString("BACKEND_API_URL")), "/"),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		CatalogCacheTTLSeconds: v.GetInt("CATALOG_CACHE_TTL_SECONDS"),
		SessionSecret:          strings.TrimSpace(v.GetString("SESSION_SECRET")),
		SessionTTLMinutes:      v.GetInt("SESSION_TTL_MINUTES"),
		PrinterType:            strings.ToLower(strings.TrimSpace(v.GetString("PRINTER_TYPE"))),
		PrinterDevice:          strings.TrimSpace(v.GetString("PRINTER_DEVICE")),
		PrinterAddress:         strings.TrimSpace(v.GetString("PRINTER_ADDRESS")),
		PrintCommand:           strings.TrimSpace(v.GetString("PRINT_COMMAND")),
		PrintCloseDelayMS:      v.GetInt("PRINT_CLOSE_DELAY_MS"),
		ReceiptWidth:           v.GetInt("RECEIPT_WIDTH"),
		ReceiptCurrency:        strings.TrimSpace(v.GetString("RECEIPT_CURRENCY")),
		StoreName:              strings.TrimSpace(v.GetString("STORE_NAME")),
		Timezone:               strings.TrimSpace(v.GetString("TIMEZONE")),
		LogLevel:               strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.RedisDB < 0 {
		cfg.RedisDB = 0
	}
	if cfg.CatalogCacheTTLSeconds < 0 {
		cfg.CatalogCacheTTLSeconds = 0
	}
	if cfg.SessionTTLMinutes < 1 {
		cfg.SessionTTLMinutes = 720
	}
	if cfg.PrintCloseDelayMS < 1 {
		cfg.PrintCloseDelayMS = 500
	}
	if cfg.ReceiptWidth < 24 {
		cfg.ReceiptWidth = 48
	}
	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) CatalogCacheTTL() time.Duration {
	return time.Duration(c.CatalogCacheTTLSeconds) * time.Second
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c Config) PrintCloseDelay() time.Duration {
	return time.Duration(c.PrintCloseDelayMS) * time.Millisecond
}

// Location resolves TIMEZONE, used for invoice dates and times.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
