package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBFile       string
	AdminAddr    string
	APIAddr      string
	BaseURL      string
	UploadsPath  string
	AuthSecret   string
	TokenExpiry  time.Duration
	ToastTTL     time.Duration
	VAPIDPublic  string
	VAPIDPrivate string
	PushContact  string
}

func Load(cliMode bool) (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}

	toastTTL, err := time.ParseDuration(getEnv("TOAST_TTL", "4s"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:       getEnv("TOMODACHI_DB", "tomodachi.db"),
		AdminAddr:    getEnv("ADMIN_ADDR", "localhost:8081"),
		APIAddr:      getEnv("API_ADDR", ":8080"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:8080"),
		UploadsPath:  getEnv("UPLOADS_PATH", "uploads"),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		TokenExpiry:  tokenExpiry,
		ToastTTL:     toastTTL,
		VAPIDPublic:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivate: os.Getenv("VAPID_PRIVATE_KEY"),
		PushContact:  getEnv("PUSH_CONTACT", "mailto:admin@tomodachi.link"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AuthSecret == "" && !cliMode {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.ToastTTL <= 0 {
		return fmt.Errorf("TOAST_TTL must be greater than 0")
	}

	// Web push is optional, but the key pair must be complete.
	if (c.VAPIDPublic == "") != (c.VAPIDPrivate == "") {
		return fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
