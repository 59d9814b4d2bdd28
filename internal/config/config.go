package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	API     APIConfig
	App     AppConfig
	Upload  UploadConfig
	Studio  StudioConfig
	Retry   RetryConfig
	Request RequestConfig
	Query   QueryConfig
	Chat    ChatConfig
	Log     LogConfig
}

type APIConfig struct {
	BaseURL string `key:"api.base_url" validate:"required,url"`
}

type AppConfig struct {
	Name string `key:"app.name" validate:"required"`
}

type UploadConfig struct {
	MaxSizeBytes int      `key:"upload.max_size_bytes" validate:"gt=0"`
	AllowedTypes []string `key:"upload.allowed_types" validate:"min=1,dive,required"`
	VerifyPDF    bool
}

type StudioConfig struct {
	Enabled bool
}

type RetryConfig struct {
	Attempts    int `key:"retry.attempts" validate:"gte=0,lte=10"`
	BaseDelayMS int `key:"retry.base_delay_ms" validate:"gt=0"`
}

type RequestConfig struct {
	TimeoutMS int `key:"request.timeout_ms" validate:"gt=0"`
}

type QueryConfig struct {
	TopK int `key:"query.top_k" validate:"gte=1,lte=50"`
}

type ChatConfig struct {
	MaxSources int `key:"chat.max_sources" validate:"gte=1"`
}

type LogConfig struct {
	Level string `key:"log.level" validate:"oneof=debug info warn error"`
}

// RetryBaseDelay returns the backoff base as a duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMS) * time.Millisecond
}

// RequestTimeout returns the per-attempt HTTP timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Request.TimeoutMS) * time.Millisecond
}

// Defaults returns the built-in configuration. The base URL has no default.
func Defaults() Config {
	return Config{
		App: AppConfig{Name: "ragdesk"},
		Upload: UploadConfig{
			MaxSizeBytes: 10 << 20,
			AllowedTypes: []string{"application/pdf"},
		},
		Studio: StudioConfig{Enabled: true},
		Retry: RetryConfig{
			Attempts:    3,
			BaseDelayMS: 1000,
		},
		Request: RequestConfig{TimeoutMS: 60000},
		Query:   QueryConfig{TopK: 5},
		Chat:    ChatConfig{MaxSources: 3},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/ragdesk/config.json, a .env file in the working
// directory, and environment variables (RAGDESK_*), in increasing order of
// precedence. Values in .env never replace variables already set in the
// environment.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend, envFiles ...string) (Config, error) {
	cfg := Defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	// A missing .env file is normal.
	_ = godotenv.Load(envFiles...)
	applyEnvOverrides(&cfg)

	if cfg.API.BaseURL == "" {
		return Config{}, fmt.Errorf("missing required config: backend base URL. " +
			"Set it via environment variable RAGDESK_API_BASE_URL or run `ragdesk config set api.base_url <url>`")
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	return cfg, nil
}

var validate = newValidator()

func newValidator() func(Config) error {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if k := f.Tag.Get("key"); k != "" {
			return k
		}
		return f.Name
	})
	return func(cfg Config) error {
		err := v.Struct(cfg)
		if err == nil {
			return nil
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validating config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msg := fmt.Sprintf("%s fails %q", fe.Field(), fe.Tag())
			if fe.Param() != "" {
				msg = fmt.Sprintf("%s fails %q (%s)", fe.Field(), fe.Tag(), fe.Param())
			}
			msgs = append(msgs, msg)
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
}
