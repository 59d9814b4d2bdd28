package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "api.base_url", typ: kString, env: "RAGDESK_API_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.API.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.API.BaseURL },
	},
	{
		key: "app.name", typ: kString, env: "RAGDESK_APP_NAME",
		apply:   func(cfg *Config, v any) { cfg.App.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.App.Name },
	},
	{
		key: "upload.max_size_bytes", typ: kInt, env: "RAGDESK_UPLOAD_MAX_SIZE_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxSizeBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.MaxSizeBytes },
	},
	{
		key: "upload.allowed_types", typ: kList, env: "RAGDESK_UPLOAD_ALLOWED_TYPES",
		apply:   func(cfg *Config, v any) { cfg.Upload.AllowedTypes = v.([]string) },
		extract: func(cfg Config) any { return strings.Join(cfg.Upload.AllowedTypes, ",") },
	},
	{
		key: "upload.verify_pdf", typ: kBool, env: "RAGDESK_UPLOAD_VERIFY_PDF",
		apply:   func(cfg *Config, v any) { cfg.Upload.VerifyPDF = v.(bool) },
		extract: func(cfg Config) any { return cfg.Upload.VerifyPDF },
	},
	{
		key: "studio.enabled", typ: kBool, env: "RAGDESK_STUDIO_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Studio.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Studio.Enabled },
	},
	{
		key: "retry.attempts", typ: kInt, env: "RAGDESK_RETRY_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Retry.Attempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.Attempts },
	},
	{
		key: "retry.base_delay_ms", typ: kInt, env: "RAGDESK_RETRY_BASE_DELAY_MS",
		apply:   func(cfg *Config, v any) { cfg.Retry.BaseDelayMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Retry.BaseDelayMS },
	},
	{
		key: "request.timeout_ms", typ: kInt, env: "RAGDESK_REQUEST_TIMEOUT_MS",
		apply:   func(cfg *Config, v any) { cfg.Request.TimeoutMS = v.(int) },
		extract: func(cfg Config) any { return cfg.Request.TimeoutMS },
	},
	{
		key: "query.top_k", typ: kInt, env: "RAGDESK_QUERY_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Query.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Query.TopK },
	},
	{
		key: "chat.max_sources", typ: kInt, env: "RAGDESK_CHAT_MAX_SOURCES",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxSources = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxSources },
	},
	{
		key: "log.level", typ: kString, env: "RAGDESK_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = strings.ToLower(v.(string)) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// splitList parses a comma-separated value, dropping empty entries.
func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kList:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if list := splitList(v); ok && len(list) > 0 {
				s.apply(cfg, list)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kList:
			if list := splitList(raw); len(list) > 0 {
				s.apply(cfg, list)
			}
		}
	}
}
