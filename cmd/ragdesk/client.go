package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/ragdesk/internal/backend"
	"github.com/kalambet/ragdesk/internal/config"
	"github.com/kalambet/ragdesk/internal/notify"
	"github.com/kalambet/ragdesk/internal/upload"
)

// app bundles what a command needs to talk to the backend.
type app struct {
	cfg      config.Config
	client   *backend.Client
	notifier notify.Notifier
}

var loadConfig = config.Load

var newApp = func() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	client := backend.New(backend.Options{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.RequestTimeout(),
		MaxRetries: cfg.Retry.Attempts,
		BaseDelay:  cfg.RetryBaseDelay(),
		TopK:       cfg.Query.TopK,
		UserAgent:  fmt.Sprintf("%s/%s", cfg.App.Name, version),
		Logger:     logger,
	})

	return &app{cfg: cfg, client: client, notifier: terminalNotifier{}}, nil
}

func (a *app) uploadRules() upload.Rules {
	return upload.Rules{
		AllowedTypes: a.cfg.Upload.AllowedTypes,
		MaxSize:      int64(a.cfg.Upload.MaxSizeBytes),
		VerifyPDF:    a.cfg.Upload.VerifyPDF,
	}
}
