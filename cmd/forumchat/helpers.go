package main

import (
	"fmt"
	"os"

	forumchat "github.com/forumchat/forumchat-go"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loadEnv reads ./.env if present. Variables already set in the process win.
func loadEnv() {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Ignoring .env: %v\n", err)
	}
}

// resolvedConfig loads the config file and applies FORUMCHAT_* overrides.
func resolvedConfig() *Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if v := os.Getenv("FORUMCHAT_BASE_URL"); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := os.Getenv("FORUMCHAT_SESSION"); v != "" {
		cfg.Auth.SessionCookie = v
	}
	if v := os.Getenv("FORUMCHAT_USER_ID"); v != "" {
		cfg.Auth.UserID = v
	}
	if cfg.Chat.PageSize <= 0 {
		cfg.Chat.PageSize = forumchat.DefaultHistoryPageSize
	}
	return cfg
}

// getClient creates a client carrying the configured session cookie.
func getClient(cfg *Config, log *zap.Logger, opts ...forumchat.ClientOption) *forumchat.Client {
	if cfg.Default.BaseURL == "" {
		fmt.Fprintln(os.Stderr, "No base URL. Run 'forumchat init <base-url>' first.")
		os.Exit(1)
	}
	all := []forumchat.ClientOption{
		forumchat.WithBaseURL(cfg.Default.BaseURL),
		forumchat.WithClientLogger(log),
	}
	if cfg.Auth.SessionCookie != "" {
		all = append(all, forumchat.WithSessionCookie(cfg.Auth.SessionCookie))
	}
	return forumchat.NewClient(append(all, opts...)...)
}

// newLogger builds the console logger; --verbose switches to debug level.
func newLogger() *zap.Logger {
	level := zapcore.WarnLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCaller())
}

// maskKey shows only the edges of a secret.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
