package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"audience-activation/internal/config"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, _ := zerolog.ParseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		base = zerolog.New(out).With().Timestamp().Logger()
	} else {
		base = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	if cfg.Sampling && !dev {
		// Simple sampling: keep first 100, then 1 every 100 thereafter.
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

type ctxKey string

const (
	ctxTraceID      ctxKey = "trace_id"
	ctxTenantID     ctxKey = "tenant_id"
	ctxActivationID ctxKey = "activation_id"
)

// With attaches common context fields such as trace_id, tenant_id and
// activation_id to a child logger.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v := ctx.Value(ctxTraceID); v != nil {
		l = l.Str("trace_id", v.(string))
	}
	if v := ctx.Value(ctxTenantID); v != nil {
		l = l.Str("tenant_id", v.(string))
	}
	if v := ctx.Value(ctxActivationID); v != nil {
		l = l.Str("activation_id", v.(string))
	}
	logger := l.Logger()
	return &logger
}

// Redact hides PII when not in dev; keep short/preview. Raw identifier values
// must always pass through here before reaching a log line.
func Redact(s string, dev bool) string {
	if dev {
		return s
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}

// Helpers to put IDs into context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTraceID, id)
}
func WithTenantID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTenantID, id)
}
func WithActivationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxActivationID, id)
}
