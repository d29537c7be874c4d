// Package bridgelog provides structured logging for the workflow bridge
// using log/slog. Session, workflow, and request identifiers are carried
// on context.Context and extracted automatically on every call, rather
// than threaded through function signatures.
//
// Usage:
//
//	ctx = bridgelog.WithSession(ctx, sessionKey)
//	bridgelog.Info(ctx, "socket connected", slog.String("url", url))
package bridgelog

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type ctxKey int

const (
	sessionIDKey ctxKey = iota
	workflowIDKey
	requestIDKey
)

// WithSession attaches a session key to ctx for automatic log correlation.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithWorkflow attaches a remote workflow ID to ctx.
func WithWorkflow(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, workflowIDKey, workflowID)
}

// WithRequest attaches a Service request ID to ctx.
func WithRequest(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

var (
	mu     sync.RWMutex
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
)

// Init installs the package-level logger. Safe to call once at startup;
// tests may call it again to redirect output.
func Init(level slog.Level, jsonOutput bool) {
	mu.Lock()
	defer mu.Unlock()

	opts := &slog.HandlerOptions{Level: level}
	if jsonOutput {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
}

// ParseLevel parses a level string, defaulting to Info for empty or
// unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func attrsFromContext(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var attrs []any
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("session_id", v))
	}
	if v, ok := ctx.Value(workflowIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("workflow_id", v))
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("request_id", v))
	}
	return attrs
}

func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	all := attrsFromContext(ctx)
	all = append(all, attrs...)
	getLogger().Log(context.Background(), level, msg, all...)
}

// Debug logs at debug level with context attributes automatically attached.
func Debug(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelDebug, msg, attrs...) }

// Info logs at info level with context attributes automatically attached.
func Info(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelInfo, msg, attrs...) }

// Warn logs at warn level with context attributes automatically attached.
func Warn(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelWarn, msg, attrs...) }

// Error logs at error level with context attributes automatically attached.
func Error(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelError, msg, attrs...) }
