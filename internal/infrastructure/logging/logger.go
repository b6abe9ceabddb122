package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/flextraff/atcs-core/internal/infrastructure/config"
)

// Redacted replaces the value of any attribute whose key names a credential.
const Redacted = "[REDACTED]"

// credentialKeys are attribute keys never written in clear. Matching is on
// the final key segment, case-insensitive, so "auth.refresh_token" matches.
var credentialKeys = map[string]bool{
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"session_token": true,
	"authorization": true,
	"secret":        true,
	"jwt_secret":    true,
	"ticket":        true,
}

// Logger is the ATCS structured logger: slog with service and version on
// every record and credential-bearing attributes redacted.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing to cfg.Output (stdout unless "stderr").
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
// Format "text" selects slog's text handler, anything else JSON.
func NewWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactCredentials,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	return &Logger{
		Logger: slog.New(handler.WithAttrs([]slog.Attr{
			slog.String("service", "atcs"),
			slog.String("version", version),
		})),
	}
}

// redactCredentials is the handlers' ReplaceAttr hook.
func redactCredentials(_ []string, a slog.Attr) slog.Attr {
	if isCredentialKey(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

func isCredentialKey(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return credentialKeys[strings.ToLower(key)]
}

// parseLevel maps debug, warn/warning and error to their slog levels.
// Anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component tags every record with component=name.
//
//	relayLog := logger.Component("relay")
func (l *Logger) Component(name string) *Logger {
	return l.With("component", name)
}

// Default is a JSON info logger on stdout for use before config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json"}, "dev")
}
