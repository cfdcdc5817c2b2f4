// Package logger is the structured logging layer of the client, built on
// log/slog.
//
// One process-wide logger is shared by every package. Its level starts from
// LOG_LEVEL and can be changed at runtime; the *Context variants add the
// session fields stored in the context (see WithSessionID and friends).
package logger

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync"
)

// Output formats accepted by Configure.
const (
	FormatText = "text"
	FormatJSON = "json"
)

var (
	mu     sync.RWMutex
	level  = new(slog.LevelVar)
	out    io.Writer = os.Stderr
	format           = FormatText
	base   *slog.Logger
)

func init() {
	level.Set(ParseLevel(os.Getenv("LOG_LEVEL")))
	base = build()
}

func build() *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(out, opts)
	if format == FormatJSON {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(sessionHandler{next: h})
}

func current() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// ParseLevel maps a level name to a slog.Level. Empty and unknown names are info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Configure sets the destination, format ("text" or "json"), and level.
// A nil writer or empty format keeps the current one.
func Configure(w io.Writer, f string, lvl slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	if w != nil {
		out = w
	}
	if f != "" {
		format = f
	}
	level.Set(lvl)
	base = build()
}

// SetLevel changes the minimum level without rebuilding the output.
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// SetVerbose switches between debug and info, for the --verbose flag.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
		return
	}
	SetLevel(slog.LevelInfo)
}

// DebugEnabled reports whether debug records are emitted. Per-frame paths
// check it before building attributes.
func DebugEnabled() bool {
	return level.Level() <= slog.LevelDebug
}

func Debug(msg string, args ...any) { current().Debug(msg, args...) }
func Info(msg string, args ...any)  { current().Info(msg, args...) }
func Warn(msg string, args ...any)  { current().Warn(msg, args...) }
func Error(msg string, args ...any) { current().Error(msg, args...) }

func DebugContext(ctx context.Context, msg string, args ...any) {
	current().DebugContext(ctx, msg, args...)
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	current().InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	current().WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	current().ErrorContext(ctx, msg, args...)
}

var (
	apiKeyPattern = regexp.MustCompile(`AIza[a-zA-Z0-9_-]{35}`)
	bearerPattern = regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`)

	// secretParams are query parameters whose values are never logged.
	secretParams = []string{"token", "access_token", "key", "api_key"}
)

// RedactSensitiveData masks API keys and bearer tokens in s.
func RedactSensitiveData(s string) string {
	s = bearerPattern.ReplaceAllString(s, "Bearer [REDACTED]")
	return apiKeyPattern.ReplaceAllStringFunc(s, func(key string) string {
		return key[:4] + "...[REDACTED]"
	})
}

// RedactURL masks userinfo and credential query parameters in rawURL.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RedactSensitiveData(rawURL)
	}
	if u.User != nil {
		u.User = url.User("[REDACTED]")
	}
	q := u.Query()
	masked := false
	for _, p := range secretParams {
		if q.Has(p) {
			q.Set(p, "[REDACTED]")
			masked = true
		}
	}
	if masked {
		u.RawQuery = q.Encode()
	}
	return RedactSensitiveData(u.String())
}
