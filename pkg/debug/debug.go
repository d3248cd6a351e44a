// Package debug provides category-based debug logging for the tutor service.
//
// Categories select WHAT to debug (TUTORPILOT_DEBUG or config), the level
// selects HOW MUCH (TUTORPILOT_LOG_LEVEL or config):
//
//	debug.Log("sandbox", "dev server check", "sandbox_id", id, "check", n)
//	if debug.Enabled("llm") { /* expensive formatting */ }
//
// Categories: sandbox, deploy, repair, llm, knowledge, storage, archive,
// auth, transport, mcp, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

// LevelTrace is below slog.LevelDebug. At TRACE, prompts and generated
// code are logged untruncated.
const LevelTrace = slog.LevelDebug - 4

// Environment variables read by Init.
const (
	EnvCategories = "TUTORPILOT_DEBUG"
	EnvLevel      = "TUTORPILOT_LOG_LEVEL"
	EnvFormat     = "TUTORPILOT_LOG_FORMAT"
)

// categories is read-only after Init.
var categories map[string]bool

// output is where Init points the default logger and Raw writes.
var output io.Writer = os.Stderr

func init() {
	categories = parseCategories(os.Getenv(EnvCategories))
}

// Options carries the logging section of the configuration. Environment
// variables override every field.
type Options struct {
	Categories string
	Level      string
	Format     string // "text" (default) or "json"
}

// Init configures categories and installs the default slog logger.
func Init(opts Options) {
	cats := firstNonEmpty(os.Getenv(EnvCategories), opts.Categories)
	categories = parseCategories(cats)

	level := ParseLevel(firstNonEmpty(os.Getenv(EnvLevel), opts.Level))
	handlerOpts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(firstNonEmpty(os.Getenv(EnvFormat), opts.Format)) {
	case "json":
		h = slog.NewJSONHandler(output, handlerOpts)
	default:
		h = slog.NewTextHandler(output, handlerOpts)
	}
	slog.SetDefault(slog.New(h))
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message tagged with the category. No-op when the
// category is disabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the given category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// Raw writes plain text without slog formatting, for copy-paste-ready
// prompts and code. Only emitted at TRACE for an enabled category.
func Raw(category string, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(output, text)
}

// ParseLevel converts a level string to a slog.Level. Unknown values map to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
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

// Categories returns the enabled categories, for status reporting.
func Categories() []string {
	result := make([]string, 0, len(categories))
	for k := range categories {
		result = append(result, k)
	}
	return result
}

// Truncate shortens s to at most maxLen bytes, cut on a rune boundary,
// and appends "..." when anything was removed.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return Clip(s, maxLen) + "..."
}

// Clip shortens s to at most maxLen bytes without splitting a UTF-8
// sequence. Unlike Truncate it adds no marker.
func Clip(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
