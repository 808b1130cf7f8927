// Package logger wraps zerolog with the category-gated debug logging the
// teacher's own pkg/logger built on log/slog. The Level/Format/Category
// shape carries over; the handler underneath is zerolog's structured
// writer rather than slog's, which is what this repo's ambient stack
// uses instead.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level is the logging verbosity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Format selects the wire shape zerolog writes.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// DebugCategory gates a narrow slice of very chatty Debug-level logging
// that's only useful while diagnosing one layer of the publish pipeline.
type DebugCategory string

const (
	DebugSTUN DebugCategory = "stun"
	DebugDTLS DebugCategory = "dtls"
	DebugSRTP DebugCategory = "srtp"
	DebugRTP  DebugCategory = "rtp"
	DebugSDP  DebugCategory = "sdp"
	DebugAll  DebugCategory = "all"
)

var allCategories = []DebugCategory{DebugSTUN, DebugDTLS, DebugSRTP, DebugRTP, DebugSDP}

// Config holds logger construction parameters plus the set of enabled
// debug categories, which can be toggled after construction.
type Config struct {
	Level  Level
	Format Format

	mu      sync.RWMutex
	enabled map[DebugCategory]bool
}

// NewConfig returns a Config defaulting to info/text with no debug
// categories enabled.
func NewConfig() *Config {
	return &Config{Level: LevelInfo, Format: FormatText, enabled: make(map[DebugCategory]bool)}
}

// ParseLevel converts a CLI flag value to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// ParseFormat converts a CLI flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", s)
	}
}

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// EnableCategory turns on a debug category (or every category, for
// DebugAll).
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if category == DebugAll {
		for _, cat := range allCategories {
			c.enabled[cat] = true
		}
		return
	}
	c.enabled[category] = true
}

func (c *Config) isCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled[category]
}

// Logger pairs a zerolog.Logger with the Config that governs its debug
// categories.
type Logger struct {
	zerolog.Logger
	cfg *Config
}

// New builds a Logger writing to w (os.Stdout if nil) in cfg.Format at
// cfg.Level.
func New(cfg *Config, w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	var writer io.Writer = w
	if cfg.Format == FormatText {
		writer = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	base := zerolog.New(writer).Level(cfg.Level.zerologLevel()).With().Timestamp().Logger()
	return Logger{Logger: base, cfg: cfg}
}

func (l Logger) debugCategory(category DebugCategory) *zerolog.Event {
	if !l.cfg.isCategoryEnabled(category) {
		return nil
	}
	return l.Debug().Str("category", string(category))
}

// DebugSTUN logs at Debug only when the "stun" category is enabled. The
// returned event is nil (safe to chain and Send/Msg on) when disabled.
func (l Logger) DebugSTUN() *zerolog.Event { return l.debugCategory(DebugSTUN) }

// DebugDTLS logs at Debug only when the "dtls" category is enabled.
func (l Logger) DebugDTLS() *zerolog.Event { return l.debugCategory(DebugDTLS) }

// DebugSRTP logs at Debug only when the "srtp" category is enabled.
func (l Logger) DebugSRTP() *zerolog.Event { return l.debugCategory(DebugSRTP) }

// DebugRTP logs at Debug only when the "rtp" category is enabled.
func (l Logger) DebugRTP() *zerolog.Event { return l.debugCategory(DebugRTP) }

// DebugSDP logs at Debug only when the "sdp" category is enabled.
func (l Logger) DebugSDP() *zerolog.Event { return l.debugCategory(DebugSDP) }
