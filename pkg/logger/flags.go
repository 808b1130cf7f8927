package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags.
type Flags struct {
	LogLevel  string
	LogFormat string
	LogFile   string
	DebugSTUN bool
	DebugDTLS bool
	DebugSRTP bool
	DebugRTP  bool
	DebugSDP  bool
	DebugAll  bool
}

// RegisterFlags registers logging flags with the given FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info", "Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text", "Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "", "Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "", "Log output file path (shorthand)")

	fs.BoolVar(&f.DebugSTUN, "debug-stun", false, "Enable STUN binding request/response debugging")
	fs.BoolVar(&f.DebugDTLS, "debug-dtls", false, "Enable DTLS handshake debugging")
	fs.BoolVar(&f.DebugSRTP, "debug-srtp", false, "Enable SRTP encrypt/decrypt debugging")
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false, "Enable RTP packetization debugging")
	fs.BoolVar(&f.DebugSDP, "debug-sdp", false, "Enable SDP offer/answer debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false, "Enable all debug categories")

	return f
}

// ToConfig converts Flags into a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugSTUN {
			cfg.EnableCategory(DebugSTUN)
			cfg.Level = LevelDebug
		}
		if f.DebugDTLS {
			cfg.EnableCategory(DebugDTLS)
			cfg.Level = LevelDebug
		}
		if f.DebugSRTP {
			cfg.EnableCategory(DebugSRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugRTP {
			cfg.EnableCategory(DebugRTP)
			cfg.Level = LevelDebug
		}
		if f.DebugSDP {
			cfg.EnableCategory(DebugSDP)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// String returns a one-line representation of the enabled flags, used in
// startup log lines.
func (f *Flags) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))
	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var categories []string
	if f.DebugAll {
		categories = append(categories, "all")
	} else {
		if f.DebugSTUN {
			categories = append(categories, "stun")
		}
		if f.DebugDTLS {
			categories = append(categories, "dtls")
		}
		if f.DebugSRTP {
			categories = append(categories, "srtp")
		}
		if f.DebugRTP {
			categories = append(categories, "rtp")
		}
		if f.DebugSDP {
			categories = append(categories, "sdp")
		}
	}
	if len(categories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(categories, ",")))
	}

	return strings.Join(parts, " ")
}
