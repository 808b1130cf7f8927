// Package config loads WHIP publisher settings from a .env-style file,
// the same key=value-per-line format and bufio.Scanner parsing the
// teacher used for its credentials file.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything session.Config needs, plus logging defaults,
// loaded from a flat env file so deployments don't need a CLI flag for
// every field.
type Config struct {
	WhipEndpoint string
	BearerToken  string
	ListenAddr   string

	VideoPayloadType byte
	AudioPayloadType byte
	AudioClockRate   uint32
	PktSize          int

	HandshakeTimeout time.Duration
	CertCommonName   string

	LogLevel  string
	LogFormat string
}

func defaults() *Config {
	return &Config{
		ListenAddr:       "0.0.0.0:0",
		VideoPayloadType: 106,
		AudioPayloadType: 111,
		AudioClockRate:   48000,
		PktSize:          1200,
		HandshakeTimeout: 5 * time.Second,
		CertCommonName:   "ffmpeg.org",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads configuration from a .env file. Any field absent from the
// file keeps its default.
func Load(envPath string) (*Config, error) {
	file, err := os.Open(envPath)
	if err != nil {
		return nil, fmt.Errorf("open env file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}

		if err := cfg.set(key, decoded); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan env file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "whip_endpoint":
		c.WhipEndpoint = value
	case "bearer_token":
		c.BearerToken = value
	case "listen_addr":
		c.ListenAddr = value
	case "video_payload_type":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.VideoPayloadType = byte(n)
	case "audio_payload_type":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.AudioPayloadType = byte(n)
	case "audio_clock_rate":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.AudioClockRate = uint32(n)
	case "pkt_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.PktSize = n
	case "handshake_timeout_ms":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.HandshakeTimeout = time.Duration(n) * time.Millisecond
	case "cert_common_name":
		c.CertCommonName = value
	case "log_level":
		c.LogLevel = value
	case "log_format":
		c.LogFormat = value
	}
	return nil
}

// Validate checks that the fields required to publish are present.
func (c *Config) Validate() error {
	if c.WhipEndpoint == "" {
		return fmt.Errorf("missing whip_endpoint")
	}
	return nil
}
