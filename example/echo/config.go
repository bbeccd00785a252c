package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/Zereker/sconcomm"
	"github.com/Zereker/sconcomm/cbor"
	"github.com/Zereker/sconcomm/msgpack"
)

type fileConfig struct {
	Mode             string `toml:"mode"`
	Addr             string `toml:"addr"`
	Codec            string `toml:"codec"`
	LogLevel         string `toml:"log_level"`
	MaxPayloadLength int64  `toml:"max_payload_length"`
	ShutdownTimeout  string `toml:"shutdown_timeout"`
	Client           struct {
		Message string `toml:"message"`
		Payload string `toml:"payload"`
	} `toml:"client"`
}

type config struct {
	Mode             string
	Addr             string
	Codec            sconcomm.Codec
	Level            zerolog.Level
	MaxPayloadLength int64
	ShutdownTimeout  time.Duration
	Message          string
	Payload          string
}

func defaultConfig() config {
	return config{
		Mode:    "server",
		Addr:    "127.0.0.1:12345",
		Codec:   msgpack.Codec(),
		Level:   zerolog.InfoLevel,
		Message: "hello",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load echo config: %w", err)
	}

	if meta.IsDefined("mode") {
		mode := strings.TrimSpace(raw.Mode)
		if mode != "server" && mode != "client" {
			return config{}, fmt.Errorf("unknown mode %q", mode)
		}
		cfg.Mode = mode
	}

	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}

	if meta.IsDefined("codec") {
		switch strings.TrimSpace(raw.Codec) {
		case "msgpack":
			cfg.Codec = msgpack.Codec()
		case "cbor":
			c, err := cbor.Codec()
			if err != nil {
				return config{}, err
			}
			cfg.Codec = c
		default:
			return config{}, fmt.Errorf("unknown codec %q", raw.Codec)
		}
	}

	if meta.IsDefined("log_level") {
		lvl, err := zerolog.ParseLevel(strings.TrimSpace(raw.LogLevel))
		if err != nil {
			return config{}, fmt.Errorf("parse log_level: %w", err)
		}
		cfg.Level = lvl
	}

	if meta.IsDefined("max_payload_length") {
		cfg.MaxPayloadLength = raw.MaxPayloadLength
	}

	if meta.IsDefined("shutdown_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ShutdownTimeout))
		if err != nil {
			return config{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}

	if meta.IsDefined("client", "message") {
		cfg.Message = raw.Client.Message
	}

	if meta.IsDefined("client", "payload") {
		cfg.Payload = raw.Client.Payload
	}

	return cfg, nil
}
