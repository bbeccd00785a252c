// Command echo runs a sconcomm echo server, or a client that sends it one
// request, depending on its TOML configuration.
package main

import (
	"bytes"
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Zereker/sconcomm"
	"github.com/Zereker/sconcomm/zerologger"
)

func main() {
	path := flag.String("config", "", "path to the TOML configuration")
	flag.Parse()

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := loadConfig(*path)
	if err != nil {
		zl.Fatal().Err(err).Msg("invalid configuration")
	}
	zl = zl.Level(cfg.Level)
	logger := zerologger.New(zl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Mode == "client" {
		err = runClient(ctx, cfg, logger)
	} else {
		err = runServer(ctx, cfg, logger)
	}
	if err != nil && ctx.Err() == nil {
		logger.Error("echo failed", "error", err)
		os.Exit(1)
	}
}

func runServer(ctx context.Context, cfg config, logger sconcomm.Logger) error {
	addr, err := net.ResolveTCPAddr("tcp", cfg.Addr)
	if err != nil {
		return err
	}

	listener, err := sconcomm.Listen(addr,
		sconcomm.ListenerLoggerOption(logger),
		sconcomm.ListenerShutdownTimeoutOption(cfg.ShutdownTimeout),
	)
	if err != nil {
		return err
	}
	defer listener.Close()

	return listener.Serve(ctx, sconcomm.ServeServers(
		sconcomm.CustomCodecOption(cfg.Codec),
		sconcomm.LoggerOption(logger),
		sconcomm.MaxPayloadLengthOption(cfg.MaxPayloadLength),
		sconcomm.OnRequestOption(func(m sconcomm.Message, reply sconcomm.Responder) {
			echo(ctx, logger, m, reply)
		}),
	))
}

// echo answers with the request envelope and, if there was one, its payload.
func echo(ctx context.Context, logger sconcomm.Logger, m sconcomm.Message, reply sconcomm.Responder) {
	var opts []sconcomm.SendOption
	if m.Payload != nil {
		data, err := m.Payload.Bytes()
		if err != nil {
			logger.Warn("failed to read payload", "error", err)
			return
		}
		opts = append(opts, sconcomm.WithPayload(bytes.NewReader(data), int64(len(data))))
	}

	if err := reply(ctx, m.Envelope, opts...); err != nil {
		logger.Warn("failed to reply", "error", err)
	}
}

func runClient(ctx context.Context, cfg config, logger sconcomm.Logger) error {
	client, err := sconcomm.Dial(ctx, cfg.Addr,
		sconcomm.CustomCodecOption(cfg.Codec),
		sconcomm.LoggerOption(logger),
		sconcomm.MaxPayloadLengthOption(cfg.MaxPayloadLength),
	)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	var opts []sconcomm.SendOption
	if cfg.Payload != "" {
		opts = append(opts, sconcomm.WithPayload(strings.NewReader(cfg.Payload), int64(len(cfg.Payload))))
	}

	resp, err := client.Request(ctx, sconcomm.Envelope{"message": cfg.Message}, opts...)
	if err != nil {
		return err
	}

	logger.Info("response", "envelope", resp.Envelope)
	if resp.Payload != nil {
		data, err := resp.Payload.Bytes()
		if err != nil {
			return err
		}
		logger.Info("response payload", "data", string(data))
	}

	if err = client.Disconnect(ctx); err != nil {
		return err
	}
	return <-done
}
