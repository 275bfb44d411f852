// Command engineio-dial connects to an engine.io v3 server, logs every
// packet it receives, and relays lines read from stdin as message packets.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/engineio/internal/logger"
	"github.com/tzrikka/engineio/pkg/engineio"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "engineio-dial"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "engineio-dial",
		Usage:   "connect to an engine.io server and relay packets to/from stdio",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action:  run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	path := configFile()

	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "human-readable console logging, instead of JSON",
		},
		&cli.StringFlag{
			Name:     "url",
			Usage:    "engine.io server URL, e.g. http://localhost:3000/engine.io/",
			Required: true,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("ENGINEIO_URL"),
				toml.TOML("engineio.url", path),
			),
		},
		&cli.StringSliceFlag{
			Name:  "header",
			Usage: `extra HTTP header to send, as "Name: Value"`,
			Sources: cli.NewValueSourceChain(
				toml.TOML("engineio.headers", path),
			),
		},
	}
}

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

func initLog(devMode bool) *slog.Logger {
	var handler slog.Handler
	if devMode {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

func parseHeaders(raw []string) ([]engineio.Header, error) {
	headers := make([]engineio.Header, 0, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("malformed --header value %q, want \"Name: Value\"", h)
		}
		headers = append(headers, engineio.Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
	}
	return headers, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	log := initLog(cmd.Bool("dev"))
	ctx = logger.InContext(ctx, log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	headers, err := parseHeaders(cmd.StringSlice("header"))
	if err != nil {
		return err
	}

	cfg := engineio.ConnectionConfig{
		URL:          cmd.String("url"),
		ExtraHeaders: headers,
	}

	conn, err := engineio.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	log.Info("connected", slog.String("sid", conn.SID()))

	go relayStdin(ctx, conn, log)

	for {
		p, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Interrupted by a signal: close the session client-side.
				_ = conn.Close(context.WithoutCancel(ctx))
			}
			log.Info("connection closed", slog.Any("error", err))
			return nil
		}

		switch p.Opcode {
		case engineio.Message:
			if p.Payload.IsBinary() {
				log.Info("received message", slog.Int("bytes", len(p.Payload.Bytes())))
			} else {
				log.Info("received message", slog.String("text", p.Payload.Text()))
			}
		case engineio.Close:
			log.Info("server closed the connection")
			return nil
		default:
			log.Debug("received packet", slog.String("opcode", p.Opcode.String()))
		}
	}
}

// relayStdin reads one line at a time from stdin and sends each as a
// message packet, until stdin closes or ctx is cancelled.
func relayStdin(ctx context.Context, conn *engineio.Connection, log *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		p := engineio.Packet{Opcode: engineio.Message, Payload: engineio.String(line)}
		if err := conn.Send(ctx, p); err != nil {
			log.Error("failed to send message", slog.Any("error", err))
			return
		}
	}
}
