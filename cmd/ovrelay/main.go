// Command ovrelay runs a stage-device relay: UDP media/control dispatch, an
// HTTP lobby announcement loop, and an optional TCP tunnel for clients
// behind restrictive firewalls.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/orlandoviols/ovrelay/internal/relay"
	"github.com/orlandoviols/ovrelay/internal/tunnel"
)

var opt struct {
	Port     int
	Name     string
	LobbyURL string
	Group    string
	RTPrio   int
	TCP      bool
	Verbose  bool
	Quiet    bool
	Help     bool
}

func init() {
	pflag.IntVarP(&opt.Port, "port", "p", 0, "UDP port to bind (0 picks an ephemeral port)")
	pflag.StringVarP(&opt.Name, "name", "n", "", "Room name announced to the lobby")
	pflag.StringVarP(&opt.LobbyURL, "lobbyurl", "l", "", "Lobby directory base URL")
	pflag.StringVarP(&opt.Group, "group", "g", "", "Room group announced to the lobby")
	pflag.IntVarP(&opt.RTPrio, "rtprio", "r", 0, "Real-time scheduling priority hint for the jitter loop (linux only, best-effort)")
	pflag.BoolVarP(&opt.TCP, "tcp", "t", false, "Also accept TCP-tunneled clients on the same port number")
	pflag.BoolVarP(&opt.Verbose, "verbose", "v", false, "Enable debug logging")
	pflag.BoolVarP(&opt.Quiet, "quiet", "q", false, "Only log warnings and errors")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if opt.Help {
		fmt.Printf("usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(2)
	}

	log := newLogger()

	cfg := relay.Config{
		Port:     opt.Port,
		Name:     opt.Name,
		Group:    opt.Group,
		LobbyURL: opt.LobbyURL,
		RTPrio:   opt.RTPrio,
	}

	srv, err := relay.NewServer(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: initialize relay: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Run(ctx) }()

	if opt.TCP {
		bridge := tunnel.New(log, srv.Metrics())
		go func() {
			if err := bridge.Serve(ctx, srv.LocalPort(), srv.LocalPort()); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("tcp tunnel: %w", err)
			}
		}()
	}

	log.Info().Int("port", srv.LocalPort()).Bool("tcp", opt.TCP).Msg("relay started")

	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case opt.Verbose:
		level = zerolog.DebugLevel
	case opt.Quiet:
		level = zerolog.WarnLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
