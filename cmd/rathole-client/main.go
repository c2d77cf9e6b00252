// Command rathole-client runs the reverse-tunnel client described in
// SPEC_FULL.md: load a TOML config, construct one transport shared across
// every service, then run one control channel per configured service until
// the process is asked to shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rathole-go/client/internal/config"
	"github.com/rathole-go/client/internal/control"
	"github.com/rathole-go/client/internal/services"
	"github.com/rathole-go/client/internal/services/socks5"
	"github.com/rathole-go/client/internal/services/ssh"
	"github.com/rathole-go/client/internal/services/vnc"
	"github.com/rathole-go/client/internal/transport"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string
	var pretty bool

	cmd := &cobra.Command{
		Use:   "rathole-client",
		Short: "Reverse-tunnel client: exposes local services through a remote rathole server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("RATHOLE_CLIENT_CONFIG")
			}
			if configPath == "" {
				configPath = "client.toml"
			}
			setupLogger(logLevel, pretty)
			return run(configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the client config file (default: $RATHOLE_CLIENT_CONFIG or client.toml)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "trace|debug|info|warn|error")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "use a human-readable console log writer instead of JSON")

	return cmd
}

func setupLogger(levelName string, pretty bool) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Info().
		Str("remote_addr", cfg.RemoteAddr).
		Str("transport", string(cfg.Transport.Type)).
		Int("services", len(cfg.Services)).
		Msg(color.GreenString("starting rathole-client"))

	tr, err := buildTransport(cfg)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	if closer, ok := tr.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	registry := services.NewRegistry()
	channels := make([]*control.ControlChannel, 0, len(cfg.Services))

	for _, svc := range cfg.Services {
		handler, err := buildHandler(svc)
		if err != nil {
			return fmt.Errorf("service %q: %w", svc.Name, err)
		}
		registry.Register(svc.Name, handler)

		ccCfg := control.DefaultConfig()
		ccCfg.RemoteAddr = cfg.RemoteAddr
		ccCfg.ServiceName = svc.Name
		ccCfg.Token = svc.Token
		ccCfg.HeartbeatTimeout = cfg.HeartbeatTimeout

		logf := func(format string, args ...any) {
			log.Info().Msgf(format, args...)
		}
		channels = append(channels, control.New(ccCfg, tr, cfg.Pool, handler, logf))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutting down")
		cancel()
	}()

	// Each control channel runs its own reconnect loop independently; one
	// failing permanently (retries exhausted) must not tear down the
	// others, so this intentionally does not use errgroup.WithContext —
	// only the process-wide shutdown signal cancels every channel at once.
	var g errgroup.Group
	for _, cc := range channels {
		cc := cc
		g.Go(func() error {
			err := cc.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("control channel exited with an error")
			}
			return err
		})
	}
	return g.Wait()
}

func buildTransport(cfg *config.ClientConfig) (transport.Transport, error) {
	if cfg.WireGuard.Enabled {
		logf := func(format string, args ...any) { log.Debug().Msgf(format, args...) }
		return transport.NewWireGuardTransport(cfg.WireGuard, logf)
	}
	switch cfg.Transport.Type {
	case transport.KindTCP:
		return transport.NewTCPTransport(cfg.Transport), nil
	case transport.KindNoise:
		return transport.NewNoiseTransport(cfg.Transport)
	case transport.KindWebSocket:
		return transport.NewWebSocketTransport(cfg.Transport), nil
	default:
		return nil, fmt.Errorf("unknown transport type %q", cfg.Transport.Type)
	}
}

func buildHandler(svc config.ServiceConfig) (services.Handler, error) {
	switch {
	case svc.Socks != nil:
		return socks5.New(*svc.Socks), nil
	case svc.SSH != nil:
		return ssh.New(*svc.SSH)
	case svc.VNC != nil:
		return vnc.New(*svc.VNC), nil
	default:
		return nil, fmt.Errorf("service %q has no handler configuration", svc.Name)
	}
}
