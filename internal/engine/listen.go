package engine

import (
	"context"
	"crypto/tls"
	"net"
	"strings"

	"github.com/danmuck/decompctl/internal/protocol/session"
	"github.com/rs/zerolog"
)

// Listen accepts client connections on addr and runs one guarded Host per
// connection until ctx is cancelled. A non-nil tlsCfg wraps the listener.
func Listen(ctx context.Context, addr string, tlsCfg *tls.Config, cfg session.Config, logger zerolog.Logger) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	return Serve(ctx, ln, cfg, logger)
}

// Serve runs the accept loop on ln and closes it when ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, cfg session.Config, logger zerolog.Logger) error {
	defer ln.Close()
	logger.Info().Str("addr", ln.Addr().String()).Msg("engine listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go handleConn(ctx, conn, cfg, logger)
	}
}

func handleConn(ctx context.Context, conn net.Conn, cfg session.Config, logger zerolog.Logger) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	log := logger.With().Str("remote", remote).Logger()
	log.Info().Msg("client connected")
	defer log.Info().Msg("client disconnected")

	host := NewHost(conn, conn, cfg, log)
	if err := host.RunGuarded(ctx); err != nil {
		log.Warn().Err(err).Msg("host stopped")
	}
}
