package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/danmuck/decompctl/internal/config"
	"github.com/danmuck/decompctl/internal/engine"
	"github.com/danmuck/decompctl/internal/factstore"
	"github.com/danmuck/decompctl/internal/observability"
	"github.com/danmuck/decompctl/internal/peer"
	"github.com/danmuck/decompctl/internal/protocol"
	"github.com/danmuck/decompctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <engine-addr> <address> [address...]",
		Short: "Describe addresses through a running engine, answering from the fact store",
		Long:  "Connect to an engine started with \"serve --listen\", register a program and\ndescribe each address. Queries the engine issues are answered from facts_db.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			setup, err := setupFromFlags(cmd)
			if err != nil {
				return fmt.Errorf("probe: %w", err)
			}
			addrs := make([]protocol.Address, 0, len(args)-1)
			for _, raw := range args[1:] {
				addr, err := protocol.ParseAddress(raw)
				if err != nil {
					return fmt.Errorf("probe: %w", err)
				}
				addrs = append(addrs, addr)
			}

			logger := observability.InitLogger("decompctl")
			store, err := factstore.Open(cfg.FactsDB, logger)
			if err != nil {
				return fmt.Errorf("probe: %w", err)
			}
			defer store.Close()
			store.SetMaxImageBytes(cfg.Limits.MaxImageBytes)

			conn, err := dialEngine(cmd.Context(), args[0], cfg.TLS)
			if err != nil {
				return fmt.Errorf("probe: %w", err)
			}
			defer conn.Close()

			c := peer.NewConn(conn, conn, store, logger)
			c.SetLimit(cfg.Limits.MaxDocumentBytes)
			return runProbe(cmd.Context(), c, setup, addrs, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("processor", "", "file holding the processor spec")
	cmd.Flags().String("compiler", "", "file holding the compiler spec")
	cmd.Flags().String("translation", "", "file holding the translation spec")
	cmd.Flags().String("types", "", "file holding the core types")
	return cmd
}

func dialEngine(ctx context.Context, addr string, t config.TLS) (net.Conn, error) {
	tlsCfg, err := t.ClientConfig(addr)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	if tlsCfg == nil {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	td := &tls.Dialer{NetDialer: dialer, Config: tlsCfg}
	return td.DialContext(ctx, "tcp", addr)
}

func setupFromFlags(cmd *cobra.Command) (session.Setup, error) {
	var setup session.Setup
	fields := []struct {
		flag string
		dst  *string
	}{
		{"processor", &setup.ProcessorSpec},
		{"compiler", &setup.CompilerSpec},
		{"translation", &setup.TranslationSpec},
		{"types", &setup.CoreTypes},
	}
	for _, f := range fields {
		path, _ := cmd.Flags().GetString(f.flag)
		if path == "" {
			continue
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return session.Setup{}, err
		}
		*f.dst = string(b)
	}
	return setup, nil
}

// runProbe registers setup, describes each address and prints the results
// followed by the warnings the engine collected.
func runProbe(ctx context.Context, c *peer.Conn, setup session.Setup, addrs []protocol.Address, out io.Writer) error {
	cmd := setup.Command()
	id, err := c.CommandString(ctx, cmd.Name, cmd.Args...)
	if err != nil {
		return fmt.Errorf("probe: register: %w", err)
	}
	defer func() {
		if _, err := c.CommandBool(ctx, engine.CommandDeregisterProgram, id); err != nil {
			log.Warn().Err(err).Str("program", id).Msg("deregister failed")
		}
	}()

	for _, addr := range addrs {
		desc, err := c.CommandDocument(ctx, engine.CommandDescribeAddress, id, addr.String())
		if err != nil {
			return fmt.Errorf("probe: describe %s: %w", addr, err)
		}
		fmt.Fprintln(out, desc.String())
	}

	warnings, err := c.CommandString(ctx, engine.CommandGetWarnings, id)
	if err != nil {
		return fmt.Errorf("probe: warnings: %w", err)
	}
	if warnings != "" {
		fmt.Fprintf(out, "warnings:\n%s\n", warnings)
	}
	return nil
}
