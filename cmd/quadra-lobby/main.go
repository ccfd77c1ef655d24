package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quadra-games/quadra/internal/lobby"
	"github.com/quadra-games/quadra/internal/regclient"
	"github.com/quadra-games/quadra/internal/util/slogx"
	"github.com/quadra-games/quadra/internal/version"
)

var lobbyCmd = &cobra.Command{
	Use:     "quadra-lobby",
	Args:    cobra.ExactArgs(0),
	Version: version.Version,
	Short:   "Start the Quadra lobby service",
	Long: `Quadra is a multi-tier backbone for hosting synchronous two-player matches.

This command runs the lobby service: the session multiplexer that brokers
rooms, invitations and spectators, and spawns match runtimes on demand.
`,
}

func main() {
	p := lobbyCmd.Flags()
	optsPath := p.StringP(
		"options", "o", "",
		"options file",
	)

	lobbyCmd.RunE = func(cmd *cobra.Command, _args []string) error {
		_ = godotenv.Load()

		var opts Options
		if *optsPath != "" {
			rawOpts, err := os.ReadFile(*optsPath)
			if err != nil {
				return fmt.Errorf("read options: %w", err)
			}
			if err := toml.Unmarshal(rawOpts, &opts); err != nil {
				return fmt.Errorf("unmarshal options: %w", err)
			}
		}
		opts.MixEnv()
		opts.FillDefaults()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		log := slog.New(slogx.NewPrettyHandler(slog.LevelInfo))

		rs, err := regclient.Dial(log, opts.Lobby.RegistryAddr)
		if err != nil {
			return fmt.Errorf("connect registry: %w", err)
		}
		defer rs.Close()

		lis, err := net.Listen("tcp", opts.Addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}

		srv := lobby.New(log, rs, opts.Lobby)
		group, gctx := errgroup.WithContext(ctx)
		group.Go(func() error {
			return srv.Serve(gctx, lis)
		})
		if err := group.Wait(); err != nil {
			select {
			case <-ctx.Done():
			default:
				log.Error("fatal error", slogx.Err(err))
			}
			return err
		}
		return nil
	}

	if err := lobbyCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
