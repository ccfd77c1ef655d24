package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quadra-games/quadra/internal/match"
	"github.com/quadra-games/quadra/internal/util/slogx"
	"github.com/quadra-games/quadra/internal/version"
)

var matchCmd = &cobra.Command{
	Use:     "quadra-match",
	Args:    cobra.ExactArgs(0),
	Version: version.Version,
	Short:   "Run a single Quadra match on a fixed port",
	Long: `Quadra is a multi-tier backbone for hosting synchronous two-player matches.

This command hosts one match outside the lobby, mainly for local play and
debugging. The two expected player names and the admission token are taken
from flags; the result is reported to the registry when an address is given.
`,
}

func main() {
	p := matchCmd.Flags()
	addr := p.String("addr", "0.0.0.0:15000", "address to listen on")
	p1 := p.String("p1", "p1", "first expected player name")
	p2 := p.String("p2", "p2", "second expected player name")
	token := p.String("token", "demo", "admission token")
	roomID := p.Int("room", 0, "room id to report under")
	registryAddr := p.String("registry-addr", "", "registry address for result reporting (empty disables)")

	matchCmd.RunE = func(cmd *cobra.Command, _args []string) error {
		_ = godotenv.Load()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		log := slog.New(slogx.NewPrettyHandler(slog.LevelInfo))
		lis, err := net.Listen("tcp", *addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		log.Info("match listening", slog.String("addr", lis.Addr().String()))

		match.Run(ctx, log, lis, match.Config{
			RoomID:       *roomID,
			Players:      [2]string{*p1, *p2},
			Token:        *token,
			RegistryAddr: *registryAddr,
		})
		return nil
	}

	if err := matchCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
