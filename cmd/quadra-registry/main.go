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

	"github.com/quadra-games/quadra/internal/registry"
	"github.com/quadra-games/quadra/internal/util/slogx"
	"github.com/quadra-games/quadra/internal/version"
)

var registryCmd = &cobra.Command{
	Use:     "quadra-registry",
	Args:    cobra.ExactArgs(0),
	Version: version.Version,
	Short:   "Start the Quadra registry service",
	Long: `Quadra is a multi-tier backbone for hosting synchronous two-player matches.

This command runs the registry service: the single source of truth for
users, rooms and game logs, persisted to a line-oriented snapshot file.
`,
}

func main() {
	p := registryCmd.Flags()
	optsPath := p.StringP(
		"options", "o", "",
		"options file",
	)

	registryCmd.RunE = func(cmd *cobra.Command, _args []string) error {
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

		store := registry.NewStore(log)
		if err := store.Load(opts.StateFile); err != nil {
			return fmt.Errorf("load snapshot: %w", err)
		}

		lis, err := net.Listen("tcp", opts.Addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}

		srv := registry.NewServer(log, store)
		if err := srv.Serve(ctx, lis); err != nil {
			log.Error("serve failed", slogx.Err(err))
		}

		if err := store.Save(opts.StateFile); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
		return nil
	}

	if err := registryCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
