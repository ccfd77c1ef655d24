package main

import (
	"os"
	"strconv"

	"github.com/quadra-games/quadra/internal/lobby"
)

type Options struct {
	Addr  string        `toml:"addr"`
	Lobby lobby.Options `toml:"lobby"`
}

// MixEnv applies environment overrides on top of the options file.
func (o *Options) MixEnv() {
	if v := os.Getenv("QUADRA_LOBBY_ADDR"); v != "" {
		o.Addr = v
	}
	if v := os.Getenv("QUADRA_REGISTRY_ADDR"); v != "" {
		o.Lobby.RegistryAddr = v
	}
	if v, err := strconv.Atoi(os.Getenv("QUADRA_GAME_PORT_MIN")); err == nil && v > 0 {
		o.Lobby.GamePortMin = v
	}
	if v, err := strconv.Atoi(os.Getenv("QUADRA_GAME_PORT_MAX")); err == nil && v > 0 {
		o.Lobby.GamePortMax = v
	}
}

func (o *Options) FillDefaults() {
	if o.Addr == "" {
		o.Addr = "0.0.0.0:13472"
	}
	o.Lobby.FillDefaults()
}
