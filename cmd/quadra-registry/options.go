package main

import "os"

type Options struct {
	Addr      string `toml:"addr"`
	StateFile string `toml:"state-file"`
}

// MixEnv applies environment overrides on top of the options file.
func (o *Options) MixEnv() {
	if v := os.Getenv("QUADRA_REGISTRY_ADDR"); v != "" {
		o.Addr = v
	}
	if v := os.Getenv("QUADRA_REGISTRY_STATE"); v != "" {
		o.StateFile = v
	}
}

func (o *Options) FillDefaults() {
	if o.Addr == "" {
		o.Addr = "0.0.0.0:12977"
	}
	if o.StateFile == "" {
		o.StateFile = "registry_state.txt"
	}
}
