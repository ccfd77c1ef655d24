// Package lobby multiplexes end-user clients: it authenticates sessions,
// brokers rooms and invitations through the registry service, and starts
// match runtimes on freshly allocated ports.
package lobby

import "time"

type Options struct {
	// RegistryAddr is the registry service endpoint.
	RegistryAddr string `toml:"registry-addr"`
	// GamePortMin/GamePortMax bound the range match listeners are drawn from.
	GamePortMin int `toml:"game-port-min"`
	GamePortMax int `toml:"game-port-max"`
	// Gravity overrides the match tick interval; mainly for tests.
	Gravity time.Duration `toml:"-"`
	// AuthBurst is how many REGISTER/LOGIN attempts a connection may make
	// before throttling kicks in (one attempt per second refills).
	AuthBurst int `toml:"auth-burst"`
}

func (o *Options) FillDefaults() {
	if o.RegistryAddr == "" {
		o.RegistryAddr = "127.0.0.1:12977"
	}
	if o.GamePortMin == 0 {
		o.GamePortMin = 10000
	}
	if o.GamePortMax == 0 {
		o.GamePortMax = 65000
	}
	if o.AuthBurst == 0 {
		o.AuthBurst = 5
	}
}
