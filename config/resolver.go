package config

import "time"

// ResolverConfig controls the per-browser session resolvers.
type ResolverConfig struct {
	// IdleTTL closes a browser's resolver after this long without a request.
	IdleTTL       time.Duration `env:"IDLE_TTL"       envDefault:"30m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	// RoleFetchTimeout bounds one role lookup.
	RoleFetchTimeout time.Duration `env:"ROLE_FETCH_TIMEOUT" envDefault:"5s"`

	// InboxSize is the number of undelivered notifications kept per browser.
	InboxSize int `env:"INBOX_SIZE" envDefault:"16"`

	// RevalidateInterval is the longest a resolver trusts its session without asking
	// the auth backend again.
	RevalidateInterval time.Duration `env:"REVALIDATE_INTERVAL" envDefault:"30s"`
}

// Sanitize clamps resolver settings into workable ranges.
func (r *ResolverConfig) Sanitize() {
	if r.IdleTTL < time.Minute {
		r.IdleTTL = time.Minute
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = time.Minute
	}
	if r.SweepInterval > r.IdleTTL {
		r.SweepInterval = r.IdleTTL
	}
	if r.RoleFetchTimeout <= 0 {
		r.RoleFetchTimeout = 5 * time.Second
	}
	if r.InboxSize < 1 {
		r.InboxSize = 1
	}
	if r.InboxSize > 256 {
		r.InboxSize = 256
	}
	if r.RevalidateInterval < time.Second {
		r.RevalidateInterval = time.Second
	}
}
