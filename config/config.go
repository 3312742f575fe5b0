// Package config enumerates the recognized Engine configuration options
// (spec §6.2) with typed defaults, adapted from the teacher's
// DefaultConfig()-returning-a-struct convention (gossip.Config,
// lachesis.Config). No magic environment variables: every option is an
// explicit field set through Builder or left at its default.
package config

import (
	"time"

	"github.com/multiformats/go-multiaddr"
)

// Config is the full set of options Engine.New accepts.
type Config struct {
	StoragePath  string
	ListenAddrs  []multiaddr.Multiaddr
	BootstrapPeers []multiaddr.Multiaddr

	RelayOnly             bool
	RelayRotationInterval time.Duration

	DHTQueryTimeout        time.Duration
	DHTHealthCheckInterval time.Duration

	MaxMessageSize int

	KeyPackagesPerPublish uint32

	HoldbackQueueCapacity int
}

// DHTClientTimeout is the hard client-side wrapper spec §4.9/§5 puts around
// every DHT round-trip: always query-timeout + 2s, never configurable
// independently (spec.md §5: "every DHT operation has a client-side 12s
// timeout").
func (c Config) DHTClientTimeout() time.Duration {
	return c.DHTQueryTimeout + 2*time.Second
}

// DefaultConfig returns the options spec §6.2 names defaults for.
func DefaultConfig() Config {
	return Config{
		RelayRotationInterval:  5 * time.Minute,
		DHTQueryTimeout:        10 * time.Second,
		DHTHealthCheckInterval: 15 * time.Second,
		MaxMessageSize:         1 << 20, // 1 MiB
		KeyPackagesPerPublish:  10,
		HoldbackQueueCapacity:  4096,
	}
}

// Builder accumulates options before producing an immutable Config, mirroring
// the teacher's functional-options-free, struct-literal config style.
type Builder struct {
	cfg Config
}

func NewBuilder() *Builder {
	b := &Builder{cfg: DefaultConfig()}
	return b
}

func (b *Builder) StoragePath(path string) *Builder {
	b.cfg.StoragePath = path
	return b
}

func (b *Builder) ListenAddr(addr string) *Builder {
	if a, err := multiaddr.NewMultiaddr(addr); err == nil {
		b.cfg.ListenAddrs = append(b.cfg.ListenAddrs, a)
	}
	return b
}

func (b *Builder) BootstrapPeer(addr string) *Builder {
	if a, err := multiaddr.NewMultiaddr(addr); err == nil {
		b.cfg.BootstrapPeers = append(b.cfg.BootstrapPeers, a)
	}
	return b
}

func (b *Builder) RelayOnly(v bool) *Builder {
	b.cfg.RelayOnly = v
	return b
}

func (b *Builder) RelayRotationInterval(d time.Duration) *Builder {
	b.cfg.RelayRotationInterval = d
	return b
}

func (b *Builder) DHTQueryTimeout(d time.Duration) *Builder {
	b.cfg.DHTQueryTimeout = d
	return b
}

func (b *Builder) DHTHealthCheckInterval(d time.Duration) *Builder {
	b.cfg.DHTHealthCheckInterval = d
	return b
}

func (b *Builder) MaxMessageSize(n int) *Builder {
	b.cfg.MaxMessageSize = n
	return b
}

func (b *Builder) KeyPackagesPerPublish(n uint32) *Builder {
	b.cfg.KeyPackagesPerPublish = n
	return b
}

func (b *Builder) Build() Config {
	return b.cfg
}
