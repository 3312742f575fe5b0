package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.RelayRotationInterval)
	assert.Equal(t, 10*time.Second, cfg.DHTQueryTimeout)
	assert.Equal(t, 15*time.Second, cfg.DHTHealthCheckInterval)
	assert.Equal(t, 1<<20, cfg.MaxMessageSize)
	assert.Equal(t, uint32(10), cfg.KeyPackagesPerPublish)
}

func TestDHTClientTimeoutWrapsQueryTimeout(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 12*time.Second, cfg.DHTClientTimeout())
}

func TestBuilderAccumulatesOptions(t *testing.T) {
	cfg := NewBuilder().
		StoragePath("/var/lib/spaceway").
		ListenAddr("/ip4/0.0.0.0/tcp/4001").
		RelayOnly(true).
		MaxMessageSize(2048).
		Build()

	assert.Equal(t, "/var/lib/spaceway", cfg.StoragePath)
	assert.Len(t, cfg.ListenAddrs, 1)
	assert.True(t, cfg.RelayOnly)
	assert.Equal(t, 2048, cfg.MaxMessageSize)
}

func TestBuilderIgnoresMalformedMultiaddr(t *testing.T) {
	cfg := NewBuilder().ListenAddr("not-a-multiaddr").Build()
	assert.Empty(t, cfg.ListenAddrs)
}
