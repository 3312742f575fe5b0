package network

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/var-che/spaceway/config"
	"github.com/var-che/spaceway/eventbus"
)

func loopbackConfig(t *testing.T) config.Config {
	t.Helper()
	return config.NewBuilder().
		ListenAddr("/ip4/127.0.0.1/tcp/0").
		DHTQueryTimeout(2 * time.Second).
		Build()
}

func newTestNode(t *testing.T, ctx context.Context) *Node {
	t.Helper()
	n, err := New(ctx, loopbackConfig(t), eventbus.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Shutdown() })
	return n
}

// connect dials b from a directly, bypassing DHT discovery — sufficient for
// exercising GossipSub delivery between two known peers.
func connect(t *testing.T, ctx context.Context, a, b *Node) {
	t.Helper()
	addrs := b.host.Addrs()
	require.NotEmpty(t, addrs)
	info := peer.AddrInfo{ID: b.host.ID(), Addrs: []multiaddr.Multiaddr{addrs[0]}}
	require.NoError(t, a.host.Connect(ctx, info))
}

func TestPublishSubscribeDeliversPayload(t *testing.T) {
	ctx := context.Background()
	a := newTestNode(t, ctx)
	b := newTestNode(t, ctx)
	connect(t, ctx, a, b)

	sub, err := b.Subscribe("space/deadbeef")
	require.NoError(t, err)

	// GossipSub needs a beat to register the mesh link before a publish
	// from a reaches b's subscription.
	require.Eventually(t, func() bool {
		_, joinErr := a.Join("space/deadbeef")
		return joinErr == nil && len(a.pubsub.ListPeers("space/deadbeef")) > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, a.Publish(ctx, "space/deadbeef", []byte("hello")))

	subCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	msg, err := sub.Next(subCtx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg.Data)
}

func TestPublishEnforcesMaxMessageSize(t *testing.T) {
	ctx := context.Background()
	cfg := loopbackConfig(t)
	cfg.MaxMessageSize = 4
	n, err := New(ctx, cfg, eventbus.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Shutdown() })

	err = n.Publish(ctx, "space/toolong", []byte("too long for the limit"))
	assert.Error(t, err)
}

func TestJoinReturnsSameTopicOnSecondCall(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(t, ctx)

	t1, err := n.Join("space/aaaa")
	require.NoError(t, err)
	t2, err := n.Join("space/aaaa")
	require.NoError(t, err)
	assert.Same(t, t1, t2)
}

func TestShutdownIsSafeWithoutStart(t *testing.T) {
	ctx := context.Background()
	n, err := New(ctx, loopbackConfig(t), eventbus.New())
	require.NoError(t, err)
	assert.NoError(t, n.Shutdown())
}

func TestConnNotifieeEmitsPeerEvents(t *testing.T) {
	ctx := context.Background()
	a := newTestNode(t, ctx)
	b := newTestNode(t, ctx)

	ch := make(chan eventbus.PeerConnected, 1)
	sub := a.bus.SubscribePeerConnected(ch)
	defer sub.Unsubscribe()

	connect(t, ctx, a, b)

	select {
	case e := <-ch:
		assert.Equal(t, b.ID(), e.PeerID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for PeerConnected event")
	}
}
