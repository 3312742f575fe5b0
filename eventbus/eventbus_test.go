package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/var-che/spaceway/ids"
)

func TestMessageReceivedDelivery(t *testing.T) {
	b := New()
	ch := make(chan MessageReceived, 1)
	sub := b.SubscribeMessageReceived(ch)
	defer sub.Unsubscribe()

	b.EmitMessageReceived(MessageReceived{Space: ids.SpaceId{1}, Message: ids.MessageId{2}})

	select {
	case got := <-ch:
		assert.Equal(t, ids.SpaceId{1}, got.Space)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for MessageReceived")
	}
}

func TestCloseUnsubscribesEverything(t *testing.T) {
	b := New()
	ch := make(chan PeerConnected, 1)
	sub := b.SubscribePeerConnected(ch)
	require.NotNil(t, sub)

	b.Close()
	b.EmitPeerConnected(PeerConnected{PeerID: "p1"}) // must not panic or block after Close
}
