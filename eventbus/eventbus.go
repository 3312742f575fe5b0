// Package eventbus implements the Engine's on_event subscriber feed (spec
// §6.1), adapted from the teacher's gossip.ServiceFeed: one go-ethereum/
// event.Feed per event kind, fanned out through a SubscriptionScope so
// Engine.Shutdown can close every live subscription in one call.
package eventbus

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/var-che/spaceway/identity"
	"github.com/var-che/spaceway/ids"
)

// MessageReceived fires when a PostMessage op (or its decrypted MLS
// ciphertext) has been applied to Forum state.
type MessageReceived struct {
	Space   ids.SpaceId
	Channel ids.ChannelId
	Thread  ids.ThreadId
	Message ids.MessageId
	Author  identity.UserId
}

// MemberJoined fires when an AddMember or UseInvite op is applied to a
// Space. Adding a user to an MLS group does not emit it.
type MemberJoined struct {
	Space ids.SpaceId
	User  identity.UserId
}

// MemberRemoved fires when a RemoveMember op is applied. Removal from an MLS
// group and channel kicks do not emit it.
type MemberRemoved struct {
	Space ids.SpaceId
	User  identity.UserId
}

// WelcomeReceived fires when this node processes an MLS Welcome and joins
// a new group.
type WelcomeReceived struct {
	GroupID ids.ID
	Epoch   uint64
}

// PeerConnected/PeerDisconnected mirror the network layer's connectivity
// transitions (spec §4 relay-link state machine).
type PeerConnected struct{ PeerID string }
type PeerDisconnected struct{ PeerID string }

// SyncCompleted fires when a SyncResponse from a peer has been processed,
// successfully or not.
type SyncCompleted struct {
	Space   ids.SpaceId
	Applied int
	Err     error
}

// Bus fans every event kind out to its own feed, exactly the shape of the
// teacher's ServiceFeed (one notify.Feed field per event, one Subscribe*
// method per field, a shared SubscriptionScope for bulk teardown).
type Bus struct {
	messageReceived  event.Feed
	memberJoined     event.Feed
	memberRemoved    event.Feed
	welcomeReceived  event.Feed
	peerConnected    event.Feed
	peerDisconnected event.Feed
	syncCompleted    event.Feed
	scope            event.SubscriptionScope
}

func New() *Bus { return &Bus{} }

func (b *Bus) SubscribeMessageReceived(ch chan<- MessageReceived) event.Subscription {
	return b.scope.Track(b.messageReceived.Subscribe(ch))
}

func (b *Bus) SubscribeMemberJoined(ch chan<- MemberJoined) event.Subscription {
	return b.scope.Track(b.memberJoined.Subscribe(ch))
}

func (b *Bus) SubscribeMemberRemoved(ch chan<- MemberRemoved) event.Subscription {
	return b.scope.Track(b.memberRemoved.Subscribe(ch))
}

func (b *Bus) SubscribeWelcomeReceived(ch chan<- WelcomeReceived) event.Subscription {
	return b.scope.Track(b.welcomeReceived.Subscribe(ch))
}

func (b *Bus) SubscribePeerConnected(ch chan<- PeerConnected) event.Subscription {
	return b.scope.Track(b.peerConnected.Subscribe(ch))
}

func (b *Bus) SubscribePeerDisconnected(ch chan<- PeerDisconnected) event.Subscription {
	return b.scope.Track(b.peerDisconnected.Subscribe(ch))
}

func (b *Bus) SubscribeSyncCompleted(ch chan<- SyncCompleted) event.Subscription {
	return b.scope.Track(b.syncCompleted.Subscribe(ch))
}

func (b *Bus) EmitMessageReceived(e MessageReceived)   { b.messageReceived.Send(e) }
func (b *Bus) EmitMemberJoined(e MemberJoined)         { b.memberJoined.Send(e) }
func (b *Bus) EmitMemberRemoved(e MemberRemoved)       { b.memberRemoved.Send(e) }
func (b *Bus) EmitWelcomeReceived(e WelcomeReceived)   { b.welcomeReceived.Send(e) }
func (b *Bus) EmitPeerConnected(e PeerConnected)       { b.peerConnected.Send(e) }
func (b *Bus) EmitPeerDisconnected(e PeerDisconnected) { b.peerDisconnected.Send(e) }
func (b *Bus) EmitSyncCompleted(e SyncCompleted)       { b.syncCompleted.Send(e) }

// Close unsubscribes every live subscription, called during Engine shutdown
// (spec §5: "releases resources in reverse-dependency order").
func (b *Bus) Close() { b.scope.Close() }
