package network

import (
	"encoding/hex"
	"fmt"

	"github.com/var-che/spaceway/ids"
)

// Topic name constructors, exactly spec §6.3's wire/topic contracts.

func SpaceTopic(space ids.SpaceId) string {
	return fmt.Sprintf("space/%s", hex.EncodeToString(space[:16]))
}

func ChannelTopic(channel ids.ChannelId) string {
	return fmt.Sprintf("channel/%s", hex.EncodeToString(channel[:16]))
}

func UserWelcomeTopic(user [32]byte) string {
	return fmt.Sprintf("user/%s/welcome", hex.EncodeToString(user[:]))
}

func UserSyncTopic(user [32]byte) string {
	return fmt.Sprintf("user/%s/sync", hex.EncodeToString(user[:]))
}

// Frame kind bytes — spec §6.3, "application framing (first byte of
// payload)".
const (
	FramePlaintextOp byte = 0x00
	FrameSpaceMLS    byte = 0x01
	FrameChannelMLS  byte = 0x02
)

// EncodeSpaceCiphertext prefixes ciphertext with the Space-MLS frame byte
// and the space id, per spec §6.3.
func EncodeSpaceCiphertext(space ids.SpaceId, ciphertext []byte) []byte {
	out := make([]byte, 0, 1+32+len(ciphertext))
	out = append(out, FrameSpaceMLS)
	out = append(out, space[:]...)
	return append(out, ciphertext...)
}

// EncodeChannelCiphertext prefixes ciphertext with the Channel-MLS frame
// byte and the channel id, per spec §6.3.
func EncodeChannelCiphertext(channel ids.ChannelId, ciphertext []byte) []byte {
	out := make([]byte, 0, 1+32+len(ciphertext))
	out = append(out, FrameChannelMLS)
	out = append(out, channel[:]...)
	return append(out, ciphertext...)
}

// EncodePlaintextOp prefixes raw, RLP-encoded op bytes with the plaintext
// frame byte (Lightweight Spaces and discovery ops travel unencrypted at
// the gossip layer, per spec §6.3).
func EncodePlaintextOp(opBytes []byte) []byte {
	return append([]byte{FramePlaintextOp}, opBytes...)
}

// DecodeFrame splits a gossip payload into its frame kind and body. For
// 0x01/0x02 frames, body is (entity_id, ciphertext); for 0x00, body is the
// raw op bytes.
func DecodeFrame(payload []byte) (kind byte, entityID [32]byte, body []byte, err error) {
	if len(payload) == 0 {
		return 0, entityID, nil, fmt.Errorf("network: empty gossip payload")
	}
	kind = payload[0]
	rest := payload[1:]
	switch kind {
	case FramePlaintextOp:
		return kind, entityID, rest, nil
	case FrameSpaceMLS, FrameChannelMLS:
		if len(rest) < 32 {
			return 0, entityID, nil, fmt.Errorf("network: truncated ciphertext frame")
		}
		copy(entityID[:], rest[:32])
		return kind, entityID, rest[32:], nil
	default:
		return 0, entityID, nil, fmt.Errorf("network: unknown frame kind 0x%02x", kind)
	}
}
