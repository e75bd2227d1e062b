package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parleychat/relay/internal/domain"
)

func TestDecodeOffer(t *testing.T) {
	msg, err := Decode(Frame(`{"type":"call:offer","toUserId":"u2","conversationId":"c1","offer":{"type":"offer","sdp":"v=0"},"media":"video"}`))
	require.NoError(t, err)

	offer, ok := msg.(*Offer)
	require.True(t, ok)
	require.Equal(t, domain.UserID("u2"), offer.To)
	require.Equal(t, domain.ConversationID("c1"), offer.Conversation)
	require.Equal(t, domain.MediaVideo, offer.Media)
	require.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer.Offer))
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode(Frame(`{"type":"call:mystery","toUserId":"u2"}`))
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecodeRejectsBadJSON(t *testing.T) {
	_, err := Decode(Frame(`{"type":`))
	require.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDecodeRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"offer without target":     `{"type":"call:offer","conversationId":"c1","offer":{},"media":"audio"}`,
		"offer without sdp":        `{"type":"call:offer","toUserId":"u2","conversationId":"c1","media":"audio"}`,
		"offer with unknown media": `{"type":"call:offer","toUserId":"u2","conversationId":"c1","offer":{},"media":"hologram"}`,
		"answer without sdp":       `{"type":"call:answer","toUserId":"u2","conversationId":"c1"}`,
		"ice without candidate":    `{"type":"call:ice","toUserId":"u2","conversationId":"c1"}`,
		"end without target":       `{"type":"call:end","conversationId":"c1"}`,
		"camera without enabled":   `{"type":"call:camera-state","toUserId":"u2","conversationId":"c1"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(Frame(raw))
			require.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestDecodeCameraState(t *testing.T) {
	msg, err := Decode(Frame(`{"type":"call:camera-state","toUserId":"u2","conversationId":"c1","enabled":false}`))
	require.NoError(t, err)

	cam, ok := msg.(*CameraState)
	require.True(t, ok)
	require.False(t, cam.Enabled)

	msg, err = Decode(Frame(`{"type":"call:camera-state","toUserId":"u2","conversationId":"c1","enabled":true}`))
	require.NoError(t, err)
	require.True(t, msg.(*CameraState).Enabled)
}

func TestDecodeRelayOnlyKindsRejected(t *testing.T) {
	for _, kind := range []Kind{KindPong, KindPresenceOnline, KindPresenceOffline, KindMessageNew, KindCallUnavailable} {
		_, err := Decode(Frame(`{"type":"` + string(kind) + `"}`))
		require.ErrorIs(t, err, ErrInvalidMessage, "kind %s must not be accepted inbound", kind)
	}
}

func TestDecodePing(t *testing.T) {
	msg, err := Decode(Frame(`{"type":"ping"}`))
	require.NoError(t, err)
	require.Equal(t, KindPing, msg.MessageKind())
}
