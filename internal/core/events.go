package core

import (
	"encoding/json"

	"github.com/parleychat/relay/internal/domain"
)

// Relay-to-client event payloads. Every outbound frame is one of these,
// marshaled with Encode.

type OfferEvent struct {
	Type         Kind                  `json:"type"`
	From         domain.UserID         `json:"fromUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
	Offer        json.RawMessage       `json:"offer"`
	Media        domain.MediaKind      `json:"media"`
}

type AnswerEvent struct {
	Type         Kind                  `json:"type"`
	From         domain.UserID         `json:"fromUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
	Answer       json.RawMessage       `json:"answer"`
}

type IceEvent struct {
	Type         Kind                  `json:"type"`
	From         domain.UserID         `json:"fromUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
	Candidate    json.RawMessage       `json:"candidate"`
}

type EndEvent struct {
	Type         Kind                  `json:"type"`
	From         domain.UserID         `json:"fromUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
}

type RejectEvent struct {
	Type         Kind                  `json:"type"`
	From         domain.UserID         `json:"fromUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
}

// UnavailableEvent goes back to the initiator when the target has no live
// connections. To echoes the user the initiator tried to reach.
type UnavailableEvent struct {
	Type         Kind                  `json:"type"`
	To           domain.UserID         `json:"toUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
}

type CameraStateEvent struct {
	Type         Kind                  `json:"type"`
	From         domain.UserID         `json:"fromUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
	Enabled      bool                  `json:"enabled"`
}

type PresenceEvent struct {
	Type Kind          `json:"type"`
	User domain.UserID `json:"userId"`
}

type MessageNewEvent struct {
	Type         Kind                  `json:"type"`
	Conversation domain.ConversationID `json:"conversationId"`
	Message      json.RawMessage       `json:"message"`
}

type PongEvent struct {
	Type Kind `json:"type"`
}

// Encode marshals an outbound event. Payloads are relay-built structs, so a
// marshal failure is a programming error and reported as such.
func Encode(v any) (Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Frame(b), nil
}
