package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/parleychat/relay/internal/domain"
)

// ErrInvalidMessage covers unknown kinds and missing required fields.
// The adapter drops such frames without a reply.
var ErrInvalidMessage = errors.New("invalid message")

// Kind is the closed set of event names on the wire. Anything a client sends
// outside this set decodes to ErrInvalidMessage instead of being looked up in
// a string-keyed handler table.
type Kind string

const (
	KindCallOffer       Kind = "call:offer"
	KindCallAnswer      Kind = "call:answer"
	KindCallIce         Kind = "call:ice"
	KindCallEnd         Kind = "call:end"
	KindCallReject      Kind = "call:reject"
	KindCallUnavailable Kind = "call:unavailable"
	KindCameraState     Kind = "call:camera-state"
	KindPing            Kind = "ping"

	// Relay-originated kinds, never accepted inbound.
	KindPong            Kind = "pong"
	KindPresenceOnline  Kind = "presence:online"
	KindPresenceOffline Kind = "presence:offline"
	KindMessageNew      Kind = "message:new"
)

// Message is one decoded client-to-relay event.
type Message interface {
	MessageKind() Kind
}

type Offer struct {
	To           domain.UserID         `json:"toUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
	Offer        json.RawMessage       `json:"offer"`
	Media        domain.MediaKind      `json:"media"`
}

type Answer struct {
	To           domain.UserID         `json:"toUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
	Answer       json.RawMessage       `json:"answer"`
}

type Ice struct {
	To           domain.UserID         `json:"toUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
	Candidate    json.RawMessage       `json:"candidate"`
}

type End struct {
	To           domain.UserID         `json:"toUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
}

type Reject struct {
	To           domain.UserID         `json:"toUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
}

type CameraState struct {
	To           domain.UserID         `json:"toUserId"`
	Conversation domain.ConversationID `json:"conversationId"`
	Enabled      bool                  `json:"enabled"`
}

type Ping struct{}

func (Offer) MessageKind() Kind       { return KindCallOffer }
func (Answer) MessageKind() Kind      { return KindCallAnswer }
func (Ice) MessageKind() Kind         { return KindCallIce }
func (End) MessageKind() Kind         { return KindCallEnd }
func (Reject) MessageKind() Kind      { return KindCallReject }
func (CameraState) MessageKind() Kind { return KindCameraState }
func (Ping) MessageKind() Kind        { return KindPing }

// Decode parses one inbound frame into its typed message. The sender identity
// is deliberately absent here: the relay injects it from the authenticated
// connection, never from the payload.
func Decode(data Frame) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, "bad json")
	}

	switch Kind(env.Type) {
	case KindCallOffer:
		var m struct {
			Offer
			Media string `json:"media"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrInvalidMessage
		}
		media, err := domain.ParseMediaKind(m.Media)
		if err != nil {
			return nil, ErrInvalidMessage
		}
		m.Offer.Media = media
		if m.To == "" || len(m.Offer.Offer) == 0 {
			return nil, ErrInvalidMessage
		}
		return &m.Offer, nil
	case KindCallAnswer:
		var m Answer
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrInvalidMessage
		}
		if m.To == "" || len(m.Answer) == 0 {
			return nil, ErrInvalidMessage
		}
		return &m, nil
	case KindCallIce:
		var m Ice
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrInvalidMessage
		}
		if m.To == "" || len(m.Candidate) == 0 {
			return nil, ErrInvalidMessage
		}
		return &m, nil
	case KindCallEnd:
		var m End
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrInvalidMessage
		}
		if m.To == "" {
			return nil, ErrInvalidMessage
		}
		return &m, nil
	case KindCallReject:
		var m Reject
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrInvalidMessage
		}
		if m.To == "" {
			return nil, ErrInvalidMessage
		}
		return &m, nil
	case KindCameraState:
		var m struct {
			CameraState
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, ErrInvalidMessage
		}
		if m.To == "" || m.Enabled == nil {
			return nil, ErrInvalidMessage
		}
		m.CameraState.Enabled = *m.Enabled
		return &m.CameraState, nil
	case KindPing:
		return &Ping{}, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, env.Type)
}
