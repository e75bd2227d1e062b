package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/parleychat/relay/internal/core"
	"github.com/parleychat/relay/internal/domain"
)

type presenceChecker interface {
	IsOnline(ctx context.Context, userID domain.UserID) (bool, error)
}

// Router fans relay events out to live connections and handles the inbound
// call-negotiation surface. It is a pure relay: no conversation-membership or
// SDP validation happens here, and no call state is kept.
type Router struct {
	registry *Registry
	limiter  *OfferRateLimiter

	// Presence is set after construction; the tracker needs the router as its
	// broadcaster and the router needs the tracker for the offline check.
	Presence presenceChecker
}

func NewRouter(registry *Registry, limiter *OfferRateLimiter) *Router {
	return &Router{registry: registry, limiter: limiter}
}

// SendToUser delivers to every live connection of the user on this process.
// Zero connections is a no-op, not an error.
func (rt *Router) SendToUser(userID domain.UserID, frame core.Frame) int {
	sent := 0
	for _, conn := range rt.registry.ConnectionsFor(userID) {
		if err := conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.router").Str("user", string(userID)).Msg("drop frame")
			continue
		}
		sent++
	}
	return sent
}

// Broadcast delivers to all live connections on this process.
func (rt *Router) Broadcast(frame core.Frame) {
	for _, conn := range rt.registry.All() {
		if err := conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.router").Msg("drop broadcast frame")
		}
	}
}

// HandleMessage dispatches one decoded inbound message. from is the
// authenticated owner of the connection the message arrived on.
func (rt *Router) HandleMessage(ctx context.Context, from domain.UserID, msg core.Message) {
	switch m := msg.(type) {
	case *core.Offer:
		rt.handleOffer(ctx, from, m)
	case *core.Answer:
		rt.send(m.To, core.AnswerEvent{Type: core.KindCallAnswer, From: from, Conversation: m.Conversation, Answer: m.Answer})
	case *core.Ice:
		rt.send(m.To, core.IceEvent{Type: core.KindCallIce, From: from, Conversation: m.Conversation, Candidate: m.Candidate})
	case *core.End:
		rt.send(m.To, core.EndEvent{Type: core.KindCallEnd, From: from, Conversation: m.Conversation})
	case *core.Reject:
		rt.send(m.To, core.RejectEvent{Type: core.KindCallReject, From: from, Conversation: m.Conversation})
	case *core.CameraState:
		rt.send(m.To, core.CameraStateEvent{Type: core.KindCameraState, From: from, Conversation: m.Conversation, Enabled: m.Enabled})
	case *core.Ping:
		rt.send(from, core.PongEvent{Type: core.KindPong})
	default:
		log.Warn().Str("module", "app.router").Str("kind", string(msg.MessageKind())).Msg("unroutable message")
	}
}

func (rt *Router) handleOffer(ctx context.Context, from domain.UserID, m *core.Offer) {
	if m.To == from {
		log.Warn().Str("module", "app.router").Str("user", string(from)).Msg("self call dropped")
		return
	}
	if rt.limiter != nil && !rt.limiter.Allow(from) {
		log.Warn().Str("module", "app.router").Str("user", string(from)).Msg("offer rate limit exceeded")
		return
	}

	online, err := rt.Presence.IsOnline(ctx, m.To)
	if err != nil {
		// Soft check: a delivery attempt to a dead user is harmless, a false
		// unavailable to a live one is not.
		log.Error().Err(err).Str("module", "app.router").Str("user", string(m.To)).Msg("presence check failed, forwarding offer")
		online = true
	}
	if !online {
		rt.send(from, core.UnavailableEvent{Type: core.KindCallUnavailable, To: m.To, Conversation: m.Conversation})
		log.Info().Str("module", "app.router").Str("from", string(from)).Str("to", string(m.To)).Msg("offer target unavailable")
		return
	}

	rt.send(m.To, core.OfferEvent{Type: core.KindCallOffer, From: from, Conversation: m.Conversation, Offer: m.Offer, Media: m.Media})
}

// NotifyMessage is the persistence-service boundary: after committing a
// message it calls in here to push message:new to every recipient.
func (rt *Router) NotifyMessage(userIDs []domain.UserID, conversation domain.ConversationID, message json.RawMessage) {
	frame, err := core.Encode(core.MessageNewEvent{Type: core.KindMessageNew, Conversation: conversation, Message: message})
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode message event")
		return
	}
	seen := make(map[domain.UserID]struct{}, len(userIDs))
	for _, userID := range userIDs {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		rt.SendToUser(userID, frame)
	}
}

func (rt *Router) send(to domain.UserID, event any) {
	frame, err := core.Encode(event)
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode event")
		return
	}
	rt.SendToUser(to, frame)
}
