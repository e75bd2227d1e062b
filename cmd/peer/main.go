// Command peer is a headless call participant: it connects to the relay,
// runs the call state machine over a pion media session, and either dials a
// peer or answers the first incoming call. Useful for poking at a running
// relay without a browser.
package main

import (
	"encoding/json"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/parleychat/relay/internal/adapters/rtc"
	"github.com/parleychat/relay/internal/call"
	"github.com/parleychat/relay/internal/core"
	"github.com/parleychat/relay/internal/domain"
)

type wsSignaler struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSignaler) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSignaler) SendOffer(to domain.UserID, conv domain.ConversationID, offer json.RawMessage, media domain.MediaKind) error {
	return s.send(struct {
		Type         core.Kind             `json:"type"`
		To           domain.UserID         `json:"toUserId"`
		Conversation domain.ConversationID `json:"conversationId"`
		Offer        json.RawMessage       `json:"offer"`
		Media        domain.MediaKind      `json:"media"`
	}{core.KindCallOffer, to, conv, offer, media})
}

func (s *wsSignaler) SendAnswer(to domain.UserID, conv domain.ConversationID, answer json.RawMessage) error {
	return s.send(struct {
		Type         core.Kind             `json:"type"`
		To           domain.UserID         `json:"toUserId"`
		Conversation domain.ConversationID `json:"conversationId"`
		Answer       json.RawMessage       `json:"answer"`
	}{core.KindCallAnswer, to, conv, answer})
}

func (s *wsSignaler) SendIce(to domain.UserID, conv domain.ConversationID, candidate json.RawMessage) error {
	return s.send(struct {
		Type         core.Kind             `json:"type"`
		To           domain.UserID         `json:"toUserId"`
		Conversation domain.ConversationID `json:"conversationId"`
		Candidate    json.RawMessage       `json:"candidate"`
	}{core.KindCallIce, to, conv, candidate})
}

func (s *wsSignaler) SendEnd(to domain.UserID, conv domain.ConversationID) error {
	return s.send(struct {
		Type         core.Kind             `json:"type"`
		To           domain.UserID         `json:"toUserId"`
		Conversation domain.ConversationID `json:"conversationId"`
	}{core.KindCallEnd, to, conv})
}

func (s *wsSignaler) SendReject(to domain.UserID, conv domain.ConversationID) error {
	return s.send(struct {
		Type         core.Kind             `json:"type"`
		To           domain.UserID         `json:"toUserId"`
		Conversation domain.ConversationID `json:"conversationId"`
	}{core.KindCallReject, to, conv})
}

func (s *wsSignaler) SendCameraState(to domain.UserID, conv domain.ConversationID, enabled bool) error {
	return s.send(struct {
		Type         core.Kind             `json:"type"`
		To           domain.UserID         `json:"toUserId"`
		Conversation domain.ConversationID `json:"conversationId"`
		Enabled      bool                  `json:"enabled"`
	}{core.KindCameraState, to, conv, enabled})
}

func newMediaSession(machine **call.Machine) call.MediaFactory {
	return func(conv domain.ConversationID, media domain.MediaKind) (call.MediaSession, error) {
		conn, err := rtc.NewConnection(rtc.DefaultConfig(), conv, media)
		if err != nil {
			return nil, err
		}
		conn.OnCandidate(func(candidate json.RawMessage) { (*machine).OnLocalCandidate(candidate) })
		conn.OnConnected(func() { (*machine).HandleTransportConnected() })
		conn.OnFailed(func() { (*machine).HandleTransportFailed() })
		conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.Info().Str("kind", track.Kind().String()).Str("track_id", track.ID()).Msg("remote track")
		})
		return conn, nil
	}
}

func main() {
	addr := flag.String("addr", "localhost:8080", "relay host:port")
	token := flag.String("token", "", "access token")
	peer := flag.String("peer", "", "user id to call; empty waits for a call")
	conv := flag.String("conversation", "", "conversation id for an outgoing call")
	video := flag.Bool("video", false, "request a video call")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/api/ws/chat", RawQuery: "token=" + url.QueryEscape(*token)}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("dial relay")
	}
	defer conn.Close()

	sig := &wsSignaler{conn: conn}
	var machine *call.Machine
	machine = call.NewMachine(call.Options{
		Signaler: sig,
		NewMedia: newMediaSession(&machine),
		OnStateChange: func(state call.State, reason call.EndReason) {
			log.Info().Str("state", string(state)).Str("reason", string(reason)).Msg("call state")
			if state == call.StateRinging {
				go func() {
					if err := machine.Accept(); err != nil {
						log.Error().Err(err).Msg("accept")
					}
				}()
			}
		},
		OnRemoteCamera: func(enabled bool) {
			log.Info().Bool("enabled", enabled).Msg("remote camera")
		},
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Error().Err(err).Msg("read")
				return
			}
			handleEvent(machine, data)
		}
	}()

	if *peer != "" {
		media := domain.MediaAudio
		if *video {
			media = domain.MediaVideo
		}
		if err := machine.StartCall(domain.UserID(*peer), domain.ConversationID(*conv), media); err != nil {
			log.Fatal().Err(err).Msg("start call")
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-interrupt:
		machine.End()
	case <-done:
	}
}

func handleEvent(machine *call.Machine, data []byte) {
	var env struct {
		Type core.Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Msg("bad event")
		return
	}
	switch env.Type {
	case core.KindCallOffer:
		var ev core.OfferEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		machine.HandleOffer(ev.From, ev.Conversation, ev.Offer, ev.Media)
	case core.KindCallAnswer:
		var ev core.AnswerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		machine.HandleAnswer(ev.Conversation, ev.Answer)
	case core.KindCallIce:
		var ev core.IceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		machine.HandleIce(ev.Conversation, ev.Candidate)
	case core.KindCallEnd:
		var ev core.EndEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		machine.HandleEnd(ev.Conversation)
	case core.KindCallReject:
		var ev core.RejectEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		machine.HandleReject(ev.Conversation)
	case core.KindCallUnavailable:
		var ev core.UnavailableEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		machine.HandleUnavailable(ev.Conversation)
	case core.KindCameraState:
		var ev core.CameraStateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		machine.HandleCameraState(ev.Conversation, ev.Enabled)
	case core.KindPresenceOnline, core.KindPresenceOffline:
		var ev core.PresenceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		log.Info().Str("user", string(ev.User)).Str("event", string(env.Type)).Msg("presence")
	case core.KindMessageNew, core.KindPong:
		// Not interesting to a call peer.
	default:
		log.Warn().Str("type", string(env.Type)).Msg("unknown event")
	}
}
