package call

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/parleychat/relay/internal/domain"
)

var (
	ErrBusy         = errors.New("call already active")
	ErrInvalidState = errors.New("invalid call state")
)

// DefaultRingTimeout bounds how long calling/ringing may last before the
// machine gives up and notifies the peer.
const DefaultRingTimeout = 30 * time.Second

// maxPendingCandidates caps the buffer of candidates that arrived before the
// SDP exchange made them applicable.
const maxPendingCandidates = 128

type pendingCandidate struct {
	conv      domain.ConversationID
	candidate json.RawMessage
}

type Options struct {
	Signaler Signaler
	NewMedia MediaFactory
	// RingTimeout bounds calling (dial) and ringing. Zero picks
	// DefaultRingTimeout; a negative value disables the timer.
	RingTimeout time.Duration
	Clock       clock.Clock

	// OnStateChange fires after every transition, outside the machine lock.
	// The reason is non-empty only when the new state is idle.
	OnStateChange func(State, EndReason)
	// OnRemoteCamera fires when the peer toggles its camera mid-call.
	OnRemoteCamera func(enabled bool)
}

// Machine is one participant's call state machine. All Handle* methods are
// safe to call from the connection's read loop; local operations are safe to
// call from anywhere.
type Machine struct {
	signaler    Signaler
	newMedia    MediaFactory
	ringTimeout time.Duration
	clock       clock.Clock
	onState     func(State, EndReason)
	onCamera    func(bool)

	mu      sync.Mutex
	state   State
	peer    domain.UserID
	conv    domain.ConversationID
	media   domain.MediaKind
	role    domain.CallRole
	session MediaSession
	// offer held while ringing, applied on Accept.
	remoteOffer json.RawMessage
	pending     []pendingCandidate
	timer       *clock.Timer
	timerSeq    uint64
}

func NewMachine(opts Options) *Machine {
	m := &Machine{
		signaler:    opts.Signaler,
		newMedia:    opts.NewMedia,
		ringTimeout: opts.RingTimeout,
		clock:       opts.Clock,
		onState:     opts.OnStateChange,
		onCamera:    opts.OnRemoteCamera,
		state:       StateIdle,
	}
	if m.ringTimeout == 0 {
		m.ringTimeout = DefaultRingTimeout
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartCall acquires media, emits the offer and enters calling.
func (m *Machine) StartCall(peer domain.UserID, conv domain.ConversationID, media domain.MediaKind) error {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	session, err := m.newMedia(conv, media)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	offer, err := session.CreateOffer()
	if err != nil {
		m.mu.Unlock()
		session.Close()
		return err
	}
	m.state = StateCalling
	m.peer, m.conv, m.media, m.role = peer, conv, media, domain.RoleInitiator
	m.session = session
	m.armTimerLocked()
	m.mu.Unlock()

	if err := m.signaler.SendOffer(peer, conv, offer, media); err != nil {
		m.HandleTransportFailed()
		return err
	}
	m.notify(StateCalling, ReasonNone)
	return nil
}

// HandleOffer reacts to an incoming offer. A busy participant auto-rejects
// without involving the application layer; at most one call may be active or
// ringing at a time.
func (m *Machine) HandleOffer(from domain.UserID, conv domain.ConversationID, offer json.RawMessage, media domain.MediaKind) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		if err := m.signaler.SendReject(from, conv); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("busy reject failed")
		}
		return
	}
	m.state = StateRinging
	m.peer, m.conv, m.media, m.role = from, conv, media, domain.RoleResponder
	m.remoteOffer = offer
	m.armTimerLocked()
	m.mu.Unlock()
	m.notify(StateRinging, ReasonNone)
}

// Accept answers the ringing offer: acquires media matching the offer's
// kind, applies the remote description, drains buffered candidates and emits
// the answer.
func (m *Machine) Accept() error {
	m.mu.Lock()
	if m.state != StateRinging {
		m.mu.Unlock()
		return ErrInvalidState
	}
	session, err := m.newMedia(m.conv, m.media)
	if err != nil {
		return m.abortLocked(err)
	}
	m.session = session
	if err := session.AcceptOffer(m.remoteOffer); err != nil {
		return m.abortLocked(err)
	}
	m.remoteOffer = nil
	m.drainLocked()
	answer, err := session.CreateAnswer()
	if err != nil {
		return m.abortLocked(err)
	}
	m.state = StateConnecting
	m.stopTimerLocked()
	peer, conv := m.peer, m.conv
	m.mu.Unlock()

	if err := m.signaler.SendAnswer(peer, conv, answer); err != nil {
		m.HandleTransportFailed()
		return err
	}
	m.notify(StateConnecting, ReasonNone)
	return nil
}

// Decline rejects the ringing offer.
func (m *Machine) Decline() error {
	m.mu.Lock()
	if m.state != StateRinging {
		m.mu.Unlock()
		return ErrInvalidState
	}
	peer, conv := m.peer, m.conv
	m.resetLocked()
	m.mu.Unlock()

	if err := m.signaler.SendReject(peer, conv); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("reject send failed")
	}
	m.notify(StateIdle, ReasonLocalEnd)
	return nil
}

// End hangs up locally from any non-idle state and notifies the peer.
func (m *Machine) End() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	peer, conv := m.peer, m.conv
	session := m.session
	m.resetLocked()
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
	if err := m.signaler.SendEnd(peer, conv); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("end send failed")
	}
	m.notify(StateIdle, ReasonLocalEnd)
}

// HandleAnswer applies the remote answer and moves the initiator into the
// call, draining buffered candidates.
func (m *Machine) HandleAnswer(conv domain.ConversationID, answer json.RawMessage) {
	m.mu.Lock()
	if m.state != StateCalling || conv != m.conv {
		m.mu.Unlock()
		return
	}
	if err := m.session.AcceptAnswer(answer); err != nil {
		m.mu.Unlock()
		log.Error().Err(err).Str("module", "call").Msg("apply answer")
		m.HandleTransportFailed()
		return
	}
	m.drainLocked()
	m.state = StateInCall
	m.stopTimerLocked()
	m.mu.Unlock()
	m.notify(StateInCall, ReasonNone)
}

// HandleIce applies a remote candidate, or buffers it when nothing can
// consume it yet. Candidates are never dropped just for arriving before the
// SDP exchange; buffered ones replay in original receipt order.
func (m *Machine) HandleIce(conv domain.ConversationID, candidate json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || conv != m.conv || !m.session.HasRemoteDescription() {
		if len(m.pending) >= maxPendingCandidates {
			log.Warn().Str("module", "call").Msg("pending candidate buffer full, dropping")
			return
		}
		m.pending = append(m.pending, pendingCandidate{conv: conv, candidate: candidate})
		return
	}
	if err := m.session.AddICECandidate(candidate); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("apply candidate")
	}
}

// HandleTransportConnected marks the media path up. Idempotent; fires from
// the transport's connection-state callback.
func (m *Machine) HandleTransportConnected() {
	m.mu.Lock()
	if m.state != StateCalling && m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.state = StateInCall
	m.stopTimerLocked()
	m.mu.Unlock()
	m.notify(StateInCall, ReasonNone)
}

func (m *Machine) HandleEnd(conv domain.ConversationID) {
	m.teardownRemote(conv, ReasonRemoteEnd)
}

func (m *Machine) HandleReject(conv domain.ConversationID) {
	m.teardownRemote(conv, ReasonRejected)
}

func (m *Machine) HandleUnavailable(conv domain.ConversationID) {
	m.teardownRemote(conv, ReasonUnavailable)
}

// HandleTransportFailed forces idle on a mid-call media failure. The peer is
// not messaged; it observes the same failure on its own transport.
func (m *Machine) HandleTransportFailed() {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	session := m.session
	m.resetLocked()
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
	m.notify(StateIdle, ReasonTransportFailed)
}

// HandleCameraState surfaces the peer's camera toggle for the current call.
func (m *Machine) HandleCameraState(conv domain.ConversationID, enabled bool) {
	m.mu.Lock()
	relevant := m.state != StateIdle && conv == m.conv
	m.mu.Unlock()
	if relevant && m.onCamera != nil {
		m.onCamera(enabled)
	}
}

// SetCameraEnabled tells the peer about a local camera toggle.
func (m *Machine) SetCameraEnabled(enabled bool) error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return ErrInvalidState
	}
	peer, conv := m.peer, m.conv
	m.mu.Unlock()
	return m.signaler.SendCameraState(peer, conv, enabled)
}

// OnLocalCandidate forwards a locally gathered candidate to the peer. Wired
// to the media session's candidate callback.
func (m *Machine) OnLocalCandidate(candidate json.RawMessage) {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return
	}
	peer, conv := m.peer, m.conv
	m.mu.Unlock()
	if err := m.signaler.SendIce(peer, conv, candidate); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("candidate send failed")
	}
}

func (m *Machine) teardownRemote(conv domain.ConversationID, reason EndReason) {
	m.mu.Lock()
	if m.state == StateIdle || conv != m.conv {
		m.mu.Unlock()
		return
	}
	session := m.session
	m.resetLocked()
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
	m.notify(StateIdle, reason)
}

// abortLocked tears down after a local setup failure while holding the lock.
// The peer is left to its ring timer; nothing is sent.
func (m *Machine) abortLocked(err error) error {
	session := m.session
	m.resetLocked()
	m.mu.Unlock()
	if session != nil {
		session.Close()
	}
	m.notify(StateIdle, ReasonTransportFailed)
	return err
}

// resetLocked clears everything belonging to the current call attempt,
// including buffered candidates for its conversation.
func (m *Machine) resetLocked() {
	m.stopTimerLocked()
	conv := m.conv
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.conv != conv {
			kept = append(kept, p)
		}
	}
	m.pending = kept
	m.state = StateIdle
	m.peer, m.conv, m.media, m.role = "", "", "", ""
	m.session = nil
	m.remoteOffer = nil
}

// drainLocked replays buffered candidates for the current conversation in
// receipt order. Each candidate is applied exactly once.
func (m *Machine) drainLocked() {
	kept := m.pending[:0]
	for _, p := range m.pending {
		if p.conv != m.conv {
			kept = append(kept, p)
			continue
		}
		if err := m.session.AddICECandidate(p.candidate); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("apply buffered candidate")
		}
	}
	m.pending = kept
}

func (m *Machine) armTimerLocked() {
	if m.ringTimeout < 0 {
		return
	}
	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.clock.AfterFunc(m.ringTimeout, func() { m.expire(seq) })
}

func (m *Machine) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

// expire fires when calling or ringing outlived the timeout. The initiator
// tells the peer end, the responder reject.
func (m *Machine) expire(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || (m.state != StateCalling && m.state != StateRinging) {
		m.mu.Unlock()
		return
	}
	peer, conv, role := m.peer, m.conv, m.role
	session := m.session
	m.resetLocked()
	m.mu.Unlock()

	if session != nil {
		session.Close()
	}
	var err error
	if role == domain.RoleInitiator {
		err = m.signaler.SendEnd(peer, conv)
	} else {
		err = m.signaler.SendReject(peer, conv)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("timeout notify failed")
	}
	log.Info().Str("module", "call").Str("peer", string(peer)).Msg("call timed out")
	m.notify(StateIdle, ReasonTimeout)
}

func (m *Machine) notify(state State, reason EndReason) {
	if m.onState != nil {
		m.onState(state, reason)
	}
}
