// Package call drives one participant's side of the two-party negotiation
// handshake. The relay only forwards; everything stateful about a call lives
// here, in the peer.
package call

import (
	"encoding/json"

	"github.com/parleychat/relay/internal/domain"
)

// Signaler is the machine's view of the relay connection.
type Signaler interface {
	SendOffer(to domain.UserID, conv domain.ConversationID, offer json.RawMessage, media domain.MediaKind) error
	SendAnswer(to domain.UserID, conv domain.ConversationID, answer json.RawMessage) error
	SendIce(to domain.UserID, conv domain.ConversationID, candidate json.RawMessage) error
	SendEnd(to domain.UserID, conv domain.ConversationID) error
	SendReject(to domain.UserID, conv domain.ConversationID) error
	SendCameraState(to domain.UserID, conv domain.ConversationID, enabled bool) error
}

// MediaSession is the local negotiation object (a peer connection plus
// captured media). Candidates can only be applied once a remote description
// is set; the machine buffers them until then.
type MediaSession interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) error
	CreateAnswer() (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	HasRemoteDescription() bool
	Close()
}

// MediaFactory acquires local media and builds the negotiation object for
// one call attempt.
type MediaFactory func(conv domain.ConversationID, media domain.MediaKind) (MediaSession, error)

type State string

const (
	StateIdle       State = "idle"
	StateCalling    State = "calling"
	StateRinging    State = "ringing"
	StateConnecting State = "connecting"
	StateInCall     State = "in_call"
)

// EndReason says why the machine returned to idle.
type EndReason string

const (
	ReasonNone            EndReason = ""
	ReasonLocalEnd        EndReason = "local_end"
	ReasonRemoteEnd       EndReason = "remote_end"
	ReasonRejected        EndReason = "rejected"
	ReasonUnavailable     EndReason = "unavailable"
	ReasonTransportFailed EndReason = "transport_failed"
	ReasonTimeout         EndReason = "timeout"
)
