package domain

import "errors"

var ErrUnknownMediaKind = errors.New("unknown media kind")

// MediaKind is what the caller asked for; it rides along with the offer and
// never changes for the lifetime of a call.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaAudio, MediaVideo:
		return MediaKind(s), nil
	}
	return "", ErrUnknownMediaKind
}

// CallRole is the local side's position in the negotiation.
type CallRole string

const (
	RoleInitiator CallRole = "initiator"
	RoleResponder CallRole = "responder"
)
