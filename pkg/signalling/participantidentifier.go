package signalling

import (
	"strings"

	"github.com/google/uuid"
)

const participantIdentifierPrefix = "user-"

// Identifies a single participant for the lifetime of one room membership.
//
// A new identifier is generated every time a room is joined, so an identifier
// is never reused after the participant leaves. The value is opaque to every
// consumer except for display purposes (see Short).
type ParticipantIdentifier string

// Generate a fresh, process-unique participant identifier.
func NewParticipantIdentifier() ParticipantIdentifier {
	return ParticipantIdentifier(participantIdentifierPrefix + uuid.New().String())
}

func (id ParticipantIdentifier) String() string {
	return string(id)
}

// A short form of the identifier, suitable for labelling a video tile.
func (id ParticipantIdentifier) Short() string {
	s := strings.TrimPrefix(string(id), participantIdentifierPrefix)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (id ParticipantIdentifier) IsZero() bool {
	return id == ""
}
