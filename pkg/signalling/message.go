package signalling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// The kind of a signaling message, as seen by the mesh.
type Kind string

const (
	KindAnnounce  Kind = "announce"
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Event names on the relay channel. Offers, answers and candidates
// all travel as the signal event and are told apart by their data.
type Event string

const (
	EventAnnounce Event = "announce"
	EventSignal   Event = "signal"
)

var (
	ErrUnknownEvent       = errors.New("unknown signaling event")
	ErrMissingSender      = errors.New("signaling message has no sender")
	ErrMissingRecipient   = errors.New("signal message has no recipient")
	ErrMalformedSignal    = errors.New("signal data must carry exactly one of sdp or candidate")
	ErrUnsupportedSDPType = errors.New("unsupported session description type")
)

// A signaling message exchanged between participants of a room.
//
// Recipient is empty for messages addressed to every member (announce).
// Exactly one of Description and Candidate is set for offer, answer and candidate messages.
type Message struct {
	Sender    ParticipantIdentifier
	Recipient ParticipantIdentifier
	Kind      Kind

	Description *webrtc.SessionDescription
	Candidate   *webrtc.ICECandidateInit
}

// Create the presence announcement of a newly joined participant.
func NewAnnounce(sender ParticipantIdentifier) Message {
	return Message{Sender: sender, Kind: KindAnnounce}
}

// Create an offer or answer message carrying a session description.
func NewDescription(sender, recipient ParticipantIdentifier, desc webrtc.SessionDescription) Message {
	kind := KindOffer
	if desc.Type == webrtc.SDPTypeAnswer {
		kind = KindAnswer
	}
	return Message{
		Sender:      sender,
		Recipient:   recipient,
		Kind:        kind,
		Description: &desc,
	}
}

// Create a reachability candidate message.
func NewCandidate(sender, recipient ParticipantIdentifier, candidate webrtc.ICECandidateInit) Message {
	return Message{
		Sender:    sender,
		Recipient: recipient,
		Kind:      KindCandidate,
		Candidate: &candidate,
	}
}

// Whether the message is addressed to every member of the room.
func (m Message) IsBroadcast() bool {
	return m.Recipient.IsZero()
}

// --------------------------------------------------------------------------------
// Wire format
//
// The relay carries JSON envelopes of the form
//
//	{"event":"announce","payload":{"sender_id":"user-..."}}
//	{"event":"signal","payload":{"sender_id":"...","recipient_id":"...","data":{"sdp":{...}}}}
//	{"event":"signal","payload":{"sender_id":"...","recipient_id":"...","data":{"candidate":{...}}}}

type envelope struct {
	Event   Event   `json:"event"`
	Payload payload `json:"payload"`
}

type payload struct {
	SenderID    ParticipantIdentifier `json:"sender_id"`
	RecipientID ParticipantIdentifier `json:"recipient_id,omitempty"`
	Data        *signalData           `json:"data,omitempty"`
}

type signalData struct {
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// Encode the message into its relay wire form.
func (m Message) Encode() ([]byte, error) {
	env := envelope{
		Payload: payload{
			SenderID:    m.Sender,
			RecipientID: m.Recipient,
		},
	}

	switch m.Kind {
	case KindAnnounce:
		env.Event = EventAnnounce
	case KindOffer, KindAnswer:
		if m.Description == nil {
			return nil, ErrMalformedSignal
		}
		env.Event = EventSignal
		env.Payload.Data = &signalData{SDP: m.Description}
	case KindCandidate:
		if m.Candidate == nil {
			return nil, ErrMalformedSignal
		}
		env.Event = EventSignal
		env.Payload.Data = &signalData{Candidate: m.Candidate}
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownEvent, m.Kind)
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode and validate a message from its relay wire form.
func Decode(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var env envelope
	if err := dec.Decode(&env); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, errors.New("unexpected trailing data")
	}
	if err := env.validate(); err != nil {
		return Message{}, err
	}

	m := Message{
		Sender:    env.Payload.SenderID,
		Recipient: env.Payload.RecipientID,
	}
	switch env.Event {
	case EventAnnounce:
		m.Kind = KindAnnounce
		// Announcements are always addressed to the whole room
		m.Recipient = ""
	case EventSignal:
		if sdp := env.Payload.Data.SDP; sdp != nil {
			m.Description = sdp
			m.Kind = KindOffer
			if sdp.Type == webrtc.SDPTypeAnswer {
				m.Kind = KindAnswer
			}
		} else {
			m.Candidate = env.Payload.Data.Candidate
			m.Kind = KindCandidate
		}
	}
	return m, nil
}

func (env envelope) validate() error {
	if env.Payload.SenderID.IsZero() {
		return ErrMissingSender
	}

	switch env.Event {
	case EventAnnounce:
		return nil
	case EventSignal:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if env.Payload.RecipientID.IsZero() {
		return ErrMissingRecipient
	}
	data := env.Payload.Data
	if data == nil || (data.SDP == nil) == (data.Candidate == nil) {
		return ErrMalformedSignal
	}
	if data.SDP != nil {
		switch data.SDP.Type {
		case webrtc.SDPTypeOffer, webrtc.SDPTypeAnswer:
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedSDPType, data.SDP.Type)
		}
	}
	return nil
}
