package signalling

import "encoding/json"

// Frames exchanged with the websocket relay. The relay is a plain topic based
// publish/subscribe service: it never looks inside a message payload.
type RelayFrameType string

const (
	// client -> relay: join a topic. Self asks for the client's own publishes back.
	FrameSubscribe RelayFrameType = "subscribe"
	// relay -> client: the subscription to Topic is live.
	FrameSubscribed RelayFrameType = "subscribed"
	// client -> relay: send Payload to every subscriber of Topic.
	FramePublish RelayFrameType = "publish"
	// relay -> client: a payload published to Topic.
	FrameMessage RelayFrameType = "message"
	// client -> relay: leave a topic.
	FrameUnsubscribe RelayFrameType = "unsubscribe"
	// relay -> client: a request was rejected. Payload is a JSON string.
	FrameError RelayFrameType = "error"
)

type RelayFrame struct {
	Type    RelayFrameType  `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Self    bool            `json:"self,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// The relay topic carrying the signaling of a room.
func RoomTopic(room string) string {
	return "room:" + room
}
