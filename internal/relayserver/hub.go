package relayserver

import (
	"encoding/json"

	"github.com/rs/zerolog"

	sig "github.com/Honorable-Knights-of-the-Roundtable/meshroom/pkg/signalling"
)

type request struct {
	client *Client
	frame  sig.RelayFrame
}

type Stats struct {
	Topics  int `json:"topics"`
	Clients int `json:"clients"`
}

// Hub routes published frames to the subscribers of each topic.
// All topic state is owned by the single goroutine running Run.
type Hub struct {
	logger zerolog.Logger

	// topic -> subscriber -> wants its own publishes back
	topics  map[string]map[*Client]bool
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	requests   chan request
	stats      chan chan Stats

	stop chan struct{}
	done chan struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		topics:     make(map[string]map[*Client]bool),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		requests:   make(chan request),
		stats:      make(chan chan Stats),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run the hub's processing loop until Stop is called.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.logger.Debug().Str("client", client.id).Str("remote", client.remoteAddr()).Msg("client registered")

		case client := <-h.unregister:
			h.drop(client)

		case req := <-h.requests:
			h.handle(req)

		case reply := <-h.stats:
			reply <- Stats{Topics: len(h.topics), Clients: len(h.clients)}

		case <-h.stop:
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	select {
	case <-h.stop:
	default:
		close(h.stop)
	}
	<-h.done
}

// A snapshot of the hub's size. Returns false if the hub has stopped.
func (h *Hub) Stats() (Stats, bool) {
	reply := make(chan Stats, 1)
	select {
	case h.stats <- reply:
		return <-reply, true
	case <-h.done:
		return Stats{}, false
	}
}

func (h *Hub) handle(req request) {
	client, frame := req.client, req.frame
	if _, ok := h.clients[client]; !ok {
		return
	}

	switch frame.Type {
	case sig.FrameSubscribe:
		if frame.Topic == "" {
			client.reportError("subscribe requires a topic")
			return
		}
		subscribers, ok := h.topics[frame.Topic]
		if !ok {
			subscribers = make(map[*Client]bool)
			h.topics[frame.Topic] = subscribers
		}
		subscribers[client] = frame.Self
		client.enqueue(sig.RelayFrame{Type: sig.FrameSubscribed, Topic: frame.Topic})
		h.logger.Debug().Str("client", client.id).Str("topic", frame.Topic).Int("subscribers", len(subscribers)).Msg("subscribed")

	case sig.FrameUnsubscribe:
		h.unsubscribe(client, frame.Topic)

	case sig.FramePublish:
		subscribers, ok := h.topics[frame.Topic]
		if _, subscribed := subscribers[client]; !ok || !subscribed {
			client.reportError("publish to a topic requires a subscription")
			return
		}
		out := sig.RelayFrame{Type: sig.FrameMessage, Topic: frame.Topic, Payload: frame.Payload}
		for subscriber, self := range subscribers {
			if subscriber == client && !self {
				continue
			}
			subscriber.enqueue(out)
		}

	default:
		client.reportError("unexpected frame type " + string(frame.Type))
	}
}

func (h *Hub) unsubscribe(client *Client, topic string) {
	subscribers, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subscribers, client)
	if len(subscribers) == 0 {
		delete(h.topics, topic)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	for topic := range h.topics {
		h.unsubscribe(client, topic)
	}
	delete(h.clients, client)
	close(client.send)
	h.logger.Debug().Str("client", client.id).Msg("client unregistered")
}

func errorPayload(reason string) json.RawMessage {
	data, _ := json.Marshal(reason)
	return data
}
