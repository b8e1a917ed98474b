/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
	sweepFloor     = 500 * time.Millisecond
)

type Client struct {
	conn      *websocket.Conn
	send      chan *websocket.PreparedMessage
	sessionID string

	// rooms is only touched by the hub's event loop.
	rooms map[string]struct{}
}

type inboundRequest struct {
	client *Client
	event  inboundEvent
}

// Hub serializes every room mutation through run, so the registry and race
// state never need locks. It also tracks which clients listen to which room.
type Hub struct {
	race  *Race
	rooms *Registry

	clients map[*Client]bool
	groups  map[string]map[*Client]struct{}

	register chan *Client
	unreg    chan *Client
	inbound  chan inboundRequest
	done     chan struct{}

	roomTimeout time.Duration
}

func newHub(roomTimeout time.Duration) *Hub {
	h := &Hub{
		rooms:       NewRegistry(),
		clients:     make(map[*Client]bool),
		groups:      make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unreg:       make(chan *Client),
		inbound:     make(chan inboundRequest),
		done:        make(chan struct{}),
		roomTimeout: roomTimeout,
	}
	h.race = NewRace(h.rooms, h)

	return h
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)

	var sweep <-chan time.Time
	if h.roomTimeout > 0 {
		ticker := time.NewTicker(max(h.roomTimeout/2, sweepFloor))
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.sendTo(c, Message{
				Event: eventSession,
				Data:  SessionMessage{SessionID: c.sessionID},
			})

			log.Debug().Str("component", "GAMES").Str("session", c.sessionID).Msg("client connected")

		case c := <-h.unreg:
			h.drop(c)
			h.race.RemoveSession(c.sessionID)

			log.Debug().Str("component", "GAMES").Str("session", c.sessionID).Msg("client disconnected")

		case req := <-h.inbound:
			h.dispatch(req)

		case <-sweep:
			h.reap()
		}
	}
}

func (h *Hub) dispatch(req inboundRequest) {
	c := req.client
	if !h.clients[c] {
		return
	}

	log.Debug().Str("component", "GAMES").Str("session", c.sessionID).Str("room", req.event.room()).Type("event", req.event).Msg("received event")

	switch ev := req.event.(type) {
	case JoinRoom:
		h.subscribe(c, ev.RoomID)
		h.race.AddPlayer(ev.RoomID, c.sessionID, ev.Username)
	case StartGame:
		h.race.StartGame(ev.RoomID, ev.Start, ev.Target)
	case PageChange:
		h.race.RecordNavigation(ev.RoomID, c.sessionID, ev.Title)
	}
}

func (h *Hub) subscribe(c *Client, roomID string) {
	members, ok := h.groups[roomID]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[roomID] = members
	}
	members[c] = struct{}{}
	c.rooms[roomID] = struct{}{}
}

// Broadcast encodes msg once and queues it for every client subscribed to
// roomID. Clients that cannot keep up are disconnected.
func (h *Hub) Broadcast(roomID string, msg Message) {
	members := h.groups[roomID]
	if len(members) == 0 {
		return
	}

	pm, err := prepare(msg)
	if err != nil {
		log.Error().Str("component", "ERROR").Str("room", roomID).Err(err).Msg("encode broadcast")
		return
	}

	for c := range members {
		select {
		case c.send <- pm:
		default:
			h.drop(c)
		}
	}
}

func (h *Hub) sendTo(c *Client, msg Message) {
	pm, err := prepare(msg)
	if err != nil {
		log.Error().Str("component", "ERROR").Str("session", c.sessionID).Err(err).Msg("encode message")
		return
	}

	select {
	case c.send <- pm:
	default:
		h.drop(c)
	}
}

// drop forgets c and closes its send channel, which makes its write pump hang
// up. The session's players are removed once its read pump reports back.
func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}

	delete(h.clients, c)
	for roomID := range c.rooms {
		members := h.groups[roomID]
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, roomID)
		}
	}
	close(c.send)
}

func (h *Hub) reap() {
	cutoff := time.Now().Add(-h.roomTimeout)

	for _, roomID := range h.rooms.Reap(cutoff) {
		for c := range h.groups[roomID] {
			delete(c.rooms, roomID)
		}
		delete(h.groups, roomID)

		log.Debug().Str("component", "GAMES").Str("room", roomID).Int("rooms", h.rooms.Len()).Msg("reaped idle room")
	}
}

func prepare(msg Message) (*websocket.PreparedMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	return websocket.NewPreparedMessage(websocket.TextMessage, data)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWS(h *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Str("component", "SERVE").Str("remote", realIP(r)).Err(err).Msg("websocket upgrade failed")
			return
		}

		c := &Client{
			conn:      conn,
			send:      make(chan *websocket.PreparedMessage, sendBuffer),
			sessionID: uuid.NewString(),
			rooms:     make(map[string]struct{}),
		}

		select {
		case h.register <- c:
		case <-h.done:
			_ = conn.Close()
			return
		}

		go c.writePump()
		c.readPump(h)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		ev, ok := decodeEvent(frame)
		if !ok {
			log.Debug().Str("component", "GAMES").Str("session", c.sessionID).Msg("ignored malformed event")
			continue
		}

		select {
		case h.inbound <- inboundRequest{client: c, event: ev}:
		case <-h.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case pm, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WritePreparedMessage(pm); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
