/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Outbound event names
const (
	eventSession     = "session"
	eventRoomUpdate  = "roomUpdate"
	eventGameStarted = "gameStarted"
	eventPlayerWon   = "playerWon"
)

// Message is a single outbound event, as written to every client in a room.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// RoomSnapshot is the full room state sent with roomUpdate.
type RoomSnapshot struct {
	Players map[string]PlayerSnapshot `json:"players"`
	Start   *string                   `json:"start"`
	Target  *string                   `json:"target"`
}

type PlayerSnapshot struct {
	Username string   `json:"username"`
	Current  *string  `json:"current"`
	Path     []string `json:"path"`
}

type GameStartedMessage struct {
	Start  string `json:"start"`
	Target string `json:"target"`
}

type PlayerWonMessage struct {
	Username string `json:"username"`
}

// SessionMessage tells a freshly connected client which player key is its own.
type SessionMessage struct {
	SessionID string `json:"sessionId"`
}

// Broadcaster delivers a message to every session subscribed to a room.
type Broadcaster interface {
	Broadcast(roomID string, msg Message)
}

type RoomState int

const (
	StateWaiting RoomState = iota
	StateStarted
	StateWon
)

func (s RoomState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateStarted:
		return "started"
	case StateWon:
		return "won"
	default:
		return "unknown"
	}
}

type Player struct {
	Username string
	Current  *string
	Path     []string
}

type Room struct {
	ID      string
	Players map[string]*Player
	Start   *string
	Target  *string

	lastActive time.Time
}

func newRoom(id string, now time.Time) *Room {
	return &Room{
		ID:         id,
		Players:    make(map[string]*Player),
		lastActive: now,
	}
}

// matchesTarget compares case-insensitively, without any whitespace normalization.
func (r *Room) matchesTarget(title string) bool {
	return r.Target != nil && strings.ToLower(title) == strings.ToLower(*r.Target)
}

func (r *Room) State() RoomState {
	if r.Start == nil || r.Target == nil {
		return StateWaiting
	}
	for _, p := range r.Players {
		if p.Current != nil && r.matchesTarget(*p.Current) {
			return StateWon
		}
	}
	return StateStarted
}

func (r *Room) snapshot() RoomSnapshot {
	players := make(map[string]PlayerSnapshot, len(r.Players))
	for id, p := range r.Players {
		players[id] = PlayerSnapshot{
			Username: p.Username,
			Current:  cloneString(p.Current),
			Path:     append(make([]string, 0, len(p.Path)), p.Path...),
		}
	}

	return RoomSnapshot{
		Players: players,
		Start:   cloneString(r.Start),
		Target:  cloneString(r.Target),
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Registry holds every room for the lifetime of the process. It is not safe
// for concurrent use; the hub's event loop is its only caller.
type Registry struct {
	rooms map[string]*Room
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		now:   time.Now,
	}
}

func (reg *Registry) GetOrCreate(roomID string) *Room {
	if room, ok := reg.rooms[roomID]; ok {
		return room
	}

	room := newRoom(roomID, reg.now())
	reg.rooms[roomID] = room

	log.Debug().Str("component", "GAMES").Str("room", roomID).Msg("created room")

	return room
}

func (reg *Registry) Get(roomID string) (*Room, bool) {
	room, ok := reg.rooms[roomID]
	return room, ok
}

// Each visits rooms in room id order.
func (reg *Registry) Each(fn func(*Room)) {
	for _, id := range slices.Sorted(maps.Keys(reg.rooms)) {
		fn(reg.rooms[id])
	}
}

func (reg *Registry) Len() int {
	return len(reg.rooms)
}

// Reap removes rooms that have no players and have not changed since cutoff,
// returning their ids.
func (reg *Registry) Reap(cutoff time.Time) []string {
	var reaped []string
	for id, room := range reg.rooms {
		if len(room.Players) == 0 && room.lastActive.Before(cutoff) {
			delete(reg.rooms, id)
			reaped = append(reaped, id)
		}
	}
	slices.Sort(reaped)

	return reaped
}

func (reg *Registry) touch(room *Room) {
	room.lastActive = reg.now()
}

// Race applies player actions to rooms and announces the results.
// References to unknown rooms or sessions are ignored.
type Race struct {
	rooms *Registry
	out   Broadcaster
}

func NewRace(rooms *Registry, out Broadcaster) *Race {
	return &Race{
		rooms: rooms,
		out:   out,
	}
}

// AddPlayer puts sessionID into roomID with a blank path, replacing any
// earlier entry for the same session.
func (g *Race) AddPlayer(roomID, sessionID, username string) {
	room := g.rooms.GetOrCreate(roomID)

	room.Players[sessionID] = &Player{
		Username: username,
		Path:     []string{},
	}
	g.rooms.touch(room)

	log.Debug().Str("component", "GAMES").Str("room", roomID).Str("username", username).Msg("player joined")

	g.broadcastRoom(room)
}

// StartGame sets the start and target articles. It may be called again at any
// point to restart the race with new articles.
func (g *Race) StartGame(roomID, start, target string) {
	room, ok := g.rooms.Get(roomID)
	if !ok {
		return
	}

	room.Start = &start
	room.Target = &target
	g.rooms.touch(room)

	log.Debug().Str("component", "GAMES").Str("room", roomID).Str("start", start).Str("target", target).Stringer("state", room.State()).Msg("game started")

	g.out.Broadcast(roomID, Message{
		Event: eventGameStarted,
		Data:  GameStartedMessage{Start: start, Target: target},
	})
}

// RecordNavigation moves a player to title. Reaching the target announces a
// winner instead of the usual room update; the race keeps going either way.
func (g *Race) RecordNavigation(roomID, sessionID, title string) {
	room, ok := g.rooms.Get(roomID)
	if !ok {
		return
	}
	player, ok := room.Players[sessionID]
	if !ok {
		return
	}

	player.Current = &title
	player.Path = append(player.Path, title)
	g.rooms.touch(room)

	if room.matchesTarget(title) {
		log.Debug().Str("component", "GAMES").Str("room", roomID).Str("username", player.Username).Int("steps", len(player.Path)).Msg("player won")

		g.out.Broadcast(roomID, Message{
			Event: eventPlayerWon,
			Data:  PlayerWonMessage{Username: player.Username},
		})

		return
	}

	log.Debug().Str("component", "GAMES").Str("room", roomID).Str("title", title).Stringer("state", room.State()).Msg("player moved")

	g.broadcastRoom(room)
}

// RemoveSession drops sessionID from every room and sends every room a
// fresh snapshot, including rooms the session never joined.
func (g *Race) RemoveSession(sessionID string) {
	g.rooms.Each(func(room *Room) {
		if _, ok := room.Players[sessionID]; ok {
			delete(room.Players, sessionID)
			g.rooms.touch(room)
		}

		g.broadcastRoom(room)
	})
}

func (g *Race) Snapshot(roomID string) (RoomSnapshot, bool) {
	room, ok := g.rooms.Get(roomID)
	if !ok {
		return RoomSnapshot{}, false
	}

	return room.snapshot(), true
}

func (g *Race) broadcastRoom(room *Room) {
	g.out.Broadcast(room.ID, Message{
		Event: eventRoomUpdate,
		Data:  room.snapshot(),
	})
}
