/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
)

// Inbound event names
const (
	eventJoinRoom   = "joinRoom"
	eventStartGame  = "startGame"
	eventPageChange = "pageChange"
)

// inboundEvent is one of JoinRoom, StartGame or PageChange.
type inboundEvent interface {
	room() string
}

type JoinRoom struct {
	RoomID   string
	Username string
}

type StartGame struct {
	RoomID string
	Start  string
	Target string
}

type PageChange struct {
	RoomID string
	Title  string
}

func (e JoinRoom) room() string   { return e.RoomID }
func (e StartGame) room() string  { return e.RoomID }
func (e PageChange) room() string { return e.RoomID }

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// decodeEvent parses a client frame. Frames that are not valid JSON, name an
// unknown event, or lack a required field are reported as !ok and dropped.
func decodeEvent(frame []byte) (inboundEvent, bool) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil || len(env.Data) == 0 {
		return nil, false
	}

	switch env.Event {
	case eventJoinRoom:
		var p struct {
			RoomID   *string `json:"roomId"`
			Username *string `json:"username"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil || !present(p.RoomID) {
			return nil, false
		}
		ev := JoinRoom{RoomID: *p.RoomID}
		if p.Username != nil {
			ev.Username = *p.Username
		}
		return ev, true

	case eventStartGame:
		var p struct {
			RoomID *string `json:"roomId"`
			Start  *string `json:"start"`
			Target *string `json:"target"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil || !present(p.RoomID) || p.Start == nil || p.Target == nil {
			return nil, false
		}
		return StartGame{RoomID: *p.RoomID, Start: *p.Start, Target: *p.Target}, true

	case eventPageChange:
		var p struct {
			RoomID *string `json:"roomId"`
			Title  *string `json:"title"`
		}
		if err := json.Unmarshal(env.Data, &p); err != nil || !present(p.RoomID) || p.Title == nil {
			return nil, false
		}
		return PageChange{RoomID: *p.RoomID, Title: *p.Title}, true
	}

	return nil, false
}

func present(s *string) bool {
	return s != nil && *s != ""
}
