package app

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/plazalabs/plaza/internal/domain"
)

// SystemUsername is the display name attached to server-originated chat
// and video frames.
const SystemUsername = "Server"

var ErrMalformedFrame = errors.New("malformed frame")

// Message is the closed set of inbound frames. Dispatch is an
// exhaustive switch; anything not in the set decodes to Unknown.
type Message interface{ isMessage() }

type Join struct {
	RoomSlug domain.Slug `json:"roomslug"`
	Username string      `json:"username"`
}

type Leave struct {
	RoomSlug domain.Slug `json:"roomslug"`
	Username string      `json:"username"`
}

type Chat struct {
	RoomSlug domain.Slug     `json:"roomslug"`
	Username string          `json:"username"`
	Content  string          `json:"content"`
	SentTime json.RawMessage `json:"sentTime"`
}

type PlayerMove struct {
	RoomSlug domain.Slug     `json:"roomslug"`
	Username string          `json:"username"`
	Position domain.Position `json:"position"`
}

type PlayerOnStage struct {
	RoomSlug domain.Slug `json:"roomslug"`
	Username string      `json:"username"`
	OnStage  bool        `json:"onStage"`
}

type GameState struct {
	RoomSlug domain.Slug     `json:"roomslug"`
	Username string          `json:"username"`
	GameType string          `json:"gameType"`
	GameData json.RawMessage `json:"gameData"`
}

type TvVideo struct {
	RoomSlug domain.Slug `json:"roomslug"`
	Username string      `json:"username"`
	VideoID  string      `json:"videoId"`
}

// Pong is a pure liveness ack, the router's fast path.
type Pong struct{}

// Unknown keeps unrecognized discriminants forward-compatible: logged
// and ignored, never an error.
type Unknown struct {
	Type string
}

func (Join) isMessage()          {}
func (Leave) isMessage()         {}
func (Chat) isMessage()          {}
func (PlayerMove) isMessage()    {}
func (PlayerOnStage) isMessage() {}
func (GameState) isMessage()     {}
func (TvVideo) isMessage()       {}
func (Pong) isMessage()          {}
func (Unknown) isMessage()       {}

// DecodeFrame parses one inbound frame. A frame that is not a JSON
// object or carries no type discriminant is malformed; the caller logs
// and drops it without closing the connection.
func DecodeFrame(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	decode := func(m Message) (Message, error) {
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, env.Type, err)
		}
		return m, nil
	}

	switch env.Type {
	case "join":
		return decode(&Join{})
	case "leave":
		return decode(&Leave{})
	case "chat":
		return decode(&Chat{})
	case "player_move":
		return decode(&PlayerMove{})
	case "player_on_stage":
		return decode(&PlayerOnStage{})
	case "game_state":
		return decode(&GameState{})
	case "tv_video":
		return decode(&TvVideo{})
	case "pong":
		return Pong{}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// Outbound frames. Constructors set the discriminant so handlers cannot
// ship a frame without one.

type chatOut struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Username string `json:"username"`
	Time     any    `json:"time,omitempty"`
	Sender   string `json:"sender,omitempty"`
}

type playerJoinedOut struct {
	Type     string          `json:"type"`
	Username string          `json:"username"`
	Position domain.Position `json:"position"`
}

type existingPlayersOut struct {
	Type    string                  `json:"type"`
	Players []domain.PlayerSnapshot `json:"players"`
}

type playerLeftOut struct {
	Type     string      `json:"type"`
	Username string      `json:"username"`
	RoomSlug domain.Slug `json:"roomslug"`
}

type leftOut struct {
	Type string `json:"type"`
}

type playerMoveOut struct {
	Type     string          `json:"type"`
	Username string          `json:"username"`
	RoomSlug domain.Slug     `json:"roomslug"`
	Position domain.Position `json:"position"`
}

type playerOnStageOut struct {
	Type     string      `json:"type"`
	Username string      `json:"username"`
	RoomSlug domain.Slug `json:"roomslug"`
	OnStage  bool        `json:"onStage"`
}

type gameStateOut struct {
	Type     string          `json:"type"`
	Username string          `json:"username"`
	RoomSlug domain.Slug     `json:"roomslug"`
	GameType string          `json:"gameType"`
	GameData json.RawMessage `json:"gameData"`
}

type tvVideoOut struct {
	Type     string      `json:"type"`
	Username string      `json:"username"`
	RoomSlug domain.Slug `json:"roomslug,omitempty"`
	VideoID  string      `json:"videoId"`
}

type pingOut struct {
	Type string `json:"type"`
}

func pingFrame() []byte {
	b, _ := json.Marshal(pingOut{Type: "ping"})
	return b
}
