package app

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Relay is the message router and broadcast engine: it decodes each
// inbound frame, applies the per-kind state mutation, computes the
// recipient set, and fans out. All state access goes through State's
// documented operations.
type Relay struct {
	state *State
}

func NewRelay(state *State) *Relay {
	return &Relay{state: state}
}

func (rl *Relay) Register(sender Sender) ConnID {
	return rl.state.Register(sender)
}

// HandleFrame processes one inbound frame from the given connection.
// Malformed frames are logged and dropped; the connection stays open.
func (rl *Relay) HandleFrame(id ConnID, raw []byte) {
	msg, err := DecodeFrame(raw)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Str("conn", string(id)).Msg("dropping frame")
		return
	}

	rl.state.Touch(id)

	if _, isPong := msg.(Pong); !isPong {
		log.Debug().Str("module", "app.relay").Str("conn", string(id)).RawJSON("frame", raw).Msg("frame received")
	}

	switch m := msg.(type) {
	case Pong:
		return
	case *Join:
		rl.handleJoin(id, m)
	case *Leave:
		rl.handleLeave(id, m)
	case *Chat:
		rl.handleChat(id, m)
	case *PlayerMove:
		rl.handleMove(id, m)
	case *PlayerOnStage:
		rl.handleOnStage(id, m)
	case *GameState:
		rl.handleGameState(id, m)
	case *TvVideo:
		rl.handleTvVideo(id, m)
	case Unknown:
		log.Warn().Str("module", "app.relay").Str("type", m.Type).Str("conn", string(id)).Msg("unknown message type")
	}
}

// Teardown removes the connection and notifies every room it was in.
// Safe to call from both the transport close path and the heartbeat
// sweep; the second caller finds nothing to do.
func (rl *Relay) Teardown(id ConnID) {
	res, ok := rl.state.Unregister(id)
	if !ok {
		return
	}
	for _, ev := range res.Evictions {
		rl.broadcast("player_left", ev.Remaining, playerLeftOut{
			Type:     "player_left",
			Username: res.Username,
			RoomSlug: ev.Slug,
		})
	}
}

func (rl *Relay) handleJoin(id ConnID, m *Join) {
	res, ok := rl.state.Join(id, m.RoomSlug, m.Username)
	if !ok {
		return
	}

	notice := chatOut{
		Type:     "chat",
		Content:  fmt.Sprintf("%s joined %s", m.Username, m.RoomSlug),
		Username: SystemUsername,
	}
	joined := playerJoinedOut{
		Type:     "player_joined",
		Username: m.Username,
		Position: res.Position,
	}
	for _, r := range res.Others {
		rl.sendTo("chat", r, notice)
		rl.sendTo("player_joined", r, joined)
	}

	rl.sendTo("existing_players", res.Joiner, existingPlayersOut{
		Type:    "existing_players",
		Players: res.Existing,
	})

	if res.VideoID != "" {
		rl.sendTo("tv_video", res.Joiner, tvVideoOut{
			Type:     "tv_video",
			Username: SystemUsername,
			VideoID:  res.VideoID,
		})
	}
}

func (rl *Relay) handleLeave(id ConnID, m *Leave) {
	res, ok := rl.state.Leave(id, m.RoomSlug)
	if !ok {
		return
	}
	if res.WasMember {
		rl.broadcast("player_left", res.Remaining, playerLeftOut{
			Type:     "player_left",
			Username: m.Username,
			RoomSlug: m.RoomSlug,
		})
	}
	// The ack belongs to the explicit-leave path only; eviction and
	// abrupt disconnect have nobody left to ack to.
	rl.sendTo("left", res.Self, leftOut{Type: "left"})
}

func (rl *Relay) handleChat(id ConnID, m *Chat) {
	var sentTime any
	if len(m.SentTime) > 0 {
		sentTime = m.SentTime
	} else {
		sentTime = time.Now().UTC()
	}
	rl.broadcast("chat", rl.state.MembersExcept(m.RoomSlug, id), chatOut{
		Type:     "chat",
		Content:  m.Content,
		Username: m.Username,
		Time:     sentTime,
		Sender:   m.Username,
	})
}

func (rl *Relay) handleMove(id ConnID, m *PlayerMove) {
	rl.state.CachePosition(id, m.Position)
	rl.broadcast("player_move", rl.state.MembersExcept(m.RoomSlug, id), playerMoveOut{
		Type:     "player_move",
		Username: m.Username,
		RoomSlug: m.RoomSlug,
		Position: m.Position,
	})
}

func (rl *Relay) handleOnStage(id ConnID, m *PlayerOnStage) {
	rl.state.CacheOnStage(id, m.OnStage)
	rl.broadcast("player_on_stage", rl.state.MembersExcept(m.RoomSlug, id), playerOnStageOut{
		Type:     "player_on_stage",
		Username: m.Username,
		RoomSlug: m.RoomSlug,
		OnStage:  m.OnStage,
	})
}

func (rl *Relay) handleGameState(id ConnID, m *GameState) {
	rl.broadcast("game_state", rl.state.OnStageExcept(m.RoomSlug, id), gameStateOut{
		Type:     "game_state",
		Username: m.Username,
		RoomSlug: m.RoomSlug,
		GameType: m.GameType,
		GameData: m.GameData,
	})
}

func (rl *Relay) handleTvVideo(id ConnID, m *TvVideo) {
	rl.state.SetVideo(m.RoomSlug, m.VideoID)
	// Echo kind: the sender is in the recipient set, as confirmation.
	rl.broadcast("tv_video", rl.state.Members(m.RoomSlug), tvVideoOut{
		Type:     "tv_video",
		Username: m.Username,
		RoomSlug: m.RoomSlug,
		VideoID:  m.VideoID,
	})
}
