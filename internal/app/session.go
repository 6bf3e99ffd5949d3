package app

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/plazalabs/plaza/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type ConnID string

// Sender is the write side of one live transport. Sends never block:
// a full queue or a closed peer is an error the caller logs and moves
// past, it must not stall a fan-out.
type Sender interface {
	TrySend(data []byte) error
	Writable() bool
}

// session is one live connection and everything the relay caches about
// it. Owned exclusively by State; rooms hold the id, never the struct.
type session struct {
	id       ConnID
	sender   Sender
	username string
	rooms    map[domain.Slug]struct{}
	position *domain.Position
	onStage  bool
	lastSeen time.Time
}

func newSession(sender Sender, now time.Time) *session {
	return &session{
		id:       ConnID(uuid.NewString()),
		sender:   sender,
		rooms:    make(map[domain.Slug]struct{}),
		lastSeen: now,
	}
}

// snapshot defaults an unset position to the origin, matching what
// joiners are told about players that never moved.
func (s *session) snapshot() domain.PlayerSnapshot {
	return domain.PlayerSnapshot{
		Username: s.username,
		Position: s.positionOrZero(),
		OnStage:  s.onStage,
	}
}

func (s *session) positionOrZero() domain.Position {
	if s.position != nil {
		return *s.position
	}
	return domain.Position{}
}

// Recipient is one fan-out target resolved under the State lock.
type Recipient struct {
	ID       ConnID
	Username string
	Sender   Sender
}
