package app

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/plazalabs/plaza/internal/domain"
)

// State owns the connection registry and the room index. Both live
// behind one coarse mutex: every handler and the heartbeat sweep race
// through here, and a single lock keeps teardown impossible to
// interleave with a half-applied join. Room membership is a double
// index (session.rooms and room.members) maintained incrementally.
type State struct {
	mu    sync.Mutex
	conns map[ConnID]*session
	rooms map[domain.Slug]*room

	now func() time.Time
}

// room records are created lazily on first join or first video set and
// never destroyed; the video pointer outlives the membership.
type room struct {
	members map[ConnID]struct{}
	videoID string
}

func NewState() *State {
	return &State{
		conns: make(map[ConnID]*session),
		rooms: make(map[domain.Slug]*room),
		now:   time.Now,
	}
}

// Register allocates session state for a freshly accepted transport.
func (st *State) Register(sender Sender) ConnID {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := newSession(sender, st.now())
	st.conns[s.id] = s
	log.Info().Str("module", "app.state").Str("conn", string(s.id)).Int("total", len(st.conns)).Msg("connection registered")
	return s.id
}

// Touch resets the liveness clock. Called for every well-formed inbound
// frame, pong included.
func (st *State) Touch(id ConnID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.conns[id]; ok {
		s.lastSeen = st.now()
	}
}

type JoinResult struct {
	// Others are the members that were already in the room.
	Others []Recipient
	// Existing is what the joiner is told about Others.
	Existing []domain.PlayerSnapshot
	// VideoID is the room's current video pointer, empty if unset.
	VideoID string
	Joiner   Recipient
	Position domain.Position
}

// Join attaches id to slug and records the display name. Joining a room
// the connection is already in is an idempotent no-op: ok is false and
// nothing may be broadcast.
func (st *State) Join(id ConnID, slug domain.Slug, username string) (JoinResult, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.conns[id]
	if !ok {
		return JoinResult{}, false
	}
	if _, member := s.rooms[slug]; member {
		log.Debug().Str("module", "app.state").Str("conn", string(id)).Str("room", string(slug)).Msg("already in room")
		return JoinResult{}, false
	}

	s.rooms[slug] = struct{}{}
	s.username = username

	r := st.roomLocked(slug)
	res := JoinResult{
		Others:   st.membersLocked(r, id, false),
		VideoID:  r.videoID,
		Joiner:   Recipient{ID: id, Username: username, Sender: s.sender},
		Position: s.positionOrZero(),
	}
	res.Existing = make([]domain.PlayerSnapshot, 0, len(r.members))
	for cid := range r.members {
		other := st.conns[cid]
		res.Existing = append(res.Existing, other.snapshot())
	}
	r.members[id] = struct{}{}

	log.Info().Str("module", "app.state").Str("conn", string(id)).Str("user", username).Str("room", string(slug)).Int("members", len(r.members)).Msg("joined room")
	return res, true
}

type LeaveResult struct {
	// WasMember is false for a leave of a room the connection was not
	// in; Remaining is empty in that case.
	WasMember bool
	Remaining []Recipient
	Self      Recipient
}

func (st *State) Leave(id ConnID, slug domain.Slug) (LeaveResult, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.conns[id]
	if !ok {
		return LeaveResult{}, false
	}
	res := LeaveResult{Self: Recipient{ID: id, Username: s.username, Sender: s.sender}}
	if _, member := s.rooms[slug]; !member {
		return res, true
	}
	res.WasMember = true

	delete(s.rooms, slug)
	if r, exists := st.rooms[slug]; exists {
		delete(r.members, id)
		res.Remaining = st.membersLocked(r, id, false)
	}
	log.Info().Str("module", "app.state").Str("conn", string(id)).Str("user", s.username).Str("room", string(slug)).Msg("left room")
	return res, true
}

// SetVideo unconditionally overwrites the room's video pointer,
// creating the room record if nobody joined it yet.
func (st *State) SetVideo(slug domain.Slug, videoID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.roomLocked(slug).videoID = videoID
}

// VideoOf reports the room's current video pointer.
func (st *State) VideoOf(slug domain.Slug) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.rooms[slug]
	if !ok || r.videoID == "" {
		return "", false
	}
	return r.videoID, true
}

// Members returns every member of slug, the sender included if it is
// one. The echo set for tv_video.
func (st *State) Members(slug domain.Slug) []Recipient {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.rooms[slug]
	if !ok {
		return nil
	}
	return st.membersLocked(r, "", false)
}

func (st *State) MembersExcept(slug domain.Slug, except ConnID) []Recipient {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.rooms[slug]
	if !ok {
		return nil
	}
	return st.membersLocked(r, except, false)
}

// OnStageExcept gates game_state fan-out: only members whose cached
// on-stage flag is true, never the sender.
func (st *State) OnStageExcept(slug domain.Slug, except ConnID) []Recipient {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.rooms[slug]
	if !ok {
		return nil
	}
	return st.membersLocked(r, except, true)
}

// CachePosition records the latest position a client asserted about
// itself. Advisory only.
func (st *State) CachePosition(id ConnID, pos domain.Position) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.conns[id]; ok {
		p := pos
		s.position = &p
	}
}

func (st *State) CacheOnStage(id ConnID, onStage bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.conns[id]; ok {
		s.onStage = onStage
	}
}

type Eviction struct {
	Slug      domain.Slug
	Remaining []Recipient
}

type UnregisterResult struct {
	Username  string
	Evictions []Eviction
	Total     int
}

// Unregister removes the connection and detaches it from every room it
// belonged to, one Eviction per membership. Idempotent: the second call
// for an id (close path racing the heartbeat sweep) returns ok false
// and must not re-broadcast.
func (st *State) Unregister(id ConnID) (UnregisterResult, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.conns[id]
	if !ok {
		return UnregisterResult{}, false
	}
	delete(st.conns, id)

	res := UnregisterResult{Username: s.username}
	slugs := make([]domain.Slug, 0, len(s.rooms))
	for slug := range s.rooms {
		slugs = append(slugs, slug)
	}
	sort.Slice(slugs, func(i, j int) bool { return slugs[i] < slugs[j] })
	for _, slug := range slugs {
		r, exists := st.rooms[slug]
		if !exists {
			continue
		}
		delete(r.members, id)
		res.Evictions = append(res.Evictions, Eviction{Slug: slug, Remaining: st.membersLocked(r, id, false)})
	}
	res.Total = len(st.conns)
	log.Info().Str("module", "app.state").Str("conn", string(id)).Str("user", s.username).Int("total", res.Total).Msg("connection removed")
	return res, true
}

// Connections returns every live connection, for the server ping.
func (st *State) Connections() []Recipient {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Recipient, 0, len(st.conns))
	for _, s := range st.conns {
		out = append(out, Recipient{ID: s.id, Username: s.username, Sender: s.sender})
	}
	return out
}

// IdleSince returns the connections whose last inbound frame is older
// than cutoff.
func (st *State) IdleSince(cutoff time.Time) []ConnID {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []ConnID
	for id, s := range st.conns {
		if s.lastSeen.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Rooms returns the slugs the connection currently belongs to.
func (st *State) Rooms(id ConnID) []domain.Slug {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.conns[id]
	if !ok {
		return nil
	}
	out := make([]domain.Slug, 0, len(s.rooms))
	for slug := range s.rooms {
		out = append(out, slug)
	}
	return out
}

func (st *State) roomLocked(slug domain.Slug) *room {
	r, ok := st.rooms[slug]
	if !ok {
		r = &room{members: make(map[ConnID]struct{})}
		st.rooms[slug] = r
	}
	return r
}

func (st *State) membersLocked(r *room, except ConnID, onStageOnly bool) []Recipient {
	out := make([]Recipient, 0, len(r.members))
	for cid := range r.members {
		if cid == except {
			continue
		}
		s, ok := st.conns[cid]
		if !ok {
			continue
		}
		if onStageOnly && !s.onStage {
			continue
		}
		out = append(out, Recipient{ID: cid, Username: s.username, Sender: s.sender})
	}
	return out
}
