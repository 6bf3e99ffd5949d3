package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plazalabs/plaza/internal/domain"
)

func TestJoinUnknownConnection(t *testing.T) {
	st := NewState()
	_, ok := st.Join("nope", "r1", "ghost")
	assert.False(t, ok)
}

func TestJoinSecondTimeIsNoOp(t *testing.T) {
	st := NewState()
	id := st.Register(newFakeSender())

	_, ok := st.Join(id, "r1", "alice")
	require.True(t, ok)
	_, ok = st.Join(id, "r1", "alice")
	assert.False(t, ok)
	assert.Len(t, st.Members("r1"), 1)
}

func TestJoinReportsRoomStateBeforeAttach(t *testing.T) {
	st := NewState()
	aliceID := st.Register(newFakeSender())
	_, ok := st.Join(aliceID, "r1", "alice")
	require.True(t, ok)
	st.CacheOnStage(aliceID, true)
	st.SetVideo("r1", "vid-9")

	bobID := st.Register(newFakeSender())
	res, ok := st.Join(bobID, "r1", "bob")
	require.True(t, ok)

	require.Len(t, res.Others, 1)
	assert.Equal(t, aliceID, res.Others[0].ID)
	require.Len(t, res.Existing, 1)
	assert.Equal(t, "alice", res.Existing[0].Username)
	assert.True(t, res.Existing[0].OnStage)
	assert.Equal(t, "vid-9", res.VideoID)
	assert.Equal(t, domain.Position{}, res.Position)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	st := NewState()
	id := st.Register(newFakeSender())
	_, ok := st.Join(id, "r1", "alice")
	require.True(t, ok)

	res, ok := st.Unregister(id)
	require.True(t, ok)
	require.Len(t, res.Evictions, 1)
	assert.Equal(t, domain.Slug("r1"), res.Evictions[0].Slug)
	assert.Equal(t, 0, res.Total)

	_, ok = st.Unregister(id)
	assert.False(t, ok)
}

func TestUnregisterCascadesEveryMembership(t *testing.T) {
	st := NewState()
	watcher := newFakeSender()
	watcherID := st.Register(watcher)
	_, ok := st.Join(watcherID, "r1", "watcher")
	require.True(t, ok)
	_, ok = st.Join(watcherID, "r2", "watcher")
	require.True(t, ok)

	id := st.Register(newFakeSender())
	for _, slug := range []domain.Slug{"r1", "r2"} {
		_, ok := st.Join(id, slug, "bob")
		require.True(t, ok)
	}

	res, ok := st.Unregister(id)
	require.True(t, ok)
	require.Len(t, res.Evictions, 2)
	for _, ev := range res.Evictions {
		require.Len(t, ev.Remaining, 1, ev.Slug)
		assert.Equal(t, watcherID, ev.Remaining[0].ID)
	}
}

func TestVideoPointerOutlivesMembership(t *testing.T) {
	st := NewState()
	id := st.Register(newFakeSender())
	_, ok := st.Join(id, "r1", "alice")
	require.True(t, ok)
	st.SetVideo("r1", "abc123")

	_, ok = st.Leave(id, "r1")
	require.True(t, ok)
	assert.Empty(t, st.Members("r1"))

	vid, ok := st.VideoOf("r1")
	require.True(t, ok)
	assert.Equal(t, "abc123", vid)
}

func TestSetVideoCreatesRoomRecord(t *testing.T) {
	st := NewState()
	st.SetVideo("empty-room", "xyz")
	vid, ok := st.VideoOf("empty-room")
	require.True(t, ok)
	assert.Equal(t, "xyz", vid)
}

func TestIdleSinceUsesLastInboundFrame(t *testing.T) {
	st := NewState()
	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	now := base
	st.now = func() time.Time { return now }

	quiet := st.Register(newFakeSender())
	chatty := st.Register(newFakeSender())

	now = base.Add(45 * time.Second)
	st.Touch(chatty)

	idle := st.IdleSince(base.Add(70 * time.Second).Add(-60 * time.Second))
	require.Len(t, idle, 1)
	assert.Equal(t, quiet, idle[0])
}
