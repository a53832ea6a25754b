package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peergrid/confab/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	code   int
	reject bool
}

func (f *fakeConn) TrySend(fr Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return errors.New("backpressure")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close(code int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
}

func (f *fakeConn) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func principal(id string) domain.Principal {
	return domain.Principal{ID: domain.ParticipantID(id), Role: domain.RoleUser, DisplayName: id}
}

func TestRegistry_RoundTrip(t *testing.T) {
	reg := NewRegistry()
	mid := domain.MeetingID("m1")

	reg.RegisterAdmitted(mid, principal("alice"), &fakeConn{})

	snap := reg.Snapshot(mid)
	require.Len(t, snap.Admitted, 1)
	assert.Equal(t, domain.ParticipantID("alice"), snap.Admitted[0].ID)
	assert.Empty(t, snap.Lobby)

	assert.True(t, reg.Remove(mid, "alice"))

	snap = reg.Snapshot(mid)
	assert.Empty(t, snap.Admitted)
	assert.Empty(t, snap.Lobby)
}

func TestRegistry_RemoveAbsentIsNoop(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Remove("m1", "ghost"))

	reg.RegisterLobby("m1", principal("bob"), &fakeConn{})
	assert.False(t, reg.Remove("m1", "ghost"))
	assert.True(t, reg.Remove("m1", "bob"))
	assert.False(t, reg.Remove("m1", "bob"))
}

func TestRegistry_ParticipantInAtMostOneSet(t *testing.T) {
	reg := NewRegistry()
	mid := domain.MeetingID("m1")

	reg.RegisterLobby(mid, principal("alice"), &fakeConn{})
	reg.RegisterAdmitted(mid, principal("alice"), &fakeConn{})

	snap := reg.Snapshot(mid)
	assert.Empty(t, snap.Lobby)
	require.Len(t, snap.Admitted, 1)

	reg.RegisterLobby(mid, principal("alice"), &fakeConn{})
	snap = reg.Snapshot(mid)
	require.Len(t, snap.Lobby, 1)
	assert.Empty(t, snap.Admitted)
}

func TestRegistry_ReconnectEvictsOldConnection(t *testing.T) {
	reg := NewRegistry()
	mid := domain.MeetingID("m1")
	old := &fakeConn{}
	fresh := &fakeConn{}

	require.Nil(t, reg.RegisterAdmitted(mid, principal("alice"), old))
	evicted := reg.RegisterAdmitted(mid, principal("alice"), fresh)
	require.NotNil(t, evicted)
	assert.Same(t, SignalConn(old), evicted)

	snap := reg.Snapshot(mid)
	require.Len(t, snap.Admitted, 1)

	// The stale pump's teardown must not remove the new registration.
	assert.False(t, reg.RemoveConn(mid, "alice", old))
	lobby, admitted := reg.Counts(mid)
	assert.Equal(t, 0, lobby)
	assert.Equal(t, 1, admitted)

	assert.True(t, reg.RemoveConn(mid, "alice", fresh))
}

func TestRegistry_Promote(t *testing.T) {
	reg := NewRegistry()
	mid := domain.MeetingID("m1")
	conn := &fakeConn{}

	_, ok := reg.Promote(mid, "alice")
	assert.False(t, ok, "promote before any join must fail")

	reg.RegisterLobby(mid, principal("alice"), conn)
	e, ok := reg.Promote(mid, "alice")
	require.True(t, ok)
	assert.Same(t, SignalConn(conn), e.Conn)

	snap := reg.Snapshot(mid)
	assert.Empty(t, snap.Lobby)
	require.Len(t, snap.Admitted, 1)

	// Idempotent under repetition: already admitted means no-op.
	_, ok = reg.Promote(mid, "alice")
	assert.False(t, ok)
	snap = reg.Snapshot(mid)
	require.Len(t, snap.Admitted, 1)
}

func TestRegistry_SetLockCreatesRoom(t *testing.T) {
	reg := NewRegistry()

	assert.False(t, reg.Locked("m1"))
	assert.True(t, reg.SetLock("m1", true))
	assert.True(t, reg.Locked("m1"))

	snap := reg.Snapshot("m1")
	assert.True(t, snap.Locked)
	assert.Empty(t, snap.Lobby)
	assert.Empty(t, snap.Admitted)

	assert.False(t, reg.SetLock("m1", false))
}

func TestRegistry_BroadcastExcludesSenderAndOtherMeetings(t *testing.T) {
	reg := NewRegistry()
	a, b, other := &fakeConn{}, &fakeConn{}, &fakeConn{}

	reg.RegisterAdmitted("m1", principal("a"), a)
	reg.RegisterAdmitted("m1", principal("b"), b)
	reg.RegisterAdmitted("m2", principal("c"), other)

	res, ok := reg.Broadcast("m1", "a", a, Frame(`{"type":"offer","sdp":"..."}`))
	require.True(t, ok)
	assert.Equal(t, 1, res.SentTo)
	assert.Equal(t, 0, res.Dropped)

	assert.Equal(t, 0, a.sent(), "sender must not receive its own payload")
	assert.Equal(t, 1, b.sent())
	assert.Equal(t, 0, other.sent(), "other meetings must not receive the payload")
}

func TestRegistry_BroadcastSkipsUnwritablePeers(t *testing.T) {
	reg := NewRegistry()
	a, b, slow := &fakeConn{}, &fakeConn{}, &fakeConn{reject: true}

	reg.RegisterAdmitted("m1", principal("a"), a)
	reg.RegisterAdmitted("m1", principal("b"), b)
	reg.RegisterAdmitted("m1", principal("slow"), slow)

	res, ok := reg.Broadcast("m1", "a", a, Frame("payload"))
	require.True(t, ok)
	assert.Equal(t, 1, res.SentTo)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, b.sent())
}

func TestRegistry_BroadcastFromNonAdmittedIsDropped(t *testing.T) {
	reg := NewRegistry()
	waiting, b := &fakeConn{}, &fakeConn{}

	reg.RegisterLobby("m1", principal("waiting"), waiting)
	reg.RegisterAdmitted("m1", principal("b"), b)

	_, ok := reg.Broadcast("m1", "waiting", waiting, Frame("payload"))
	assert.False(t, ok)
	assert.Equal(t, 0, b.sent())

	// A stale connection that was replaced must not broadcast either.
	old := &fakeConn{}
	fresh := &fakeConn{}
	reg.RegisterAdmitted("m1", principal("a"), old)
	reg.RegisterAdmitted("m1", principal("a"), fresh)
	_, ok = reg.Broadcast("m1", "a", old, Frame("payload"))
	assert.False(t, ok)
}

func TestRegistry_DropLobbyAndAdmitted(t *testing.T) {
	reg := NewRegistry()
	lobbyConn, admittedConn := &fakeConn{}, &fakeConn{}

	reg.RegisterLobby("m1", principal("w"), lobbyConn)
	reg.RegisterAdmitted("m1", principal("a"), admittedConn)

	_, ok := reg.DropLobby("m1", "a")
	assert.False(t, ok, "admitted participant is not in lobby")
	_, ok = reg.DropAdmitted("m1", "w")
	assert.False(t, ok, "lobby participant is not admitted")

	e, ok := reg.DropLobby("m1", "w")
	require.True(t, ok)
	assert.Same(t, SignalConn(lobbyConn), e.Conn)

	e, ok = reg.DropAdmitted("m1", "a")
	require.True(t, ok)
	assert.Same(t, SignalConn(admittedConn), e.Conn)

	snap := reg.Snapshot("m1")
	assert.Empty(t, snap.Lobby)
	assert.Empty(t, snap.Admitted)
}

func TestRegistry_SnapshotOrderedByArrival(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		reg.RegisterAdmitted("m1", principal(id), &fakeConn{})
		time.Sleep(time.Millisecond)
	}
	snap := reg.Snapshot("m1")
	require.Len(t, snap.Admitted, 3)
	assert.Equal(t, domain.ParticipantID("c"), snap.Admitted[0].ID)
	assert.Equal(t, domain.ParticipantID("a"), snap.Admitted[1].ID)
	assert.Equal(t, domain.ParticipantID("b"), snap.Admitted[2].ID)
}

func TestRegistry_SweepIdle(t *testing.T) {
	reg := NewRegistry()

	reg.SetLock("empty", true)
	reg.RegisterAdmitted("busy", principal("a"), &fakeConn{})

	assert.Equal(t, 0, reg.SweepIdle(time.Hour), "fresh rooms survive")

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, reg.SweepIdle(time.Millisecond))
	assert.Equal(t, 1, reg.RoomCount())
	assert.False(t, reg.Locked("empty"), "swept room starts over unlocked")

	reg.Remove("busy", "a")
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, reg.SweepIdle(time.Millisecond))
	assert.Equal(t, 0, reg.RoomCount())
}

// A sweep racing a registration must never leave the participant in an
// orphaned room: either the insert lands first and the room survives, or
// the registration retries into a fresh room. Either way the participant
// is visible to Snapshot afterwards.
func TestRegistry_SweepRacingRegisterKeepsParticipantVisible(t *testing.T) {
	for i := 0; i < 200; i++ {
		reg := NewRegistry()
		// Materialize an empty, immediately sweepable room.
		reg.SetLock("m1", true)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.SweepIdle(-time.Second)
		}()
		go func() {
			defer wg.Done()
			reg.RegisterAdmitted("m1", principal("alice"), &fakeConn{})
		}()
		wg.Wait()

		snap := reg.Snapshot("m1")
		require.Len(t, snap.Admitted, 1)
		assert.Equal(t, domain.ParticipantID("alice"), snap.Admitted[0].ID)

		// The live room must be reachable by moderation commands too.
		e, ok := reg.AdmittedEntry("m1", "alice")
		require.True(t, ok)
		require.NotNil(t, e.Conn)
	}
}

// Concurrent connects, kicks and broadcasts for the same participant must
// never tear the sets: at every observation point the participant is in at
// most one of lobby/admitted.
func TestRegistry_ConcurrentConnectAndKick(t *testing.T) {
	reg := NewRegistry()
	mid := domain.MeetingID("m1")
	reg.RegisterAdmitted(mid, principal("peer"), &fakeConn{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			c := &fakeConn{}
			if evicted := reg.RegisterAdmitted(mid, principal("alice"), c); evicted != nil {
				evicted.Close(4000, "replaced")
			}
		}()
		go func() {
			defer wg.Done()
			if e, ok := reg.DropAdmitted(mid, "alice"); ok {
				e.Conn.Close(4002, "Kicked")
			}
		}()
		go func() {
			defer wg.Done()
			snap := reg.Snapshot(mid)
			inLobby := 0
			inAdmitted := 0
			for _, m := range snap.Lobby {
				if m.ID == "alice" {
					inLobby++
				}
			}
			for _, m := range snap.Admitted {
				if m.ID == "alice" {
					inAdmitted++
				}
			}
			assert.LessOrEqual(t, inLobby+inAdmitted, 1)
		}()
	}
	wg.Wait()
}
