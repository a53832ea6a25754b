package core

import (
	"sort"
	"sync"
	"time"

	"github.com/peergrid/confab/internal/domain"
	"github.com/rs/zerolog/log"
)

// room holds the admitted and lobby sets plus the lock flag for one meeting.
// Every mutation happens under the room's own mutex; the mutex is never
// held across I/O (TrySend is a non-blocking channel push).
type room struct {
	mu         sync.RWMutex
	locked     bool
	dead       bool
	admitted   map[domain.ParticipantID]*Entry
	lobby      map[domain.ParticipantID]*Entry
	emptySince time.Time
}

func newRoom() *room {
	return &room{
		admitted:   make(map[domain.ParticipantID]*Entry),
		lobby:      make(map[domain.ParticipantID]*Entry),
		emptySince: time.Now(),
	}
}

// evictLocked removes pid from both sets and returns the prior connection,
// if any. Caller holds r.mu.
func (r *room) evictLocked(pid domain.ParticipantID) SignalConn {
	if prev, ok := r.admitted[pid]; ok {
		delete(r.admitted, pid)
		return prev.Conn
	}
	if prev, ok := r.lobby[pid]; ok {
		delete(r.lobby, pid)
		return prev.Conn
	}
	return nil
}

func (r *room) touchLocked() {
	if len(r.admitted) == 0 && len(r.lobby) == 0 {
		if r.emptySince.IsZero() {
			r.emptySince = time.Now()
		}
	} else {
		r.emptySince = time.Time{}
	}
}

// Registry is the stateful core: per-meeting admitted/lobby sets and lock
// flags, materialized lazily. Rooms are evicted only by SweepIdle.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.MeetingID]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.MeetingID]*room)}
}

func (g *Registry) getOrCreate(mid domain.MeetingID) *room {
	g.mu.RLock()
	r, ok := g.rooms[mid]
	g.mu.RUnlock()
	if ok {
		return r
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok = g.rooms[mid]; ok {
		return r
	}
	r = newRoom()
	g.rooms[mid] = r
	return r
}

func (g *Registry) peek(mid domain.MeetingID) (*room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[mid]
	return r, ok
}

// lockLive returns the room for mid with its write lock held. A room
// fetched from the map can be swept before the lock is acquired; inserting
// into such a room would orphan the entry, so a dead room is discarded and
// the lookup retried.
func (g *Registry) lockLive(mid domain.MeetingID) *room {
	for {
		r := g.getOrCreate(mid)
		r.mu.Lock()
		if !r.dead {
			return r
		}
		r.mu.Unlock()
	}
}

// RegisterAdmitted inserts the participant into the admitted set, evicting
// any prior entry for the same participant from either set first
// (last-writer-wins on reconnect). It returns the evicted connection so the
// relay can close it; nil when there was none.
func (g *Registry) RegisterAdmitted(mid domain.MeetingID, p domain.Principal, conn SignalConn) SignalConn {
	return g.register(mid, p, conn, false)
}

// RegisterLobby is RegisterAdmitted into the lobby set.
func (g *Registry) RegisterLobby(mid domain.MeetingID, p domain.Principal, conn SignalConn) SignalConn {
	return g.register(mid, p, conn, true)
}

func (g *Registry) register(mid domain.MeetingID, p domain.Principal, conn SignalConn, lobby bool) SignalConn {
	r := g.lockLive(mid)
	defer r.mu.Unlock()

	evicted := r.evictLocked(p.ID)
	if evicted == conn {
		evicted = nil
	}
	e := &Entry{Principal: p, Conn: conn, joinedAt: time.Now()}
	if lobby {
		r.lobby[p.ID] = e
	} else {
		r.admitted[p.ID] = e
	}
	r.touchLocked()
	log.Debug().Str("module", "core.registry").Str("meeting", string(mid)).
		Str("participant", string(p.ID)).Bool("lobby", lobby).Bool("evicted", evicted != nil).
		Msg("registered")
	return evicted
}

// Remove deletes the participant from whichever set holds it and reports
// whether a removal occurred. No-op if absent.
func (g *Registry) Remove(mid domain.MeetingID, pid domain.ParticipantID) bool {
	r, ok := g.peek(mid)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.evictLocked(pid) != nil
	r.touchLocked()
	return removed
}

// RemoveConn removes the participant only while conn is still the current
// entry. The relay uses this on transport teardown so a stale pump cannot
// clobber a newer registration for the same participant.
func (g *Registry) RemoveConn(mid domain.MeetingID, pid domain.ParticipantID, conn SignalConn) bool {
	r, ok := g.peek(mid)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.admitted[pid]; ok && e.Conn == conn {
		delete(r.admitted, pid)
		r.touchLocked()
		return true
	}
	if e, ok := r.lobby[pid]; ok && e.Conn == conn {
		delete(r.lobby, pid)
		r.touchLocked()
		return true
	}
	return false
}

// Promote atomically moves the participant from lobby to admitted. It fails
// when the participant is not currently in the lobby (already disconnected,
// already admitted, or never joined) — callers treat false as a benign
// no-op, not an error.
func (g *Registry) Promote(mid domain.MeetingID, pid domain.ParticipantID) (*Entry, bool) {
	r, ok := g.peek(mid)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.lobby[pid]
	if !ok {
		return nil, false
	}
	delete(r.lobby, pid)
	e.joinedAt = time.Now()
	r.admitted[pid] = e
	log.Info().Str("module", "core.registry").Str("meeting", string(mid)).
		Str("participant", string(pid)).Msg("promoted from lobby")
	return e, true
}

// DropLobby atomically removes and returns the participant's lobby entry.
func (g *Registry) DropLobby(mid domain.MeetingID, pid domain.ParticipantID) (*Entry, bool) {
	return g.drop(mid, pid, true)
}

// DropAdmitted atomically removes and returns the participant's admitted entry.
func (g *Registry) DropAdmitted(mid domain.MeetingID, pid domain.ParticipantID) (*Entry, bool) {
	return g.drop(mid, pid, false)
}

func (g *Registry) drop(mid domain.MeetingID, pid domain.ParticipantID, lobby bool) (*Entry, bool) {
	r, ok := g.peek(mid)
	if !ok {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.admitted
	if lobby {
		set = r.lobby
	}
	e, ok := set[pid]
	if !ok {
		return nil, false
	}
	delete(set, pid)
	r.touchLocked()
	return e, true
}

// AdmittedEntry returns the current admitted entry without removing it.
func (g *Registry) AdmittedEntry(mid domain.MeetingID, pid domain.ParticipantID) (*Entry, bool) {
	r, ok := g.peek(mid)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.admitted[pid]
	return e, ok
}

// SetLock sets the lock flag, creating the room if absent, and returns the
// new value. Already-admitted participants are unaffected.
func (g *Registry) SetLock(mid domain.MeetingID, locked bool) bool {
	r := g.lockLive(mid)
	defer r.mu.Unlock()
	r.locked = locked
	log.Info().Str("module", "core.registry").Str("meeting", string(mid)).
		Bool("locked", locked).Msg("lock flag set")
	return r.locked
}

// Locked reports the lock flag; an unmaterialized room is unlocked.
func (g *Registry) Locked(mid domain.MeetingID) bool {
	r, ok := g.peek(mid)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.locked
}

// Broadcast forwards a frame from an admitted sender to every other
// admitted connection in the meeting. Peers whose transport is not
// writable are skipped silently, never queued. The second return is false
// when the sender is not (or no longer) the current admitted connection;
// the frame is then dropped entirely.
func (g *Registry) Broadcast(mid domain.MeetingID, from domain.ParticipantID, src SignalConn, f Frame) (PublishResult, bool) {
	r, ok := g.peek(mid)
	if !ok {
		return PublishResult{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.admitted[from]
	if !ok || sender.Conn != src {
		return PublishResult{}, false
	}
	res := PublishResult{}
	for pid, e := range r.admitted {
		if pid == from {
			continue
		}
		if err := e.Conn.TrySend(f); err != nil {
			res.Dropped++
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.registry").Str("meeting", string(mid)).
		Str("from", string(from)).Int("sent_to", res.SentTo).Int("dropped", res.Dropped).
		Msg("broadcast result")
	return res, true
}

// Snapshot returns an immutable view of the room: lock flag plus lobby and
// admitted member lists ordered by arrival. Connection handles never leak
// through it. An unmaterialized room yields an empty unlocked snapshot.
func (g *Registry) Snapshot(mid domain.MeetingID) Snapshot {
	snap := Snapshot{MeetingID: mid, Lobby: []Member{}, Admitted: []Member{}}
	r, ok := g.peek(mid)
	if !ok {
		return snap
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap.Locked = r.locked
	snap.Lobby = members(r.lobby)
	snap.Admitted = members(r.admitted)
	return snap
}

func members(set map[domain.ParticipantID]*Entry) []Member {
	entries := make([]*Entry, 0, len(set))
	for _, e := range set {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].joinedAt.Equal(entries[j].joinedAt) {
			return entries[i].Principal.ID < entries[j].Principal.ID
		}
		return entries[i].joinedAt.Before(entries[j].joinedAt)
	})
	out := make([]Member, 0, len(entries))
	for _, e := range entries {
		out = append(out, Member{
			ID:          e.Principal.ID,
			Role:        e.Principal.Role,
			DisplayName: e.Principal.DisplayName,
		})
	}
	return out
}

// Counts returns the lobby and admitted sizes.
func (g *Registry) Counts(mid domain.MeetingID) (lobby, admitted int) {
	r, ok := g.peek(mid)
	if !ok {
		return 0, 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lobby), len(r.admitted)
}

// RoomCount returns the number of materialized rooms.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// SweepIdle evicts rooms that have been empty longer than ttl and returns
// how many were evicted. The lock flag of a swept room is discarded with it.
func (g *Registry) SweepIdle(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	g.mu.Lock()
	defer g.mu.Unlock()
	evicted := 0
	for mid, r := range g.rooms {
		r.mu.Lock()
		idle := len(r.admitted) == 0 && len(r.lobby) == 0 &&
			!r.emptySince.IsZero() && r.emptySince.Before(cutoff)
		if idle {
			// Mark before deleting so a registration that already fetched
			// this pointer retries against a fresh room instead of
			// inserting into an orphan.
			r.dead = true
			delete(g.rooms, mid)
			evicted++
		}
		r.mu.Unlock()
	}
	if evicted > 0 {
		log.Info().Str("module", "core.registry").Int("evicted", evicted).Msg("swept idle rooms")
	}
	return evicted
}
