package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/peergrid/confab/internal/audit"
	"github.com/peergrid/confab/internal/core"
	"github.com/peergrid/confab/internal/domain"
	"github.com/peergrid/confab/internal/metrics"
	"github.com/peergrid/confab/internal/protocol"
)

// ErrNotAllowed is returned before any registry lookup when the actor is
// neither the meeting's host nor an admin.
var ErrNotAllowed = errors.New("not allowed")

// Directory is the meeting lookup the gateway needs for authorization.
type Directory interface {
	Find(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error)
}

// Mirror receives best-effort room state updates after mutations.
type Mirror interface {
	Refresh(mid domain.MeetingID, snap core.Snapshot)
}

// Gateway is the host/admin command surface over the Room Registry.
// It owns no state of its own; every mutation goes through registry
// operations, and side effects (notices, audit, mirror) happen after the
// registry transition committed.
type Gateway struct {
	Registry  *core.Registry
	Directory Directory
	Audit     audit.Recorder
	Mirror    Mirror
}

// authorize resolves the meeting and checks the actor against it. The
// directory round-trip happens before any room lock is taken.
func (g *Gateway) authorize(ctx context.Context, actor domain.Principal, mid domain.MeetingID) (*domain.Meeting, error) {
	m, err := g.Directory.Find(ctx, mid)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin && actor.ID != m.HostID {
		return nil, ErrNotAllowed
	}
	return m, nil
}

// Lock sets the room's lock flag and returns the new value. Already
// admitted participants stay admitted.
func (g *Gateway) Lock(ctx context.Context, actor domain.Principal, mid domain.MeetingID, desired bool) (bool, error) {
	if _, err := g.authorize(ctx, actor, mid); err != nil {
		g.count("lock", "denied")
		return false, err
	}
	v := g.Registry.SetLock(mid, desired)
	g.count("lock", "ok")
	g.record(actor, mid, "", "lock", map[string]any{"locked": v})
	g.refresh(mid)
	return v, nil
}

// Admit promotes a lobby participant into the meeting. A false result means
// the participant was not in the lobby anymore — a benign race with a
// disconnect, not an error.
func (g *Gateway) Admit(ctx context.Context, actor domain.Principal, mid domain.MeetingID, pid domain.ParticipantID) (bool, error) {
	if _, err := g.authorize(ctx, actor, mid); err != nil {
		g.count("admit", "denied")
		return false, err
	}
	e, ok := g.Registry.Promote(mid, pid)
	if !ok {
		g.count("admit", "noop")
		return false, nil
	}
	if err := e.Conn.TrySend(protocol.Admitted(mid)); err != nil {
		log.Debug().Str("module", "app.gateway").Str("participant", string(pid)).
			Msg("admitted notice not deliverable")
	}
	g.count("admit", "ok")
	g.record(actor, mid, pid, "admit", nil)
	g.refresh(mid)
	return true, nil
}

// Deny removes a lobby participant and closes its connection.
func (g *Gateway) Deny(ctx context.Context, actor domain.Principal, mid domain.MeetingID, pid domain.ParticipantID) (bool, error) {
	if _, err := g.authorize(ctx, actor, mid); err != nil {
		g.count("deny", "denied")
		return false, err
	}
	e, ok := g.Registry.DropLobby(mid, pid)
	if !ok {
		g.count("deny", "noop")
		return false, nil
	}
	e.Conn.Close(protocol.CloseDenied, "Denied")
	g.count("deny", "ok")
	g.record(actor, mid, pid, "deny", nil)
	g.refresh(mid)
	return true, nil
}

// Kick removes an admitted participant and closes its connection.
func (g *Gateway) Kick(ctx context.Context, actor domain.Principal, mid domain.MeetingID, pid domain.ParticipantID) (bool, error) {
	if _, err := g.authorize(ctx, actor, mid); err != nil {
		g.count("kick", "denied")
		return false, err
	}
	e, ok := g.Registry.DropAdmitted(mid, pid)
	if !ok {
		g.count("kick", "noop")
		return false, nil
	}
	e.Conn.Close(protocol.CloseKicked, "Kicked")
	g.count("kick", "ok")
	g.record(actor, mid, pid, "kick", nil)
	g.refresh(mid)
	return true, nil
}

// SetMute sends the advisory mute notice to an admitted participant. The
// client is expected to honor it; nothing here touches media.
func (g *Gateway) SetMute(ctx context.Context, actor domain.Principal, mid domain.MeetingID, pid domain.ParticipantID, muted bool) (bool, error) {
	if _, err := g.authorize(ctx, actor, mid); err != nil {
		g.count("mute", "denied")
		return false, err
	}
	e, ok := g.Registry.AdmittedEntry(mid, pid)
	if !ok {
		g.count("mute", "noop")
		return false, nil
	}
	if err := e.Conn.TrySend(protocol.Mute(mid, muted)); err != nil {
		// Delivery failure is silent toward the actor, but it is not the
		// same thing as "participant already gone".
		g.count("mute", "dropped")
		return false, nil
	}
	g.count("mute", "ok")
	g.record(actor, mid, pid, "mute", map[string]any{"muted": muted})
	return true, nil
}

// Snapshot returns the room's current state for the moderation UI.
func (g *Gateway) Snapshot(ctx context.Context, actor domain.Principal, mid domain.MeetingID) (core.Snapshot, error) {
	if _, err := g.authorize(ctx, actor, mid); err != nil {
		return core.Snapshot{}, err
	}
	return g.Registry.Snapshot(mid), nil
}

func (g *Gateway) refresh(mid domain.MeetingID) {
	if g.Mirror != nil {
		g.Mirror.Refresh(mid, g.Registry.Snapshot(mid))
	}
}

func (g *Gateway) record(actor domain.Principal, mid domain.MeetingID, target domain.ParticipantID, action string, meta map[string]any) {
	if g.Audit == nil {
		return
	}
	g.Audit.Record(audit.Event{
		Action:    action,
		ActorID:   string(actor.ID),
		TargetID:  string(target),
		MeetingID: string(mid),
		Metadata:  meta,
	})
}

func (g *Gateway) count(action, outcome string) {
	metrics.ModerationCommands.WithLabelValues(action, outcome).Inc()
}
