package core

import (
	"time"

	"github.com/peergrid/confab/internal/domain"
)

// Frame is a raw signaling payload. Client frames are forwarded verbatim;
// the registry never parses them.
type Frame []byte

// SignalConn abstracts the transport endpoint of one participant.
// Owned by the adapter; the adapter must close it. The registry only
// references connections, it never creates or destroys them.
type SignalConn interface {
	TrySend(Frame) error
	Close(code int, reason string)
}

// Entry binds an authenticated principal to its live transport endpoint.
// This is what a room stores and fans out to.
type Entry struct {
	Principal domain.Principal
	Conn      SignalConn

	joinedAt time.Time
}

// Member is a read-only view for APIs (no transport fields).
type Member struct {
	ID          domain.ParticipantID `json:"id"`
	Role        domain.Role          `json:"role"`
	DisplayName string               `json:"displayName,omitempty"`
}

// Snapshot is an immutable view of one room's moderation state.
type Snapshot struct {
	MeetingID domain.MeetingID `json:"meetingId"`
	Locked    bool             `json:"locked"`
	Lobby     []Member         `json:"lobby"`
	Admitted  []Member         `json:"admitted"`
}

// PublishResult reports delivery stats/backpressure to the relay.
type PublishResult struct {
	SentTo  int
	Dropped int
}
