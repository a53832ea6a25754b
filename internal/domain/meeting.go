package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const MaxMeetingTitleLen = 128

var ErrTitleTooLong = errors.New("meeting title too long")

type MeetingID string

// Meeting is the directory record for one scheduled meeting: who hosts it
// and whether non-exempt participants wait in the lobby.
type Meeting struct {
	ID            MeetingID     `json:"id"`
	HostID        ParticipantID `json:"hostId"`
	Title         string        `json:"title,omitempty"`
	LobbyRequired bool          `json:"lobbyRequired"`
	CreatedAt     time.Time     `json:"createdAt"`
}

func NewMeeting(hostID ParticipantID, title string, lobbyRequired bool) (*Meeting, error) {
	if hostID == "" {
		return nil, ErrIdentityEmpty
	}
	if len(title) > MaxMeetingTitleLen {
		return nil, ErrTitleTooLong
	}
	return &Meeting{
		ID:            MeetingID(uuid.NewString()),
		HostID:        hostID,
		Title:         title,
		LobbyRequired: lobbyRequired,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Exempt reports whether p bypasses the lobby for this meeting.
func (m *Meeting) Exempt(p Principal) bool {
	return p.ID == m.HostID || p.Role == RoleAdmin
}
