// Package protocol defines the system messages the relay itself emits
// toward clients. These are the only payloads the server ever constructs;
// everything a client sends is forwarded as opaque bytes and never parsed,
// so the two kinds cannot collide inside the server. (A client may still
// forge a payload that looks like a notice to its peers — the wire format
// does not authenticate notice origin.)
package protocol

import (
	"encoding/json"

	"github.com/peergrid/confab/internal/domain"
)

// Close codes emitted by the relay. 4001 and 4002 are terminal for the
// session; clients must not auto-reconnect after them.
const (
	CloseReplaced        = 4000 // superseded by a newer connection for the same participant
	CloseDenied          = 4001 // moderator denied lobby entry
	CloseKicked          = 4002 // moderator removed an admitted participant
	CloseMissingParams   = 4400 // handshake lacked token or meetingId
	CloseInvalidToken    = 4401 // credential invalid, expired, or scoped to another meeting
	CloseMeetingNotFound = 4404 // meeting identifier unknown
)

// NoticeKind tags a relay-to-client system message.
type NoticeKind string

const (
	NoticeJoined   NoticeKind = "joined"
	NoticeLobby    NoticeKind = "lobby"
	NoticeAdmitted NoticeKind = "admitted"
	NoticeMute     NoticeKind = "mute"
)

// Notice is the envelope for every system message.
type Notice struct {
	Type      NoticeKind       `json:"type"`
	MeetingID domain.MeetingID `json:"meetingId"`
	// Muted is present only on mute notices.
	Muted *bool `json:"muted,omitempty"`
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// All notice fields are plain strings and bools; Marshal cannot fail.
		panic(err)
	}
	return b
}

// Joined tells a freshly admitted connection it is live in the meeting.
func Joined(mid domain.MeetingID) []byte {
	return marshal(Notice{Type: NoticeJoined, MeetingID: mid})
}

// Lobby tells a connection it is parked in the waiting area.
func Lobby(mid domain.MeetingID) []byte {
	return marshal(Notice{Type: NoticeLobby, MeetingID: mid})
}

// Admitted tells a lobby connection a moderator let it in.
func Admitted(mid domain.MeetingID) []byte {
	return marshal(Notice{Type: NoticeAdmitted, MeetingID: mid})
}

// Mute carries the advisory mute state a moderator requested. The client is
// expected to honor it by disabling its own outbound audio; nothing here
// silences a media track.
func Mute(mid domain.MeetingID, muted bool) []byte {
	return marshal(Notice{Type: NoticeMute, MeetingID: mid, Muted: &muted})
}
