// Package mirror pushes aggregate room state to the external SFU's room
// metadata endpoint. Display-only and best-effort: failures are logged and
// swallowed, and callers never wait on a push.
package mirror

import (
	"context"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/rs/zerolog/log"

	"github.com/peergrid/confab/internal/core"
	"github.com/peergrid/confab/internal/domain"
)

const defaultTimeout = 3 * time.Second

// RoomMetadata is the shape the SFU accepts.
type RoomMetadata struct {
	Locked           bool          `json:"locked"`
	LobbyCount       int           `json:"lobbyCount"`
	ParticipantCount int           `json:"participantCount"`
	Lobby            []core.Member `json:"lobby"`
	Participants     []core.Member `json:"participants"`
}

// Mirror posts room metadata to baseURL/rooms/{meetingID}. A Mirror with an
// empty base URL is disabled and ignores all calls.
type Mirror struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Mirror {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Mirror{
		baseURL: baseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Push performs one synchronous update.
func (m *Mirror) Push(ctx context.Context, mid domain.MeetingID, meta RoomMetadata) error {
	return requests.
		URL(m.baseURL).
		Pathf("/rooms/%s", string(mid)).
		Method(http.MethodPost).
		BodyJSON(&meta).
		Client(m.client).
		Fetch(ctx)
}

// Refresh pushes the snapshot asynchronously with its own timeout budget so
// mirror latency never delays a moderation command or the relay.
func (m *Mirror) Refresh(mid domain.MeetingID, snap core.Snapshot) {
	if m == nil || m.baseURL == "" {
		return
	}
	meta := RoomMetadata{
		Locked:           snap.Locked,
		LobbyCount:       len(snap.Lobby),
		ParticipantCount: len(snap.Admitted),
		Lobby:            snap.Lobby,
		Participants:     snap.Admitted,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := m.Push(ctx, mid, meta); err != nil {
			log.Warn().Err(err).Str("module", "mirror").Str("meeting", string(mid)).
				Msg("room metadata push failed")
		}
	}()
}
