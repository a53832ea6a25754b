package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/peergrid/confab/internal/app"
	"github.com/peergrid/confab/internal/auth"
	"github.com/peergrid/confab/internal/core"
	"github.com/peergrid/confab/internal/directory"
	"github.com/peergrid/confab/internal/domain"
	"github.com/peergrid/confab/internal/metrics"
	"github.com/peergrid/confab/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

const closeWriteWait = time.Second

// Verifier resolves a bearer credential into meeting-scoped claims.
type Verifier interface {
	Verify(token string) (auth.Claims, error)
}

// Controller terminates one WebSocket per participant, classifies it into
// the lobby or admitted set, and fans out opaque payloads.
type Controller struct {
	Registry  *core.Registry
	Verifier  Verifier
	Directory directory.Finder
	Mirror    app.Mirror

	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

// wsConn implements core.SignalConn over a gorilla connection with a
// buffered send channel. TrySend never blocks: a full channel is reported
// as backpressure and the frame is dropped by the caller.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	if buffer <= 0 {
		buffer = 32
	}
	return &wsConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close sends a close frame with the given code and tears the transport
// down. Safe to call from any goroutine, idempotent.
func (c *wsConn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is the relay-side identity of one live connection.
type session struct {
	mid  domain.MeetingID
	p    domain.Principal
	conn *wsConn
}

// HandleSignal runs the connect sequence: authenticate, resolve the
// meeting, classify into lobby or admitted, then start the pumps. No room
// lock is held across the credential or directory round-trips.
func (ctl *Controller) HandleSignal(c *gin.Context) {
	token := c.Query("token")
	mid := domain.MeetingID(c.Query("meetingId"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := newWSConn(ws, ctl.SendBuffer)

	if token == "" || mid == "" {
		metrics.ConnectsRejected.WithLabelValues("missing_params").Inc()
		conn.Close(protocol.CloseMissingParams, "missing parameters")
		return
	}

	claims, err := ctl.Verifier.Verify(token)
	if err != nil || claims.MeetingID != mid {
		metrics.ConnectsRejected.WithLabelValues("invalid_token").Inc()
		conn.Close(protocol.CloseInvalidToken, "invalid token")
		return
	}
	p := claims.Principal

	meeting, err := ctl.Directory.Find(c.Request.Context(), mid)
	if err != nil {
		metrics.ConnectsRejected.WithLabelValues("meeting_not_found").Inc()
		conn.Close(protocol.CloseMeetingNotFound, "meeting not found")
		return
	}

	requiresLobby := meeting.LobbyRequired || ctl.Registry.Locked(mid)
	admitted := !requiresLobby || meeting.Exempt(p)

	var evicted core.SignalConn
	if admitted {
		evicted = ctl.Registry.RegisterAdmitted(mid, p, conn)
	} else {
		evicted = ctl.Registry.RegisterLobby(mid, p, conn)
	}
	if evicted != nil {
		evicted.Close(protocol.CloseReplaced, "replaced by new connection")
	}

	log.Info().Str("module", "signal").Str("meeting", string(mid)).
		Str("participant", string(p.ID)).Bool("admitted", admitted).
		Msg("connection classified")
	metrics.ActiveConnections.Inc()

	ws.SetReadLimit(ctl.ReadLimit)
	sess := &session{mid: mid, p: p, conn: conn}
	go ctl.writePump(conn)
	go ctl.readPump(sess)

	if admitted {
		_ = conn.TrySend(protocol.Joined(mid))
	} else {
		_ = conn.TrySend(protocol.Lobby(mid))
	}
	ctl.refreshMirror(mid)
}

func (ctl *Controller) refreshMirror(mid domain.MeetingID) {
	if ctl.Mirror != nil {
		ctl.Mirror.Refresh(mid, ctl.Registry.Snapshot(mid))
	}
}
