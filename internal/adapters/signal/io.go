package signal

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/peergrid/confab/internal/metrics"
	"github.com/peergrid/confab/internal/protocol"
)

const writeWait = 5 * time.Second

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.PingPeriod > 0 {
		return ctl.PingPeriod
	}
	return 54 * time.Second
}

// pongWait leaves one ping interval plus slack before a silent peer times out.
func (ctl *Controller) pongWait() time.Duration {
	return ctl.pingPeriod() * 10 / 9
}

func (ctl *Controller) writePump(c *wsConn) {
	ticker := time.NewTicker(ctl.pingPeriod())
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump forwards inbound frames to the meeting's admitted peers. On exit
// the registry entry is removed before the close handshake completes, so a
// fan-out in flight never targets a closed-but-registered connection for
// longer than one operation.
func (ctl *Controller) readPump(s *session) {
	defer func() {
		removed := ctl.Registry.RemoveConn(s.mid, s.p.ID, s.conn)
		s.conn.Close(websocket.CloseNormalClosure, "")
		metrics.ActiveConnections.Dec()
		log.Info().Str("module", "signal").Str("meeting", string(s.mid)).
			Str("participant", string(s.p.ID)).Bool("removed", removed).
			Msg("connection closed")
		if removed {
			ctl.refreshMirror(s.mid)
		}
	}()

	_ = s.conn.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	s.conn.conn.SetPongHandler(func(string) error {
		return s.conn.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		_, data, err := s.conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				protocol.CloseDenied, protocol.CloseKicked, protocol.CloseReplaced) {
				log.Debug().Err(err).Str("module", "signal").Str("participant", string(s.p.ID)).
					Msg("readPump read error")
			}
			return
		}
		// Payloads are opaque: forwarded verbatim, never parsed. A sender
		// with no current admitted entry (lobby, kicked mid-send) has its
		// frame dropped with nothing surfaced.
		res, ok := ctl.Registry.Broadcast(s.mid, s.p.ID, s.conn, data)
		if !ok {
			continue
		}
		metrics.FramesForwarded.Add(float64(res.SentTo))
		metrics.FramesDropped.Add(float64(res.Dropped))
	}
}
