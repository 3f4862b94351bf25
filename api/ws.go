package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"web/clustermanager/cluster"
	"web/clustermanager/runner"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// viewportMessage is what a client sends on the stream to move its viewport.
type viewportMessage struct {
	North float64 `json:"north"`
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	Zoom  float64 `json:"zoom"`
}

// stream upgrades to a websocket, sends a snapshot of the displayed markers,
// then every decision rendered for the session. Viewport messages from the
// client trigger a refresh.
func (s *Server) stream(c *gin.Context) {
	sess := session(c)
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("ws_upgrade_failed", "session", sess.ID, "error", err)
		return
	}
	defer conn.Close()

	decisions, unsubscribe := sess.Feed.Subscribe()
	defer unsubscribe()

	s.logger.Debug("ws_connected", "session", sess.ID)
	readerDone := make(chan struct{})
	go s.readViewports(conn, sess, readerDone)

	if !write(conn, snapshotResponse(sess.Manager.Markers())) {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case d, ok := <-decisions:
			if !ok {
				// session closed or we fell too far behind
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"),
					time.Now().Add(writeWait))
				return
			}
			if !write(conn, newDecisionResponse(d)) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-readerDone:
			s.logger.Debug("ws_disconnected", "session", sess.ID)
			return
		}
	}
}

func write(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v) == nil
}

func (s *Server) readViewports(conn *websocket.Conn, sess *runner.Session, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg viewportMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws_read_failed", "session", sess.ID, "error", err)
			}
			if malformed(err) {
				continue
			}
			return
		}

		vp := runner.Viewport{
			Bounds: cluster.Rect{North: msg.North, West: msg.West, South: msg.South, East: msg.East},
			Zoom:   msg.Zoom,
		}
		if err := s.validateViewport(vp); err != nil {
			s.logger.Debug("ws_bad_viewport", "session", sess.ID, "error", err)
			continue
		}
		sess.Viewport.Set(vp)
		if err := sess.Manager.Refresh(); err != nil {
			return
		}
	}
}

// malformed reports whether a read failed on the message content rather than
// the connection.
func malformed(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
