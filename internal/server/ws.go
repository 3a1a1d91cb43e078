package server

import (
	"encoding/json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/srun-soft/netwatch/internal/hub"
	"io"
	"net/http"
	"time"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// inbound client commands
const (
	eventPauseCapture  = "pause_capture"
	eventResumeCapture = "resume_capture"
)

type inbound struct {
	Event string `json:"event"`
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.log.WithField("category", "ws").Debugf("upgrade: %s", err)
		return
	}
	sub := s.m.Subscribe()
	log := s.log.WithFields(logrus.Fields{"category": "ws", "subscriber": sub.ID()})
	log.Infof("client connected from %s", r.RemoteAddr)

	go s.readPump(conn, sub)
	s.writePump(conn, sub)

	log.WithField("dropped", sub.Dropped()).Info("client disconnected")
}

// readPump handles client commands until the connection fails, then
// unsubscribes, which in turn ends writePump.
func (s *Server) readPump(conn *websocket.Conn, sub *hub.Subscriber) {
	defer s.m.Unsubscribe(sub)

	log := s.log.WithFields(logrus.Fields{"category": "ws", "subscriber": sub.ID()})
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if isDecodeError(err) {
				log.Debugf("bad message: %s", err)
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("read: %s", err)
			}
			return
		}

		var err error
		switch msg.Event {
		case eventPauseCapture:
			err = s.m.Pause()
		case eventResumeCapture:
			err = s.m.Resume()
		default:
			log.Debugf("unknown event %q", msg.Event)
		}
		if err != nil {
			log.Debugf("%s: %s", msg.Event, err)
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *hub.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case e, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// isDecodeError reports a message that was read but is not a command. The
// connection is still usable afterwards.
func isDecodeError(err error) bool {
	var syntax *json.SyntaxError
	var typ *json.UnmarshalTypeError
	return errors.As(err, &syntax) || errors.As(err, &typ) || errors.Is(err, io.ErrUnexpectedEOF)
}
