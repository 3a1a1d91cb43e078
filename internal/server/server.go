// Package server exposes a monitor.Monitor over REST and a WebSocket push
// channel.
package server

import (
	"encoding/json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/srun-soft/netwatch/configs"
	"github.com/srun-soft/netwatch/internal/monitor"
	"io"
	"net/http"
	"strings"
	"sync"
)

// Server is an http.Handler. Close it to hang up push clients; http.Server
// shutdown does not reach hijacked connections.
type Server struct {
	m        *monitor.Monitor
	log      *logrus.Entry
	upgrader websocket.Upgrader
	handler  http.Handler

	done      chan struct{}
	closeOnce sync.Once
}

// New builds the routes. origins feeds the CORS policy; empty allows any origin.
func New(m *monitor.Monitor, origins []string) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		m:    m,
		log:  configs.Component("server"),
		done: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /interfaces", s.handleInterfaces)
	mux.HandleFunc("POST /start", s.handleStart)
	mux.HandleFunc("POST /stop", s.handleStop)
	mux.HandleFunc("POST /pause", s.handlePause)
	mux.HandleFunc("POST /resume", s.handleResume)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /packets", s.handlePackets)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.serveWS)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(mux)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects every push client. It does not stop the capture.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// originChecker applies the CORS allow list to WebSocket upgrades. Entries
// may hold one "*" wildcard, as rs/cors accepts. Requests without an Origin
// header do not come from a browser and pass.
func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := strings.ToLower(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		for _, o := range origins {
			o = strings.ToLower(o)
			if o == "*" || o == origin {
				return true
			}
			if i := strings.IndexByte(o, '*'); i >= 0 {
				prefix, suffix := o[:i], o[i+1:]
				if len(origin) >= len(prefix)+len(suffix) &&
					strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
					return true
				}
			}
		}
		return false
	}
}

type startRequest struct {
	Interface string `json:"interface"`
}

type statusResponse struct {
	Status    string `json:"status"`
	Interface string `json:"interface,omitempty"`
}

func (s *Server) handleInterfaces(w http.ResponseWriter, r *http.Request) {
	names, err := s.m.Interfaces()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	jsonResponse(w, http.StatusOK, names)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := s.m.Start(req.Interface); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, statusResponse{Status: "started", Interface: req.Interface})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.m.Stop(); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, statusResponse{Status: "stopped"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.m.Pause(); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, statusResponse{Status: "paused"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.m.Resume(); err != nil {
		s.fail(w, statusFor(err), err)
		return
	}
	jsonResponse(w, http.StatusOK, statusResponse{Status: "resumed"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.m.Clear()
	jsonResponse(w, http.StatusOK, statusResponse{Status: "cleared"})
}

func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.m.Packets())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.m.Status())
}

// statusFor maps control errors to response codes. Caller mistakes are 400,
// anything from the capture library is 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrInterfaceMissing),
		errors.Is(err, monitor.ErrAlreadyRunning),
		errors.Is(err, monitor.ErrNotRunning):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.log.WithField("category", "http").Debugf("%d: %s", status, err)
	jsonResponse(w, status, map[string]string{"error": err.Error()})
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		configs.Log.Errorf("encode response: %s", err)
	}
}
