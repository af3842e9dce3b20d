package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/iqhub/pkg/dsp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server owns the streaming services and the HTTP surface in front of
// them. Everything it needs is passed in at construction, nothing is
// package-global.
type Server struct {
	cfg      *Config
	manager  *SessionManager
	registry *Registry
	store    Store
	metrics  *Metrics

	promRegistry *prometheus.Registry
	upgrader     websocket.Upgrader
}

func NewServer(cfg *Config) *Server {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var store Store
	fs, err := NewFileStore(cfg.Recording.DataDir, cfg.Recording.Compress)
	if err != nil {
		log.Printf("Recording storage unavailable: %v", err)
	} else {
		store = fs
	}

	s := &Server{
		cfg:          cfg,
		manager:      NewSessionManager(store, metrics),
		registry:     NewRegistry(metrics),
		store:        store,
		metrics:      metrics,
		promRegistry: reg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
	}
	return s
}

// Run installs routes and serves until the listener fails.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS(ctx))
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionByID)
	mux.HandleFunc("/api/recordings/range", s.handleRecordingRange)
	mux.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	log.Printf("Listening on %s (FFT backend: %s)", addr, dsp.BackendName())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops background services.
func (s *Server) Close() {
	s.registry.Close()
	s.manager.Close()
}

// handleWS upgrades the connection and runs its read pump. One
// goroutine per connection reads commands; the subscriber's write pump
// sends frames.
func (s *Server) handleWS(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("Upgrade:", err)
			return
		}

		userID := r.URL.Query().Get("user")
		if userID == "" {
			userID = "anonymous"
		}

		sub := NewSubscriber(conn, userID)
		s.registry.Add(sub)
		log.Printf("Client connected (user %s)", userID)

		defer func() {
			s.registry.Remove(sub)
			log.Printf("Client disconnected (user %s)", userID)
		}()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// Any inbound traffic proves the subscriber is alive.
			sub.markAlive()
			var msg ClientMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				sub.enqueue(errorEvent("", "malformed message: "+err.Error()))
				continue
			}
			s.dispatch(ctx, sub, &msg)
		}
	}
}

// dispatch routes one validated client command. Unknown or invalid
// commands are answered with an error event, never dropped silently.
func (s *Server) dispatch(ctx context.Context, sub *Subscriber, msg *ClientMessage) {
	if err := msg.Validate(); err != nil {
		log.Printf("Rejected command %q: %v", msg.Type, err)
		sub.enqueue(errorEvent(msg.SessionID, err.Error()))
		return
	}

	switch msg.Type {
	case CmdPing:
		sub.enqueue(ServerMessage{Type: EvtPong})

	case CmdSubscribe:
		sub.attach(msg.SessionID)
		sub.enqueue(event(EvtConnected, msg.SessionID))

	case CmdUnsubscribe:
		sub.attach("")

	case CmdStartStream:
		s.startStream(ctx, sub, msg)

	case CmdStopStream:
		if _, err := s.manager.Stop(msg.SessionID); err != nil {
			sub.enqueue(errorEvent(msg.SessionID, err.Error()))
			return
		}
		sub.enqueue(event(EvtStreamStopped, msg.SessionID))

	case CmdStartRecording:
		if err := s.manager.StartRecording(msg.SessionID); err != nil {
			sub.enqueue(errorEvent(msg.SessionID, err.Error()))
			return
		}
		sub.enqueue(event(EvtRecordingStarted, msg.SessionID))

	case CmdStopRecording:
		if err := s.manager.StopRecording(msg.SessionID); err != nil {
			sub.enqueue(errorEvent(msg.SessionID, err.Error()))
			return
		}
		sub.enqueue(event(EvtRecordingStopped, msg.SessionID))
	}
}

// startStream creates a session and launches its stream loop.
func (s *Server) startStream(ctx context.Context, sub *Subscriber, msg *ClientMessage) {
	cfg := SessionConfig{
		UserID:           sub.UserID,
		Device:           s.cfg.Source.Type,
		CenterFrequency:  msg.Frequency,
		SampleRate:       msg.SampleRate,
		Gain:             msg.Gain,
		Antenna:          msg.Antenna,
		Bandwidth:        msg.Bandwidth,
		RetentionSeconds: s.cfg.Stream.RetentionSeconds,
		Record:           msg.Record,
	}

	session, err := s.manager.Create(cfg)
	if err != nil {
		sub.enqueue(errorEvent("", err.Error()))
		return
	}

	src, err := s.newSource(session)
	if err != nil {
		s.manager.MarkError(session.ID, err)
		sub.enqueue(errorEvent(session.ID, err.Error()))
		return
	}

	loop, err := newStreamLoop(session, s.manager, s.registry, src, s.metrics, s.cfg)
	if err != nil {
		s.manager.MarkError(session.ID, err)
		sub.enqueue(errorEvent(session.ID, err.Error()))
		return
	}
	go loop.run(ctx)

	sub.attach(session.ID)
	sub.enqueue(event(EvtStreamStarted, session.ID))
}

// newSource builds the configured sample source for a session.
func (s *Server) newSource(session *Session) (SampleSource, error) {
	switch s.cfg.Source.Type {
	case "device":
		return NewDeviceSource(s.cfg.Source.DevicePath, session.SampleRate), nil
	case "sim", "":
		src := NewSimSource(session.SampleRate)
		if s.cfg.Source.ToneOffset != 0 {
			src.ToneOffset = s.cfg.Source.ToneOffset
		}
		return src, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", s.cfg.Source.Type)
	}
}
