package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iqhub/pkg/ringbuf"
)

// ErrSessionNotFound is returned for operations on unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

type SessionStatus string

const (
	StatusActive  SessionStatus = "active"
	StatusStopped SessionStatus = "stopped"
	StatusError   SessionStatus = "error"
)

// SessionConfig carries the start_stream parameters plus ownership info.
type SessionConfig struct {
	UserID           string
	Device           string
	CenterFrequency  float64
	SampleRate       float64
	Gain             float64
	Antenna          string
	Bandwidth        float64
	RetentionSeconds float64
	Record           bool
}

// Session owns the state of one hardware-streaming session. Lifecycle
// transitions are serialized by mu; the ring buffer has a single writer
// (the session's ingest loop).
type Session struct {
	ID              string
	UserID          string
	Device          string
	CenterFrequency float64
	SampleRate      float64
	Gain            float64
	Antenna         string
	Bandwidth       float64
	StartTime       time.Time
	EndTime         *time.Time
	Status          SessionStatus
	SamplesRecorded uint64 // complex pairs
	Recording       bool
	Locations       *Handoff

	Ring *ringbuf.Buffer

	mu     sync.Mutex
	chunks [][]float32
	cancel context.CancelFunc
}

// SessionInfo is the lock-free serializable view of a Session.
type SessionInfo struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	Device          string        `json:"device"`
	CenterFrequency float64       `json:"center_frequency"`
	SampleRate      float64       `json:"sample_rate"`
	Gain            float64       `json:"gain"`
	Antenna         string        `json:"antenna,omitempty"`
	Bandwidth       float64       `json:"bandwidth,omitempty"`
	StartTime       time.Time     `json:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty"`
	Status          SessionStatus `json:"status"`
	SamplesRecorded uint64        `json:"samples_recorded"` // complex pairs
	Recording       bool          `json:"recording"`
	Locations       *Handoff      `json:"locations,omitempty"`
}

// snapshot copies the session fields under the session lock for safe
// JSON encoding while the ingest loop runs.
func (s *Session) snapshot() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := SessionInfo{
		ID:              s.ID,
		UserID:          s.UserID,
		Device:          s.Device,
		CenterFrequency: s.CenterFrequency,
		SampleRate:      s.SampleRate,
		Gain:            s.Gain,
		Antenna:         s.Antenna,
		Bandwidth:       s.Bandwidth,
		StartTime:       s.StartTime,
		Status:          s.Status,
		SamplesRecorded: s.SamplesRecorded,
		Recording:       s.Recording,
		Locations:       s.Locations,
	}
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	return out
}

// SessionManager owns all streaming sessions. It is constructed once at
// process start and passed to whatever owns the listener and the ingest
// loops.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    Store
	metrics  *Metrics

	sweepAge time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

func NewSessionManager(store Store, metrics *Metrics) *SessionManager {
	m := &SessionManager{
		sessions: make(map[string]*Session),
		store:    store,
		metrics:  metrics,
		sweepAge: 24 * time.Hour,
		done:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Close stops the background sweep.
func (m *SessionManager) Close() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Create allocates a new active session. The recording accumulator is
// only allocated when recording was requested.
func (m *SessionManager) Create(cfg SessionConfig) (*Session, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %f", cfg.SampleRate)
	}
	retention := cfg.RetentionSeconds
	if retention <= 0 {
		retention = 1
	}

	ring, err := ringbuf.New(cfg.SampleRate, retention)
	if err != nil {
		return nil, fmt.Errorf("allocate ring buffer: %w", err)
	}

	s := &Session{
		ID:              uuid.New().String(),
		UserID:          cfg.UserID,
		Device:          cfg.Device,
		CenterFrequency: cfg.CenterFrequency,
		SampleRate:      cfg.SampleRate,
		Gain:            cfg.Gain,
		Antenna:         cfg.Antenna,
		Bandwidth:       cfg.Bandwidth,
		StartTime:       time.Now(),
		Status:          StatusActive,
		Recording:       cfg.Record,
		Ring:            ring,
	}
	if cfg.Record {
		s.chunks = make([][]float32, 0, 16)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.updateActiveGauge()

	log.Printf("Session %s created (device %s, %.3f MHz, %.2f MS/s)", s.ID, s.Device, s.CenterFrequency/1e6, s.SampleRate/1e6)
	return s, nil
}

// updateActiveGauge recounts active sessions for the metrics gauge.
func (m *SessionManager) updateActiveGauge() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	n := 0
	for _, s := range m.sessions {
		s.mu.Lock()
		if s.Status == StatusActive {
			n++
		}
		s.mu.Unlock()
	}
	m.mu.RUnlock()
	m.metrics.ActiveSessions.Set(float64(n))
}

// Get looks up a session by id.
func (m *SessionManager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns a snapshot of all sessions.
func (m *SessionManager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

// AddRecordingSamples appends a chunk to the session's accumulator. It is
// a no-op unless the session is active and recording. The recorded count
// advances by the chunk's complex pair count.
func (m *SessionManager) AddRecordingSamples(id string, chunk SampleChunk) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusActive || !s.Recording {
		return nil
	}
	s.chunks = append(s.chunks, chunk.Samples)
	s.SamplesRecorded += uint64(chunk.Pairs())
	return nil
}

// StartRecording enables the accumulator on an active session.
func (m *SessionManager) StartRecording(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status != StatusActive {
		return fmt.Errorf("session %s is %s, not active", id, s.Status)
	}
	if !s.Recording {
		s.Recording = true
		if s.chunks == nil {
			s.chunks = make([][]float32, 0, 16)
		}
	}
	return nil
}

// StopRecording disables further accumulation. Captured chunks stay in
// memory until the session stops and flushes.
func (m *SessionManager) StopRecording(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Recording = false
	return nil
}

// Stop transitions the session to stopped, stamps the end time, and
// flushes any recorded chunks to the storage collaborator. A failed
// handoff is reported but leaves the accumulator intact for retry; the
// session still stops. The session lock serializes Stop against a
// concurrent Stop or Delete, so a stop arriving mid-flush waits for the
// flush outcome.
func (m *SessionManager) Stop(id string) (*Handoff, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	defer m.updateActiveGauge()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status == StatusActive {
		s.Status = StatusStopped
		now := time.Now()
		s.EndTime = &now
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}

	if s.Locations != nil {
		return s.Locations, nil
	}
	return m.flushLocked(s)
}

// Flush retries the storage handoff for a stopped session whose previous
// flush failed.
func (m *SessionManager) Flush(id string) (*Handoff, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Locations != nil {
		return s.Locations, nil
	}
	return m.flushLocked(s)
}

// flushLocked concatenates the accumulated chunks and hands them to the
// storage collaborator. Caller holds s.mu. No handoff happens when
// nothing was captured. The accumulator is released only after a
// confirmed handoff.
func (m *SessionManager) flushLocked(s *Session) (*Handoff, error) {
	if len(s.chunks) == 0 {
		return nil, nil
	}

	total := 0
	for _, c := range s.chunks {
		total += len(c)
	}
	samples := make([]float32, 0, total)
	for _, c := range s.chunks {
		samples = append(samples, c...)
	}

	meta := RecordingMeta{
		Datatype:        "cf32_le",
		SampleRate:      s.SampleRate,
		Device:          s.Device,
		CaptureStart:    s.StartTime,
		CenterFrequency: s.CenterFrequency,
		Author:          s.UserID,
	}

	key := RecordingKey(s.UserID, s.ID)
	if m.store == nil {
		err := &StorageHandoffError{Key: key, Err: errors.New("no storage configured")}
		log.Printf("Session %s: %v (accumulator retained)", s.ID, err)
		return nil, err
	}
	handoff, err := m.store.PutRecording(key, meta, samples)
	if err != nil {
		var handoffErr *StorageHandoffError
		if !errors.As(err, &handoffErr) {
			err = &StorageHandoffError{Key: key, Err: err}
		}
		log.Printf("Session %s: %v (accumulator retained)", s.ID, err)
		return nil, err
	}

	s.chunks = nil
	s.Locations = handoff
	log.Printf("Session %s: recording flushed to %s (%d samples)", s.ID, handoff.DataLocation, total/2)
	return handoff, nil
}

// MarkError moves a session into the error state and stops its loop.
func (m *SessionManager) MarkError(id string, cause error) {
	s, err := m.Get(id)
	if err != nil {
		return
	}

	defer m.updateActiveGauge()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == StatusActive {
		s.Status = StatusError
		now := time.Now()
		s.EndTime = &now
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
	}
	log.Printf("Session %s entered error state: %v", id, cause)
}

// Delete removes a session immediately. Unflushed recording data is
// lost; delete means the operator no longer wants this session.
func (m *SessionManager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.chunks = nil
	s.mu.Unlock()
	m.updateActiveGauge()

	log.Printf("Session %s deleted", id)
	return nil
}

// setCancel attaches the ingest loop's cancel function.
func (s *Session) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (m *SessionManager) sweepLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweepOnce(time.Now())
		}
	}
}

// sweepOnce removes sessions that are stopped or errored and older than
// the retention age.
func (m *SessionManager) sweepOnce(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		s.mu.Lock()
		expired := (s.Status == StatusStopped || s.Status == StatusError) &&
			s.EndTime != nil && now.Sub(*s.EndTime) > m.sweepAge
		s.mu.Unlock()

		if expired {
			delete(m.sessions, id)
			log.Printf("Session %s swept after retention window", id)
		}
	}
}
