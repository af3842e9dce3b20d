package main

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeStore captures handoffs in memory and can be told to fail.
type fakeStore struct {
	mu      sync.Mutex
	fail    bool
	puts    int
	lastKey string
	meta    RecordingMeta
	samples []float32
}

func (f *fakeStore) PutRecording(key string, meta RecordingMeta, samples []float32) (*Handoff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	if f.fail {
		return nil, errors.New("disk full")
	}
	f.lastKey = key
	f.meta = meta
	f.samples = append([]float32(nil), samples...)
	return &Handoff{DataLocation: key + ".cf32", MetaLocation: key + ".json"}, nil
}

func newTestManager(t *testing.T, store Store) *SessionManager {
	t.Helper()
	m := NewSessionManager(store, nil)
	t.Cleanup(m.Close)
	return m
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestManager(t, &fakeStore{})

	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 2e6})
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusActive {
		t.Fatalf("new session status = %s, want active", s.Status)
	}
	if s.ID == "" {
		t.Fatal("expected a generated session id")
	}

	if _, err := m.Stop(s.ID); err != nil {
		t.Fatal(err)
	}
	got := s.snapshot()
	if got.Status != StatusStopped {
		t.Errorf("status after stop = %s, want stopped", got.Status)
	}
	if got.EndTime == nil {
		t.Error("expected end time to be stamped")
	}

	// Stopping again is harmless.
	if _, err := m.Stop(s.ID); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestCreateRejectsBadSampleRate(t *testing.T) {
	m := newTestManager(t, &fakeStore{})
	if _, err := m.Create(SessionConfig{SampleRate: 0}); err == nil {
		t.Fatal("expected error for zero sample rate")
	}
	if _, err := m.Create(SessionConfig{SampleRate: -1e6}); err == nil {
		t.Fatal("expected error for negative sample rate")
	}
}

func TestRecordingAccumulation(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)

	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 2e6, Record: true})
	if err != nil {
		t.Fatal(err)
	}

	// Three chunks of 1000 complex pairs each.
	for i := 0; i < 3; i++ {
		chunk := SampleChunk{Samples: make([]float32, 2000)}
		if err := m.AddRecordingSamples(s.ID, chunk); err != nil {
			t.Fatal(err)
		}
	}
	if got := s.snapshot().SamplesRecorded; got != 3000 {
		t.Errorf("SamplesRecorded = %d, want 3000", got)
	}

	handoff, err := m.Stop(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if handoff == nil {
		t.Fatal("expected a storage handoff")
	}
	if len(store.samples) != 6000 {
		t.Errorf("stored %d floats, want 6000", len(store.samples))
	}
	if store.meta.Datatype != "cf32_le" {
		t.Errorf("meta datatype = %q, want cf32_le", store.meta.Datatype)
	}
	if store.meta.Author != "u1" {
		t.Errorf("meta author = %q, want u1", store.meta.Author)
	}
	if store.lastKey != "u1/recordings/"+s.ID {
		t.Errorf("storage key = %q", store.lastKey)
	}
}

func TestFlushFailureRetainsAccumulator(t *testing.T) {
	store := &fakeStore{fail: true}
	m := newTestManager(t, store)

	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 2e6, Record: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddRecordingSamples(s.ID, SampleChunk{Samples: make([]float32, 2000)}); err != nil {
		t.Fatal(err)
	}

	_, err = m.Stop(s.ID)
	var handoffErr *StorageHandoffError
	if !errors.As(err, &handoffErr) {
		t.Fatalf("Stop error = %v, want StorageHandoffError", err)
	}

	// The session still stopped and the data survived the failure.
	got := s.snapshot()
	if got.Status != StatusStopped {
		t.Errorf("status = %s, want stopped", got.Status)
	}
	if got.SamplesRecorded != 1000 {
		t.Errorf("SamplesRecorded = %d, want 1000", got.SamplesRecorded)
	}

	// Retry after the storage recovers.
	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()

	handoff, err := m.Flush(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if handoff == nil {
		t.Fatal("expected a handoff on retry")
	}
	if len(store.samples) != 2000 {
		t.Errorf("stored %d floats, want 2000", len(store.samples))
	}
}

// blockingStore parks inside PutRecording until released, exposing the
// window where a flush is in flight.
type blockingStore struct {
	entered chan struct{}
	release chan struct{}
	inner   fakeStore
}

func (b *blockingStore) PutRecording(key string, meta RecordingMeta, samples []float32) (*Handoff, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.inner.PutRecording(key, meta, samples)
}

func TestStopWaitsForInFlightFlush(t *testing.T) {
	store := &blockingStore{
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	m := newTestManager(t, store)

	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 2e6, Record: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddRecordingSamples(s.ID, SampleChunk{Samples: make([]float32, 2000)}); err != nil {
		t.Fatal(err)
	}

	first := make(chan *Handoff, 1)
	go func() {
		h, _ := m.Stop(s.ID)
		first <- h
	}()
	<-store.entered

	second := make(chan *Handoff, 1)
	go func() {
		h, _ := m.Stop(s.ID)
		second <- h
	}()

	// The racing stop must wait for the flush outcome, not return early.
	select {
	case <-second:
		t.Fatal("concurrent stop returned while the flush was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)

	h1 := <-first
	h2 := <-second
	if h1 == nil || h2 == nil {
		t.Fatalf("handoffs = %v, %v, want both non-nil", h1, h2)
	}
	if h1.DataLocation != h2.DataLocation {
		t.Errorf("stops observed different handoffs: %q vs %q", h1.DataLocation, h2.DataLocation)
	}

	store.inner.mu.Lock()
	puts := store.inner.puts
	store.inner.mu.Unlock()
	if puts != 1 {
		t.Errorf("store received %d puts, want exactly 1", puts)
	}
}

func TestStopWithoutRecordingSkipsHandoff(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)

	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6})
	if err != nil {
		t.Fatal(err)
	}
	handoff, err := m.Stop(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if handoff != nil {
		t.Errorf("handoff = %+v, want nil", handoff)
	}
	if store.puts != 0 {
		t.Errorf("store received %d puts, want 0", store.puts)
	}
}

func TestAddRecordingSamplesIgnoredWhenNotRecording(t *testing.T) {
	m := newTestManager(t, &fakeStore{})

	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.AddRecordingSamples(s.ID, SampleChunk{Samples: make([]float32, 100)}); err != nil {
		t.Fatal(err)
	}
	if got := s.snapshot().SamplesRecorded; got != 0 {
		t.Errorf("SamplesRecorded = %d, want 0", got)
	}

	// Recording can be toggled on mid-session.
	if err := m.StartRecording(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.AddRecordingSamples(s.ID, SampleChunk{Samples: make([]float32, 100)}); err != nil {
		t.Fatal(err)
	}
	if got := s.snapshot().SamplesRecorded; got != 50 {
		t.Errorf("SamplesRecorded = %d, want 50", got)
	}

	if err := m.StopRecording(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.AddRecordingSamples(s.ID, SampleChunk{Samples: make([]float32, 100)}); err != nil {
		t.Fatal(err)
	}
	if got := s.snapshot().SamplesRecorded; got != 50 {
		t.Errorf("SamplesRecorded after StopRecording = %d, want 50", got)
	}
}

func TestStartRecordingRequiresActive(t *testing.T) {
	m := newTestManager(t, &fakeStore{})
	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Stop(s.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.StartRecording(s.ID); err == nil {
		t.Fatal("expected error starting recording on a stopped session")
	}
}

func TestMarkErrorTransition(t *testing.T) {
	m := newTestManager(t, &fakeStore{})
	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6})
	if err != nil {
		t.Fatal(err)
	}

	m.MarkError(s.ID, errors.New("device unplugged"))
	got := s.snapshot()
	if got.Status != StatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
	if got.EndTime == nil {
		t.Error("expected end time on error")
	}
}

func TestDeleteRemovesSession(t *testing.T) {
	m := newTestManager(t, &fakeStore{})
	s, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6})
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after delete = %v, want ErrSessionNotFound", err)
	}
	if err := m.Delete(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second delete = %v, want ErrSessionNotFound", err)
	}
}

func TestSweepRemovesOldTerminalSessions(t *testing.T) {
	m := newTestManager(t, &fakeStore{})

	old, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6})
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6})
	if err != nil {
		t.Fatal(err)
	}
	active, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Stop(old.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Stop(fresh.ID); err != nil {
		t.Fatal(err)
	}

	// Age the first one past the retention window.
	past := time.Now().Add(-25 * time.Hour)
	old.mu.Lock()
	old.EndTime = &past
	old.mu.Unlock()

	m.sweepOnce(time.Now())

	if _, err := m.Get(old.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("aged session survived sweep: %v", err)
	}
	if _, err := m.Get(fresh.ID); err != nil {
		t.Errorf("recently stopped session swept: %v", err)
	}
	if _, err := m.Get(active.ID); err != nil {
		t.Errorf("active session swept: %v", err)
	}
}

func TestSnapshotEncodesExportedFields(t *testing.T) {
	m := newTestManager(t, &fakeStore{})
	s, err := m.Create(SessionConfig{UserID: "u1", Device: "sim", SampleRate: 2e6})
	if err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(s.snapshot())
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["id"] != s.ID || decoded["user_id"] != "u1" || decoded["status"] != "active" {
		t.Errorf("snapshot encoding = %s", data)
	}
	if _, ok := decoded["end_time"]; ok {
		t.Error("end_time should be omitted while the session is active")
	}
}

func TestListSnapshots(t *testing.T) {
	m := newTestManager(t, &fakeStore{})
	if n := len(m.List()); n != 0 {
		t.Fatalf("empty manager lists %d sessions", n)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Create(SessionConfig{UserID: "u1", SampleRate: 1e6}); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(m.List()); n != 3 {
		t.Errorf("List() returned %d sessions, want 3", n)
	}
}
