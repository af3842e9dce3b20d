package main

import "fmt"

// Inbound control message types.
const (
	CmdSubscribe      = "subscribe"
	CmdUnsubscribe    = "unsubscribe"
	CmdStartStream    = "start_stream"
	CmdStopStream     = "stop_stream"
	CmdStartRecording = "start_recording"
	CmdStopRecording  = "stop_recording"
	CmdPing           = "ping"
)

// Outbound event types.
const (
	EvtConnected        = "connected"
	EvtStreamStarted    = "stream_started"
	EvtStreamStopped    = "stream_stopped"
	EvtRecordingStarted = "recording_started"
	EvtRecordingStopped = "recording_stopped"
	EvtError            = "error"
	EvtStats            = "stats"
	EvtIQSamples        = "iq_samples"
	EvtFFTData          = "fft_data"
	EvtPong             = "pong"
)

// UnknownCommandError reports a control message with an unrecognized tag.
// Unknown commands are logged and answered with an error event; they never
// crash the registry.
type UnknownCommandError struct {
	Type string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Type)
}

// ClientMessage is the tagged control message read off a subscriber
// connection. All numeric fields are typed; validation happens at the
// boundary rather than downstream.
type ClientMessage struct {
	Type       string  `json:"type"`
	SessionID  string  `json:"sessionId,omitempty"`
	Frequency  float64 `json:"frequency,omitempty"`
	SampleRate float64 `json:"sampleRate,omitempty"`
	Gain       float64 `json:"gain,omitempty"`
	Antenna    string  `json:"antenna,omitempty"`
	Bandwidth  float64 `json:"bandwidth,omitempty"`
	Record     bool    `json:"record,omitempty"`
}

// Validate checks the tag and the per-command required fields.
func (m *ClientMessage) Validate() error {
	switch m.Type {
	case CmdSubscribe, CmdUnsubscribe, CmdStopStream, CmdStartRecording, CmdStopRecording:
		if m.SessionID == "" && m.Type != CmdUnsubscribe {
			return fmt.Errorf("%s: missing sessionId", m.Type)
		}
		return nil
	case CmdStartStream:
		if m.SampleRate <= 0 {
			return fmt.Errorf("start_stream: sample rate %f must be positive", m.SampleRate)
		}
		if m.Frequency < 0 {
			return fmt.Errorf("start_stream: negative frequency %f", m.Frequency)
		}
		return nil
	case CmdPing:
		return nil
	default:
		return &UnknownCommandError{Type: m.Type}
	}
}

// ServerMessage is the generic control/status event sent to subscribers.
type ServerMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// StatsMessage reports buffer occupancy and drop accounting.
type StatsMessage struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"sessionId"`
	BufferLevel float64 `json:"bufferLevel"` // ring utilization percent
	Dropped     uint64  `json:"dropped"`     // frames dropped on slow subscribers
	Overflows   uint64  `json:"overflows"`
}

// IQSamplesMessage carries a raw time-domain excerpt.
type IQSamplesMessage struct {
	Type       string    `json:"type"`
	SessionID  string    `json:"sessionId"`
	Samples    []float32 `json:"samples"`
	SampleRate float64   `json:"sampleRate"`
	CenterFreq float64   `json:"centerFreq"`
	Timestamp  int64     `json:"timestamp"` // unix milliseconds
}

// FFTDataMessage carries one spectral frame.
type FFTDataMessage struct {
	Type        string    `json:"type"`
	SessionID   string    `json:"sessionId"`
	Frequencies []float64 `json:"frequencies"`
	Magnitudes  []float64 `json:"magnitudes"`
	CenterFreq  float64   `json:"centerFreq"`
	SampleRate  float64   `json:"sampleRate"`
	Timestamp   int64     `json:"timestamp"` // unix milliseconds
}

func errorEvent(sessionID, msg string) ServerMessage {
	return ServerMessage{Type: EvtError, SessionID: sessionID, Error: msg}
}

func event(typ, sessionID string) ServerMessage {
	return ServerMessage{Type: typ, SessionID: sessionID}
}
