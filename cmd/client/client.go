package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Minimal streaming client: starts a session, prints a handful of
// spectral frames, then stops the stream.
func main() {
	host := flag.String("host", "localhost:8080", "Server host:port")
	freq := flag.Float64("f", 100e6, "Center frequency in Hz")
	rate := flag.Float64("r", 2e6, "Sample rate in Hz")
	frames := flag.Int("n", 50, "Frames to receive before stopping")
	record := flag.Bool("record", false, "Record the session")
	flag.Parse()

	u := url.URL{Scheme: "ws", Host: *host, Path: "/ws", RawQuery: "user=client"}

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	c.WriteJSON(map[string]interface{}{
		"type":       "start_stream",
		"frequency":  *freq,
		"sampleRate": *rate,
		"record":     *record,
	})

	var sessionID string
	received := 0
	for received < *frames {
		_, raw, err := c.ReadMessage()
		if err != nil {
			log.Fatal("read:", err)
		}

		var msg struct {
			Type       string    `json:"type"`
			SessionID  string    `json:"sessionId"`
			Error      string    `json:"error"`
			Magnitudes []float64 `json:"magnitudes"`
			CenterFreq float64   `json:"centerFreq"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "ping":
			c.WriteJSON(map[string]interface{}{"type": "ping"})
		case "stream_started":
			sessionID = msg.SessionID
			log.Printf("Stream %s started", sessionID)
		case "fft_data":
			received++
			peak := -1000.0
			for _, m := range msg.Magnitudes {
				if m > peak {
					peak = m
				}
			}
			fmt.Printf("frame %d: %d bins, peak %.1f dB @ %.3f MHz\n", received, len(msg.Magnitudes), peak, msg.CenterFreq/1e6)
		case "error":
			log.Fatal("server error: ", msg.Error)
		}
	}

	if sessionID != "" {
		c.WriteJSON(map[string]interface{}{"type": "stop_stream", "sessionId": sessionID})
		time.Sleep(time.Second)
	}
}
