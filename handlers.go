package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// REST handlers for session inspection and recording retrieval. The
// streaming plane is the websocket; this surface is for operators and
// post-capture tooling.

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.manager.List())
}

// handleSessionByID serves /api/sessions/{id} and
// /api/sessions/{id}/stats.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}

	session, err := s.manager.Get(id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch {
	case sub == "stats" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"buffer": session.Ring.Stats(),
		})

	case sub == "" && r.Method == http.MethodGet:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(session.snapshot())

	case sub == "" && r.Method == http.MethodDelete:
		if err := s.manager.Delete(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// handleRecordingRange serves a sample-addressed slice of a stored
// recording blob. Query parameters: key, datatype, offset, count.
func (s *Server) handleRecordingRange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fs, ok := s.store.(*FileStore)
	if !ok || fs == nil {
		http.Error(w, "recording storage unavailable", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	key := q.Get("key")
	datatype := q.Get("datatype")
	if datatype == "" {
		datatype = "cf32_le"
	}
	offset, err := strconv.ParseInt(q.Get("offset"), 10, 64)
	if err != nil {
		http.Error(w, "invalid offset", http.StatusBadRequest)
		return
	}
	count, err := strconv.ParseInt(q.Get("count"), 10, 64)
	if err != nil {
		http.Error(w, "invalid count", http.StatusBadRequest)
		return
	}

	data, err := fs.ReadRange(key, datatype, offset, count)
	if err != nil {
		var re *SampleRangeError
		if errors.As(err, &re) {
			http.Error(w, err.Error(), http.StatusRequestedRangeNotSatisfiable)
			return
		}
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}
