package web

import (
	"encoding/json"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/beatstore/app/beat"
	"github.com/umputun/beatstore/app/store"
)

// StatusResponse is the JSON response for /api/v1/status
type StatusResponse struct {
	Store     string             `json:"store"`
	Path      string             `json:"path"`
	Version   string             `json:"version"`
	Timezone  string             `json:"timezone"`
	UTC       bool               `json:"utc"`
	Count     int                `json:"count"`
	Running   int                `json:"running"`
	Entries   []beat.EntryStatus `json:"entries"`
	Timestamp time.Time          `json:"timestamp"`
}

// handleStatus returns store description and all entries, designed for CLI/jq consumption
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	meta := s.Store.Meta()
	entries := s.Scheduler.Status()
	resp := StatusResponse{
		Store:     s.Store.String(),
		Path:      s.Store.Path(),
		Version:   meta[store.KeyVersion],
		Timezone:  meta[store.KeyTimezone],
		UTC:       meta[store.KeyUTC] == "true",
		Count:     len(entries),
		Entries:   entries,
		Timestamp: time.Now(),
	}
	for _, e := range entries {
		if e.Running {
			resp.Running++
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleEntry returns a single entry by name
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	for _, e := range s.Scheduler.Status() {
		if e.Name == name {
			s.writeJSON(w, http.StatusOK, e)
			return
		}
	}
	s.writeJSONError(w, http.StatusNotFound, "entry not found")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[WARN] failed to encode JSON response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
