package server

import (
	"encoding/json"
	"net/http"
)

// healthResponse tells a load balancer the process is up and an operator
// whether chat requests can actually succeed.
type healthResponse struct {
	Status     string `json:"status"`
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
}

// handleHealth is a liveness probe. It always answers 200: a missing API
// key is a configuration problem, not a dead process, so it is reported in
// the body instead.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	resp := healthResponse{
		Status:     "ok",
		Provider:   s.cfg.Provider.Name,
		Configured: s.cfg.Provider.APIKey != "",
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.deps.Log.Debug().Err(err).Msg("write health response")
	}
}
