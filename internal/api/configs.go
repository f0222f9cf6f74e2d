package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/banshee-data/trackscan/internal/httputil"
)

func (s *Server) listConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.db.ListThresholds(r.Context())
	if err != nil {
		s.writeError(w, fmt.Errorf("failed to list configs: %w", err))
		return
	}
	httputil.WriteJSONOK(w, configs)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		httputil.BadRequest(w, "Invalid config id")
		return
	}
	cfg, err := s.db.GetThresholds(r.Context(), id)
	if err != nil {
		s.writeError(w, fmt.Errorf("failed to get config %d: %w", id, err))
		return
	}
	if cfg == nil {
		httputil.NotFound(w, "Config not found")
		return
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) upsertConfig(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(w, r)
	if !ok {
		return
	}
	confidence, err1 := parseNumber(body["confidenceThreshold"])
	urgent, err2 := parseNumber(body["urgentThreshold"])
	if err1 != nil || err2 != nil {
		httputil.BadRequest(w, "confidenceThreshold and urgentThreshold required")
		return
	}

	saved, err := s.db.UpsertThresholds(r.Context(), confidence, urgent)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, saved)
}
