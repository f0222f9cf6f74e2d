package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/banshee-data/trackscan/internal/httputil"
)

func (s *Server) decide(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(w, r)
	if !ok {
		return
	}
	pt, err := parseNumber(body["pt"])
	if err != nil {
		httputil.BadRequest(w, "pt must be a number")
		return
	}

	res, err := s.decisions.Decide(r.Context(), pt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, res)
}

// feedback forwards a human label for an issued sample. Both sampleId and
// sample_id are accepted.
func (s *Server) feedback(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(w, r)
	if !ok {
		return
	}

	sampleID, ok := stringField(body, "sampleId", "sample_id")
	if !ok || strings.TrimSpace(sampleID) == "" {
		httputil.BadRequest(w, "sampleId must be a non-empty string")
		return
	}
	label, ok := stringField(body, "label")
	if !ok {
		httputil.BadRequest(w, "label must be PROCEED or IGNORE")
		return
	}

	if err := s.decisions.SubmitFeedback(r.Context(), sampleID, label); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "updated"})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.decisions.Summary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, sum)
}

// stringField returns the first of keys holding a JSON string.
func stringField(body map[string]json.RawMessage, keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := body[k]
		if !ok {
			continue
		}
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", false
		}
		return v, true
	}
	return "", false
}
