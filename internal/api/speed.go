package api

import (
	"net/http"

	"github.com/banshee-data/trackscan/internal/httputil"
)

func (s *Server) getSpeed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.speed.State())
}

// setSpeed switches to auto mode or applies manual speeds. Manual speeds
// always leave auto mode.
func (s *Server) setSpeed(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(w, r)
	if !ok {
		return
	}
	mode, _ := stringField(body, "mode")

	switch mode {
	case "auto":
		s.speed.SetAutoMode(true)
	case "manual":
		analysis, err := parseNumber(body["analysisSpeedKmh"])
		if err != nil {
			httputil.BadRequest(w, "analysisSpeedKmh must be provided as a number")
			return
		}
		var tamping *float64
		if raw, ok := body["tampingSpeedKmh"]; ok && string(raw) != "null" {
			v, err := parseNumber(raw)
			if err != nil {
				httputil.BadRequest(w, "tampingSpeedKmh must be a number")
				return
			}
			tamping = &v
		}
		if err := s.speed.SetManual(analysis, tamping); err != nil {
			s.writeError(w, err)
			return
		}
		s.speed.SetAutoMode(false)
	default:
		httputil.BadRequest(w, "mode must be either 'auto' or 'manual'")
		return
	}
	httputil.WriteJSONOK(w, s.speed.State())
}
