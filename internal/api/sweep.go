package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/banshee-data/trackscan/internal/httputil"
	"github.com/banshee-data/trackscan/internal/sweep"
)

func (s *Server) getSweep(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.sweep.GetState())
}

// startSweep takes {start, step, limit?}. The sweep outlives the request.
func (s *Server) startSweep(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(w, r)
	if !ok {
		return
	}
	var req sweep.Request
	var err error
	if req.Start, err = parseNumber(body["start"]); err != nil {
		httputil.BadRequest(w, "start must be a number")
		return
	}
	if req.Step, err = parseNumber(body["step"]); err != nil {
		httputil.BadRequest(w, "step must be a number")
		return
	}
	if raw, ok := body["limit"]; ok {
		limit, err := parseNumber(raw)
		if err != nil || limit != float64(int(limit)) {
			httputil.BadRequest(w, "limit must be an integer")
			return
		}
		req.Limit = int(limit)
	}

	err = s.sweep.Start(context.WithoutCancel(r.Context()), req)
	switch {
	case errors.Is(err, sweep.ErrAlreadyRunning):
		httputil.Conflict(w, err.Error())
		return
	case err != nil:
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, s.sweep.GetState())
}

func (s *Server) stopSweep(w http.ResponseWriter, r *http.Request) {
	s.sweep.Stop()
	s.sweep.Wait()
	httputil.WriteJSONOK(w, s.sweep.GetState())
}
