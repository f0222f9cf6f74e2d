package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/banshee-data/trackscan/internal/broadcast"
	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/httputil"
	"github.com/banshee-data/trackscan/internal/monitoring"
)

func (s *Server) listPoints(w http.ResponseWriter, r *http.Request) {
	points, err := s.db.ListPoints(r.Context())
	if err != nil {
		s.writeError(w, fmt.Errorf("failed to list points: %w", err))
		return
	}
	httputil.WriteJSONOK(w, points)
}

func (s *Server) getPoint(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		httputil.BadRequest(w, "Invalid point id")
		return
	}
	p, err := s.db.GetPoint(r.Context(), id)
	if err != nil {
		s.writeError(w, fmt.Errorf("failed to get point %d: %w", id, err))
		return
	}
	if p == nil {
		httputil.NotFound(w, "Point not found")
		return
	}
	httputil.WriteJSONOK(w, p)
}

// fetchPoint returns the newest record at a position.
func (s *Server) fetchPoint(w http.ResponseWriter, r *http.Request) {
	pt, err := strconv.ParseFloat(mux.Vars(r)["pt"], 64)
	if err != nil || !isFinite(pt) {
		httputil.BadRequest(w, "pt must be a number")
		return
	}
	p, err := s.db.LatestPointAt(r.Context(), pt)
	if err != nil {
		s.writeError(w, fmt.Errorf("failed to fetch point at %v: %w", pt, err))
		return
	}
	if p == nil {
		httputil.NotFound(w, "Point not found")
		return
	}
	httputil.WriteJSONOK(w, p)
}

func (s *Server) createPoint(w http.ResponseWriter, r *http.Request) {
	body, ok := readObject(w, r)
	if !ok {
		return
	}

	pt, err := parseNumber(body["pt"])
	if err != nil {
		httputil.BadRequest(w, "pt "+err.Error())
		return
	}
	in := db.Point{Pt: pt}

	if raw, ok := body["alerts"]; ok {
		if in.Alerts, err = parseEntryList(raw); err != nil {
			httputil.BadRequest(w, fieldError("alerts", err))
			return
		}
	}
	if raw, ok := body["instructions"]; ok {
		if in.Instructions, err = parseEntryList(raw); err != nil {
			httputil.BadRequest(w, fieldError("instructions", err))
			return
		}
	}
	if raw, ok := body["status"]; ok {
		st, err := parseStatus(raw)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		in.Status = st
	}

	created, err := s.db.CreatePoint(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Server) updatePoint(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		httputil.BadRequest(w, "Invalid point id")
		return
	}
	body, ok := readObject(w, r)
	if !ok {
		return
	}

	var patch db.PointPatch
	if raw, ok := body["pt"]; ok {
		pt, err := parseNumber(raw)
		if err != nil {
			httputil.BadRequest(w, "pt "+err.Error())
			return
		}
		patch.Pt = &pt
	}
	if raw, ok := body["alerts"]; ok {
		alerts, err := parseEntryList(raw)
		if err != nil {
			httputil.BadRequest(w, fieldError("alerts", err))
			return
		}
		patch.Alerts = &alerts
	}
	if raw, ok := body["instructions"]; ok {
		instructions, err := parseEntryList(raw)
		if err != nil {
			httputil.BadRequest(w, fieldError("instructions", err))
			return
		}
		patch.Instructions = &instructions
	}
	if raw, ok := body["status"]; ok {
		st, err := parseStatus(raw)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		patch.Status = &st
	}
	if patch.IsEmpty() {
		httputil.BadRequest(w, "No fields provided to update")
		return
	}

	updated, err := s.db.UpdatePoint(r.Context(), id, patch)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if updated == nil {
		httputil.NotFound(w, "Point not found")
		return
	}
	httputil.WriteJSONOK(w, updated)
}

func (s *Server) deletePoint(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(mux.Vars(r)["id"])
	if !ok {
		httputil.BadRequest(w, "Invalid point id")
		return
	}
	deleted, err := s.db.DeletePoint(r.Context(), id)
	if err != nil {
		s.writeError(w, fmt.Errorf("failed to delete point %d: %w", id, err))
		return
	}
	if !deleted {
		httputil.NotFound(w, "Point not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// appendAlerts merges alerts into the position's record and announces each
// one on the alerts stream.
func (s *Server) appendAlerts(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAppend(w, r, "alerts", alertKeys)
	if !ok {
		return
	}
	p, created, err := s.db.AppendAlerts(r.Context(), req.Pt, req.Entries)
	if err != nil {
		s.writeError(w, err)
		return
	}

	now := s.now()
	for _, e := range req.Entries {
		if err := s.hub.Publish(r.Context(), broadcast.NewAlertEvent(req.Pt, e, now)); err != nil {
			monitoring.Logf("api: publish alert %q at %v failed: %v", e.Label, req.Pt, err)
		}
	}
	writeAppended(w, p, created)
}

func (s *Server) appendInstructions(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAppend(w, r, "instructions", instructionKeys)
	if !ok {
		return
	}
	p, created, err := s.db.AppendInstructions(r.Context(), req.Pt, req.Entries)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeAppended(w, p, created)
}

func (s *Server) readAppend(w http.ResponseWriter, r *http.Request, field string, keys []string) (*appendRequest, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		httputil.BadRequest(w, "Failed to read request body")
		return nil, false
	}
	req, err := decodeAppendRequest(body, field, keys)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	return req, true
}

func writeAppended(w http.ResponseWriter, p *db.Point, created bool) {
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, p)
}

// readObject decodes a JSON object body, writing a 400 on failure.
func readObject(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, bool) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil || body == nil {
		httputil.BadRequest(w, "body must be a JSON object")
		return nil, false
	}
	return body, true
}

func parseStatus(raw json.RawMessage) (db.PointStatus, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if st, err := db.ParseStatus(s); err == nil {
			return st, nil
		}
	}
	return "", errors.New("status must be either IGNORE or PROCEED")
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// fieldError prefixes a list parse failure with the field it came from.
func fieldError(field string, err error) string {
	var ee *entryError
	if errors.As(err, &ee) {
		return field + ": " + ee.Error()
	}
	return field + " " + err.Error()
}
