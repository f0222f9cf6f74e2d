package api

import (
	"errors"
	"math"
	"net/http"

	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/httputil"
	"github.com/banshee-data/trackscan/internal/monitoring"
	"github.com/banshee-data/trackscan/internal/speed"
	"github.com/banshee-data/trackscan/internal/tamping"
)

// writeError maps a domain error onto its HTTP status. Order matters: a
// persistence failure may wrap a store conflict but is still reported as a
// failed decision log.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tamping.ErrValidation),
		errors.Is(err, db.ErrInvalidEntry),
		errors.Is(err, speed.ErrNonFiniteSpeed):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, tamping.ErrUnknownSample):
		httputil.NotFound(w, "Unknown sample id")
	case errors.Is(err, tamping.ErrDecisionRequest):
		monitoring.Logf("api: upstream failure: %v", err)
		httputil.BadGateway(w, err.Error())
	case errors.Is(err, tamping.ErrPersistence), errors.Is(err, tamping.ErrLookup):
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, err.Error())
	case errors.Is(err, db.ErrConflict):
		httputil.Conflict(w, err.Error())
	default:
		monitoring.Logf("api: %v", err)
		httputil.InternalServerError(w, "Internal server error")
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
