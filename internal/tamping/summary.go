package tamping

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/trackscan/internal/db"
)

// Summary describes every decision logged so far.
type Summary struct {
	Count        int     `json:"count"`
	Proceed      int     `json:"proceed"`
	Ignore       int     `json:"ignore"`
	Fallback     int     `json:"fallback"`
	ProceedRatio float64 `json:"proceedRatio"`
	MeanScore    float64 `json:"meanScore"`
	StdDevScore  float64 `json:"stdDevScore"`
	MedianScore  float64 `json:"medianScore"`
	P90Score     float64 `json:"p90Score"`
}

// Summary reads the decision audit log and aggregates it.
func (o *Orchestrator) Summary(ctx context.Context) (*Summary, error) {
	audits, err := o.store.DecisionScores(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	return Summarize(audits), nil
}

// Summarize aggregates audits. Statistics of an empty log are zero.
func Summarize(audits []db.DecisionAudit) *Summary {
	s := &Summary{Count: len(audits)}
	if s.Count == 0 {
		return s
	}

	scores := make([]float64, 0, len(audits))
	for _, a := range audits {
		switch a.Decision {
		case db.StatusProceed:
			s.Proceed++
		case db.StatusIgnore:
			s.Ignore++
		}
		if a.Fallback {
			s.Fallback++
		}
		scores = append(scores, a.Score)
	}
	sort.Float64s(scores)

	s.ProceedRatio = float64(s.Proceed) / float64(s.Count)
	s.MeanScore = stat.Mean(scores, nil)
	if len(scores) > 1 {
		s.StdDevScore = stat.StdDev(scores, nil)
	}
	s.MedianScore = stat.Quantile(0.5, stat.Empirical, scores, nil)
	s.P90Score = stat.Quantile(0.9, stat.Empirical, scores, nil)
	return s
}
