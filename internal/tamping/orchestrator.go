// Package tamping turns the telemetry recorded at a track position into a
// proceed/ignore decision from the external classifier, logs the decision
// into that position's instructions and publishes it to live subscribers.
package tamping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/trackscan/internal/broadcast"
	"github.com/banshee-data/trackscan/internal/db"
	"github.com/banshee-data/trackscan/internal/monitoring"
	"github.com/banshee-data/trackscan/internal/timeutil"
)

//go:generate mockgen -destination=mock_tamping_test.go -package=tamping -self_package=github.com/banshee-data/trackscan/internal/tamping github.com/banshee-data/trackscan/internal/tamping Store,Classifier,Publisher,SpeedAdvisor

// Store is the part of the point store the orchestrator needs.
type Store interface {
	LatestPointAt(ctx context.Context, pt float64) (*db.Point, error)
	AppendInstructions(ctx context.Context, pt float64, entries []db.Entry) (*db.Point, bool, error)
	DecisionScores(ctx context.Context) ([]db.DecisionAudit, error)
}

// Publisher hands events to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, e broadcast.Event) error
}

// SpeedAdvisor receives the classifier's suggested analysis speed.
type SpeedAdvisor interface {
	MaybeApplySuggestedSpeed(suggested *float64) bool
}

// Result is what Decide returns: the classifier's response plus the position
// it was made for. Unrecognised response fields are carried in Extra and
// written back out alongside the named ones.
type Result struct {
	SampleID          string         `json:"sample_id"`
	Decision          db.PointStatus `json:"decision"`
	Score             float64        `json:"score"`
	Fallback          *bool          `json:"fallback,omitempty"`
	SuggestedSpeedKmh *float64       `json:"suggested_speed_kmh,omitempty"`
	Vector            []float64      `json:"vector,omitempty"`
	Pt                float64        `json:"pt"`

	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON merges Extra under the named fields. pt always comes from the
// request.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	b, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return b, err
	}

	var named map[string]json.RawMessage
	if err := json.Unmarshal(b, &named); err != nil {
		return nil, err
	}
	merged := make(map[string]json.RawMessage, len(r.Extra)+len(named))
	for k, v := range r.Extra {
		merged[k] = v
	}
	for k, v := range named {
		merged[k] = v
	}
	return json.Marshal(merged)
}

type Orchestrator struct {
	store      Store
	classifier Classifier
	publisher  Publisher
	advisor    SpeedAdvisor
	clock      timeutil.Clock
}

type Option func(*Orchestrator)

// WithSpeedAdvisor forwards suggested speeds after each logged decision.
func WithSpeedAdvisor(a SpeedAdvisor) Option {
	return func(o *Orchestrator) { o.advisor = a }
}

// WithClock replaces the wall clock used for envelope and audit timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// NewOrchestrator wires the decision flow. publisher may be nil, in which
// case nothing is published.
func NewOrchestrator(store Store, classifier Classifier, publisher Publisher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		classifier: classifier,
		publisher:  publisher,
		clock:      timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type snapshot struct {
	Alerts       []db.Entry `json:"alerts"`
	Instructions []db.Entry `json:"instructions"`
}

// Decide runs LOOKUP, REQUEST, LOG and PUBLISH for pt. A LOOKUP or REQUEST
// failure leaves the store untouched. A LOG failure is returned even though
// the classifier has already issued the sample. PUBLISH failures are logged
// and dropped.
func (o *Orchestrator) Decide(ctx context.Context, pt float64) (*Result, error) {
	if math.IsNaN(pt) || math.IsInf(pt, 0) {
		return nil, fmt.Errorf("%w: pt must be a finite number", ErrValidation)
	}

	// LOOKUP
	point, err := o.store.LatestPointAt(ctx, pt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLookup, err)
	}
	snap := snapshot{Alerts: []db.Entry{}, Instructions: []db.Entry{}}
	if point != nil {
		snap.Alerts = append(snap.Alerts, point.Alerts...)
		snap.Instructions = append(snap.Instructions, point.Instructions...)
	}
	label, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding snapshot: %v", ErrLookup, err)
	}

	// REQUEST
	env := Envelope{Alert: EnvelopeAlert{
		Type:      "tamping-decision",
		Pt:        pt,
		Alert:     SnapshotAlert{Label: string(label), Value: pt},
		Timestamp: broadcast.FormatTimestamp(o.clock.Now()),
	}}
	decision, err := o.classifier.RequestDecision(ctx, env)
	if err != nil {
		if errors.Is(err, ErrDecisionRequest) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDecisionRequest, err)
	}
	if err := checkDecision(decision); err != nil {
		return nil, err
	}

	// LOG
	loggedAt := broadcast.FormatTimestamp(o.clock.Now())
	fallback := decision.Fallback != nil && *decision.Fallback
	audit := db.Entry{
		Label: db.DecisionLabel,
		Value: decisionValue(decision.Decision),
		DecisionAudit: &db.DecisionAudit{
			Decision:  decision.Decision,
			Score:     decision.Score,
			Fallback:  fallback,
			Pt:        pt,
			Timestamp: loggedAt,
		},
	}
	if _, _, err := o.store.AppendInstructions(ctx, pt, []db.Entry{audit}); err != nil {
		return nil, fmt.Errorf("%w for sample %s at pt %v: %w", ErrPersistence, decision.SampleID, pt, err)
	}

	if o.advisor != nil && decision.SuggestedSpeedKmh != nil {
		if o.advisor.MaybeApplySuggestedSpeed(decision.SuggestedSpeedKmh) {
			monitoring.Logf("tamping: applied suggested speed %.2f km/h from sample %s", *decision.SuggestedSpeedKmh, decision.SampleID)
		}
	}

	// PUBLISH
	if o.publisher != nil {
		event := broadcast.DecisionEvent{
			Type:      "tamping-decision",
			SampleID:  decision.SampleID,
			Pt:        pt,
			Decision:  decision.Decision,
			Score:     decision.Score,
			Fallback:  fallback,
			Timestamp: loggedAt,
		}
		if err := o.publisher.Publish(ctx, event); err != nil {
			monitoring.Logf("tamping: publish of sample %s failed: %v", decision.SampleID, err)
		}
	}

	return &Result{
		SampleID:          decision.SampleID,
		Decision:          decision.Decision,
		Score:             decision.Score,
		Fallback:          decision.Fallback,
		SuggestedSpeedKmh: decision.SuggestedSpeedKmh,
		Vector:            decision.Vector,
		Pt:                pt,
		Extra:             decision.Extra,
	}, nil
}

// checkDecision catches verdicts a Classifier implementation let through
// that the audit log cannot store.
func checkDecision(d *Decision) error {
	switch {
	case d == nil:
		return fmt.Errorf("%w: empty decision", ErrDecisionRequest)
	case strings.TrimSpace(d.SampleID) == "":
		return fmt.Errorf("%w: decision has no sample id", ErrDecisionRequest)
	case !d.Decision.Valid():
		return fmt.Errorf("%w: unknown decision %q", ErrDecisionRequest, d.Decision)
	case math.IsNaN(d.Score) || math.IsInf(d.Score, 0):
		return fmt.Errorf("%w: non-finite score", ErrDecisionRequest)
	}
	return nil
}

func decisionValue(s db.PointStatus) float64 {
	if s == db.StatusProceed {
		return 1
	}
	return 0
}

// SubmitFeedback forwards a human label for an issued sample to the
// classifier. Only the label is checked locally.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, sampleID, label string) error {
	sampleID = strings.TrimSpace(sampleID)
	if sampleID == "" {
		return fmt.Errorf("%w: sampleId is required", ErrValidation)
	}
	status := db.PointStatus(label)
	if !status.Valid() {
		return fmt.Errorf("%w: label must be %s or %s", ErrValidation, db.StatusProceed, db.StatusIgnore)
	}

	err := o.classifier.SubmitFeedback(ctx, sampleID, status)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownSample), errors.Is(err, ErrDecisionRequest):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDecisionRequest, err)
	}
}
