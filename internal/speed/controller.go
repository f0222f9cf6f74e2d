// Package speed owns the scan speed state: the analysis and tamping speeds in
// km/h, the auto/manual mode flag, and the sampling cadence derived from them.
//
// A Controller is an ordinary value owned by whoever constructs it; the API
// server, the decision orchestrator and the sweep driver share one instance by
// pointer. Every mutation re-applies the clamp so that
//
//	MinKmh <= TampingSpeedKmh <= AnalysisSpeedKmh <= MaxKmh
//
// holds after each call, whatever the interleaving of writers.
package speed

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	// TampingRatio is the share of the analysis speed used for tamping when no
	// explicit tamping speed is given.
	TampingRatio = 0.9

	// MinInterval is the shortest cadence ever returned, however fast the
	// configured speed.
	MinInterval = 10 * time.Millisecond

	// DefaultFallbackInterval is used when the configured speed cannot produce
	// an interval.
	DefaultFallbackInterval = 2000 * time.Millisecond
)

// ErrNonFiniteSpeed is returned when a manual speed is NaN or infinite.
var ErrNonFiniteSpeed = errors.New("speed must be a finite number")

// Limits bounds the speeds and fixes the physical distance between two
// consecutive positions.
type Limits struct {
	MinKmh        float64
	MaxKmh        float64
	SegmentMeters float64
}

// DefaultLimits matches the stock deployment: 0.5 to 6 km/h over 0.6 m
// segments.
func DefaultLimits() Limits {
	return Limits{MinKmh: 0.5, MaxKmh: 6, SegmentMeters: 0.6}
}

// Validate checks that the limits describe a usable range.
func (l Limits) Validate() error {
	if !isFinite(l.MinKmh) || !isFinite(l.MaxKmh) || !isFinite(l.SegmentMeters) {
		return fmt.Errorf("speed limits must be finite: %+v", l)
	}
	if l.MinKmh <= 0 {
		return fmt.Errorf("minimum speed must be positive, got %v", l.MinKmh)
	}
	if l.MaxKmh < l.MinKmh {
		return fmt.Errorf("maximum speed %v is below minimum %v", l.MaxKmh, l.MinKmh)
	}
	if l.SegmentMeters <= 0 {
		return fmt.Errorf("segment distance must be positive, got %v", l.SegmentMeters)
	}
	return nil
}

func (l Limits) clamp(v float64) float64 {
	return math.Min(l.MaxKmh, math.Max(l.MinKmh, v))
}

// State is a snapshot of the controller.
type State struct {
	AnalysisSpeedKmh float64 `json:"analysisSpeedKmh"`
	TampingSpeedKmh  float64 `json:"tampingSpeedKmh"`
	AutoMode         bool    `json:"autoMode"`
}

// Controller is the single authoritative speed state.
type Controller struct {
	limits Limits

	mu    sync.RWMutex
	state State

	analysisFallback time.Duration
	tampingFallback  time.Duration
}

// NewController builds a controller in manual mode. A non-finite
// defaultTamping is replaced by defaultAnalysis × TampingRatio.
func NewController(limits Limits, defaultAnalysis, defaultTamping float64) (*Controller, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if !isFinite(defaultAnalysis) {
		return nil, fmt.Errorf("default analysis speed: %w", ErrNonFiniteSpeed)
	}
	if !isFinite(defaultTamping) {
		defaultTamping = defaultAnalysis * TampingRatio
	}

	analysis := limits.clamp(defaultAnalysis)
	c := &Controller{
		limits: limits,
		state: State{
			AnalysisSpeedKmh: analysis,
			TampingSpeedKmh:  limits.clamp(math.Min(defaultTamping, analysis)),
		},
	}
	c.analysisFallback = IntervalForSpeed(limits.SegmentMeters, c.state.AnalysisSpeedKmh, DefaultFallbackInterval)
	c.tampingFallback = IntervalForSpeed(limits.SegmentMeters, c.state.TampingSpeedKmh, DefaultFallbackInterval)
	return c, nil
}

// Limits returns the bounds the controller clamps to.
func (c *Controller) Limits() Limits {
	return c.limits
}

// State returns a snapshot of the current speeds and mode.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// SetManual sets both speeds. A nil tamping defaults to analysis ×
// TampingRatio; the tamping speed is clamped and then capped at the analysis
// speed. The mode flag is left alone: callers switch to manual mode
// explicitly with SetAutoMode(false).
func (c *Controller) SetManual(analysis float64, tamping *float64) error {
	if !isFinite(analysis) {
		return fmt.Errorf("analysis speed: %w", ErrNonFiniteSpeed)
	}
	if tamping != nil && !isFinite(*tamping) {
		return fmt.Errorf("tamping speed: %w", ErrNonFiniteSpeed)
	}

	a := c.limits.clamp(analysis)
	t := a * TampingRatio
	if tamping != nil {
		t = *tamping
	}
	t = math.Min(c.limits.clamp(t), a)

	c.mu.Lock()
	c.state.AnalysisSpeedKmh = a
	c.state.TampingSpeedKmh = t
	c.mu.Unlock()
	return nil
}

// SetAutoMode flips the mode flag without touching the speeds.
func (c *Controller) SetAutoMode(enabled bool) {
	c.mu.Lock()
	c.state.AutoMode = enabled
	c.mu.Unlock()
}

// MaybeApplySuggestedSpeed steers the speeds from a classifier suggestion. It
// is a no-op unless auto mode is on and suggested is a finite number; it
// reports whether the state changed.
func (c *Controller) MaybeApplySuggestedSpeed(suggested *float64) bool {
	if suggested == nil || !isFinite(*suggested) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.AutoMode {
		return false
	}

	a := c.limits.clamp(*suggested)
	c.state.AnalysisSpeedKmh = a
	c.state.TampingSpeedKmh = c.limits.clamp(math.Min(a*TampingRatio, a))
	return true
}

// IntervalForSpeed is the package-level IntervalForSpeed bound to the
// controller's segment distance.
func (c *Controller) IntervalForSpeed(speedKmh float64, fallback time.Duration) time.Duration {
	return IntervalForSpeed(c.limits.SegmentMeters, speedKmh, fallback)
}

// AnalysisInterval is the cadence between position advances at the current
// analysis speed.
func (c *Controller) AnalysisInterval() time.Duration {
	return c.IntervalForSpeed(c.State().AnalysisSpeedKmh, c.analysisFallback)
}

// TampingInterval is the cadence between position advances at the current
// tamping speed.
func (c *Controller) TampingInterval() time.Duration {
	return c.IntervalForSpeed(c.State().TampingSpeedKmh, c.tampingFallback)
}

// IntervalForSpeed returns the time needed to cover one segment of
// segmentMeters at speedKmh, floored at MinInterval and capped at the largest
// Duration. A non-finite or non-positive speed returns fallback unchanged.
func IntervalForSpeed(segmentMeters, speedKmh float64, fallback time.Duration) time.Duration {
	if !isFinite(speedKmh) || speedKmh <= 0 {
		return fallback
	}

	hours := (segmentMeters / 1000) / speedKmh
	ns := hours * 3600 * 1000 * float64(time.Millisecond)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	interval := time.Duration(ns)
	if !(interval >= MinInterval) {
		return MinInterval
	}
	return interval
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
