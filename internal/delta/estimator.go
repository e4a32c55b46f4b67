// Package delta estimates the short-horizon rate of change of a glucose series.
//
// The estimator interpolates the glucose value at a fixed look-back target time
// (current time minus Lookback) from the nearest valid readings on either side of it,
// and reports the change since then normalized to ReportInterval (mg/dL per 5 minutes
// with the defaults). When only one side of the target has a reading, the nearest one is
// used directly and the change is divided by the elapsed report intervals.
//
// Estimation is a pure function of its arguments. An Estimator holds no mutable state
// and is safe for concurrent use as long as its Observer is.
package delta

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/mrcode/nightscout-delta/internal/models"
)

// Default tunables
const (
	DefaultLookback        = 5 * time.Minute
	DefaultWindowHalfWidth = 150 * time.Second
	DefaultMinValidValue   = 39.0
	DefaultReportInterval  = 5 * time.Minute
	DefaultMinElapsed      = time.Minute
)

// IntervalMode selects how the one-sided elapsed time is expressed in report intervals
type IntervalMode int

const (
	// IntervalsFractional divides the elapsed time by ReportInterval exactly
	IntervalsFractional IntervalMode = iota
	// IntervalsTruncated counts whole report intervals only
	IntervalsTruncated
)

// ZeroElapsedPolicy decides what happens when the one-sided elapsed interval count is zero
type ZeroElapsedPolicy int

const (
	// ZeroElapsedNoData reports a delta of 0.0, the same as having no usable data
	ZeroElapsedNoData ZeroElapsedPolicy = iota
	// ZeroElapsedClamp raises any interval count below MinElapsed/ReportInterval to that floor
	ZeroElapsedClamp
)

// Params are the tunables of the estimator
type Params struct {
	// Lookback is the distance from the current reading to the target time
	Lookback time.Duration

	// WindowHalfWidth bounds the search window around the target time (inclusive)
	WindowHalfWidth time.Duration

	// MinValidValue excludes readings whose raw value is at or below it
	MinValidValue float64

	// ReportInterval is the unit the delta is normalized to
	ReportInterval time.Duration

	Intervals   IntervalMode
	ZeroElapsed ZeroElapsedPolicy

	// MinElapsed is the smallest elapsed time used under ZeroElapsedClamp
	MinElapsed time.Duration
}

// DefaultParams returns the standard 5-minute delta configuration
func DefaultParams() Params {
	return Params{
		Lookback:        DefaultLookback,
		WindowHalfWidth: DefaultWindowHalfWidth,
		MinValidValue:   DefaultMinValidValue,
		ReportInterval:  DefaultReportInterval,
		Intervals:       IntervalsFractional,
		ZeroElapsed:     ZeroElapsedNoData,
		MinElapsed:      DefaultMinElapsed,
	}
}

// Validate checks that the params can produce a finite delta
func (p Params) Validate() error {
	switch {
	case p.Lookback.Milliseconds() <= 0:
		return fmt.Errorf("lookback must be at least 1ms, got %v", p.Lookback)
	case p.WindowHalfWidth < 0:
		return fmt.Errorf("window half width must not be negative, got %v", p.WindowHalfWidth)
	case p.ReportInterval.Milliseconds() <= 0:
		return fmt.Errorf("report interval must be at least 1ms, got %v", p.ReportInterval)
	case p.MinElapsed <= 0:
		return fmt.Errorf("min elapsed must be positive, got %v", p.MinElapsed)
	case p.Intervals != IntervalsFractional && p.Intervals != IntervalsTruncated:
		return fmt.Errorf("unknown interval mode %d", p.Intervals)
	case p.ZeroElapsed != ZeroElapsedNoData && p.ZeroElapsed != ZeroElapsedClamp:
		return fmt.Errorf("unknown zero elapsed policy %d", p.ZeroElapsed)
	}
	return nil
}

// ParamsFromSettings converts the delta section of the settings file
func ParamsFromSettings(s models.DeltaSettings) (Params, error) {
	p := Params{
		Lookback:        s.Lookback,
		WindowHalfWidth: s.WindowHalfWidth,
		MinValidValue:   s.MinValidValue,
		ReportInterval:  s.ReportInterval,
		MinElapsed:      s.MinElapsed,
	}

	switch s.Intervals {
	case models.IntervalsFractional, "":
		p.Intervals = IntervalsFractional
	case models.IntervalsTruncated:
		p.Intervals = IntervalsTruncated
	default:
		return Params{}, fmt.Errorf("unknown interval mode %q", s.Intervals)
	}

	switch s.ZeroElapsed {
	case models.ZeroElapsedNoData, "":
		p.ZeroElapsed = ZeroElapsedNoData
	case models.ZeroElapsedClamp:
		p.ZeroElapsed = ZeroElapsedClamp
	default:
		return Params{}, fmt.Errorf("unknown zero elapsed policy %q", s.ZeroElapsed)
	}

	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

// Method tells which branch produced a Result
type Method int

const (
	// MethodNone means no reading qualified; the delta is 0.0
	MethodNone Method = iota
	// MethodInterpolated means readings on both sides of the target were weighted
	MethodInterpolated
	// MethodNearest means only one side had a reading
	MethodNearest
	// MethodZeroElapsed means the one-sided anchor was zero intervals from the current
	// reading and ZeroElapsedNoData applied; the delta is 0.0
	MethodZeroElapsed
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodInterpolated:
		return "interpolated"
	case MethodNearest:
		return "nearest"
	case MethodZeroElapsed:
		return "zero_elapsed"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Result is a delta together with how it was obtained
type Result struct {
	Delta  float64
	Method Method

	// Target is the look-back target time in milliseconds
	Target int64

	// Candidates is the number of readings inside the search window that passed the value filter
	Candidates int

	// Expected is the value the current reading was compared with:
	// the interpolated value at Target, or the one-sided anchor's recalculated value.
	Expected float64

	// Normalized interpolation weights, zero unless Method is MethodInterpolated
	WeightBefore float64
	WeightAfter  float64

	// Intervals is the elapsed report interval count, set for one-sided results
	Intervals float64
}

// Estimator computes deltas with fixed params
type Estimator struct {
	params   Params
	observer Observer
}

// Option configures an Estimator
type Option func(*Estimator)

// WithObserver sets the diagnostic sink. A nil observer is ignored.
func WithObserver(o Observer) Option {
	return func(e *Estimator) {
		if o != nil {
			e.observer = o
		}
	}
}

// New creates an Estimator after validating params
func New(params Params, opts ...Option) (*Estimator, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid delta params: %w", err)
	}

	e := &Estimator{
		params:   params,
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the estimator's params
func (e *Estimator) Params() Params {
	return e.params
}

var defaultEstimator = &Estimator{params: DefaultParams(), observer: NopObserver{}}

// Delta computes the delta with DefaultParams and no observer
func Delta(currentValue float64, currentTime int64, readings []models.Reading) float64 {
	return defaultEstimator.Estimate(currentValue, currentTime, readings).Delta
}

// Delta computes the delta per ReportInterval for the current reading
func (e *Estimator) Delta(currentValue float64, currentTime int64, readings []models.Reading) float64 {
	return e.Estimate(currentValue, currentTime, readings).Delta
}

// Estimate computes the delta for the current reading against readings, which may be
// in any order. It never fails: when nothing usable is near the target time the
// result is a 0.0 delta with MethodNone.
func (e *Estimator) Estimate(currentValue float64, currentTime int64, readings []models.Reading) Result {
	p := e.params
	target := currentTime - p.Lookback.Milliseconds()
	half := p.WindowHalfWidth.Milliseconds()
	windowStart, windowEnd := target-half, target+half

	// closest on each side: latest at or before target, earliest after it
	var before, after *models.Reading
	candidates := 0
	for i := range readings {
		r := &readings[i]
		if r.Timestamp < windowStart || r.Timestamp > windowEnd || r.Value <= p.MinValidValue {
			continue
		}
		candidates++

		if r.Timestamp <= target {
			if before == nil || r.Timestamp > before.Timestamp {
				before = r
			}
		} else if after == nil || r.Timestamp < after.Timestamp {
			after = r
		}
	}

	e.observer.Candidates(target, candidates)

	res := Result{Method: MethodNone, Target: target, Candidates: candidates}
	switch {
	case candidates == 0:
		return res
	case before != nil && after != nil:
		return e.interpolate(res, currentValue, *before, *after)
	case before != nil:
		return e.nearest(res, currentValue, currentTime, *before)
	default:
		return e.nearest(res, currentValue, currentTime, *after)
	}
}

func (e *Estimator) interpolate(res Result, currentValue float64, before, after models.Reading) Result {
	gapBefore := float64(absMillis(res.Target - before.Timestamp))
	gapAfter := float64(absMillis(after.Timestamp - res.Target))
	gapTotal := float64(absMillis(after.Timestamp - before.Timestamp))

	// The closer reading gets the larger weight. The weights already sum to one in exact
	// arithmetic; normalizing keeps rounding from biasing the expected value.
	weights := []float64{1 - gapBefore/gapTotal, 1 - gapAfter/gapTotal}
	floats.Scale(1/floats.Sum(weights), weights)

	expected := floats.Dot([]float64{before.Recalculated, after.Recalculated}, weights)
	scale := float64(e.params.ReportInterval) / float64(e.params.Lookback)

	res.Method = MethodInterpolated
	res.Expected = expected
	res.WeightBefore = weights[0]
	res.WeightAfter = weights[1]
	res.Delta = (currentValue - expected) * scale

	e.observer.Interpolated(before, after, res.WeightBefore, res.WeightAfter, expected, res.Delta)
	return res
}

func (e *Estimator) nearest(res Result, currentValue float64, currentTime int64, anchor models.Reading) Result {
	p := e.params
	elapsed := absMillis(currentTime - anchor.Timestamp)
	reportMs := p.ReportInterval.Milliseconds()

	var intervals float64
	if p.Intervals == IntervalsTruncated {
		intervals = float64(elapsed / reportMs)
	} else {
		intervals = float64(elapsed) / float64(reportMs)
	}

	res.Expected = anchor.Recalculated

	switch p.ZeroElapsed {
	case ZeroElapsedClamp:
		if minIntervals := float64(p.MinElapsed) / float64(p.ReportInterval); intervals < minIntervals {
			intervals = minIntervals
		}
	default:
		if intervals == 0 {
			res.Method = MethodZeroElapsed
			e.observer.Nearest(anchor, 0, 0)
			return res
		}
	}

	res.Method = MethodNearest
	res.Intervals = intervals
	res.Delta = (currentValue - anchor.Recalculated) / intervals

	e.observer.Nearest(anchor, intervals, res.Delta)
	return res
}

func absMillis(ms int64) int64 {
	if ms < 0 {
		return -ms
	}
	return ms
}
