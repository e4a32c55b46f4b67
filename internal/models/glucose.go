// Package models contains data structures used throughout the application
package models

import (
	"math"
	"time"
)

// Reading is a single timestamped glucose measurement as the delta estimator sees it.
// Value is the raw sensor value used for plausibility filtering, Recalculated is the
// calibrated value used for the arithmetic.
type Reading struct {
	Value        float64 `json:"value"`        // mg/dL
	Recalculated float64 `json:"recalculated"` // mg/dL, calibrated
	Timestamp    int64   `json:"timestamp"`    // Unix timestamp in milliseconds
}

// Time returns the time of the reading
func (r Reading) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// GlucoseEntry represents a single glucose reading from Nightscout
type GlucoseEntry struct {
	ID        string `json:"_id"`
	SGV       int    `json:"sgv"`  // Sensor glucose value in mg/dL
	Date      int64  `json:"date"` // Unix timestamp in milliseconds
	DateStr   string `json:"dateString"`
	Trend     int    `json:"trend"`     // Trend direction (1-7)
	Direction string `json:"direction"` // Trend direction as string
	Device    string `json:"device"`
	Type      string `json:"type"`
	Mills     int64  `json:"mills"`
}

// Timestamp returns the entry time in milliseconds, preferring date over mills
func (g *GlucoseEntry) Timestamp() int64 {
	if g.Date != 0 {
		return g.Date
	}
	return g.Mills
}

// Time returns the time of the glucose entry
func (g *GlucoseEntry) Time() time.Time {
	return time.UnixMilli(g.Timestamp())
}

// Reading converts the entry into an estimator reading.
// Nightscout sgv entries carry no separate calibrated value, so both values are the sgv.
func (g *GlucoseEntry) Reading() Reading {
	v := float64(g.SGV)
	return Reading{
		Value:        v,
		Recalculated: v,
		Timestamp:    g.Timestamp(),
	}
}

// Readings converts a slice of entries, keeping their order
func Readings(entries []GlucoseEntry) []Reading {
	readings := make([]Reading, 0, len(entries))
	for i := range entries {
		readings = append(readings, entries[i].Reading())
	}
	return readings
}

// Direction names as used by Nightscout
const (
	DirectionDoubleUp      = "DoubleUp"
	DirectionSingleUp      = "SingleUp"
	DirectionFortyFiveUp   = "FortyFiveUp"
	DirectionFlat          = "Flat"
	DirectionFortyFiveDown = "FortyFiveDown"
	DirectionSingleDown    = "SingleDown"
	DirectionDoubleDown    = "DoubleDown"
	DirectionNotComputable = "NOT COMPUTABLE"
)

var directionArrows = map[string]string{
	DirectionDoubleUp:      "⇈",
	DirectionSingleUp:      "↑",
	DirectionFortyFiveUp:   "↗",
	DirectionFlat:          "→",
	DirectionFortyFiveDown: "↘",
	DirectionSingleDown:    "↓",
	DirectionDoubleDown:    "⇊",
	DirectionNotComputable: "?",
	"RATE OUT OF RANGE":    "⚠",
}

// ArrowForDirection returns the Unicode arrow for a direction name, or "-" if unknown
func ArrowForDirection(direction string) string {
	if arrow, ok := directionArrows[direction]; ok {
		return arrow
	}
	return "-"
}

// TrendArrow returns the Unicode arrow character for the trend
func (g *GlucoseEntry) TrendArrow() string {
	if g.Direction != "" {
		if arrow, ok := directionArrows[g.Direction]; ok {
			return arrow
		}
	}

	// Fallback to numeric trend
	numericArrows := map[int]string{
		1: "⇈",
		2: "↑",
		3: "↗",
		4: "→",
		5: "↘",
		6: "↓",
		7: "⇊",
	}

	if arrow, ok := numericArrows[g.Trend]; ok {
		return arrow
	}

	return "-"
}

// DirectionForDelta classifies a delta in mg/dL per 5 minutes into a Nightscout direction.
// Thresholds are 1, 2 and 3.5 mg/dL per minute.
func DirectionForDelta(delta float64) string {
	switch {
	case math.IsNaN(delta) || math.IsInf(delta, 0):
		return DirectionNotComputable
	case delta > 17.5:
		return DirectionDoubleUp
	case delta > 10:
		return DirectionSingleUp
	case delta > 5:
		return DirectionFortyFiveUp
	case delta >= -5:
		return DirectionFlat
	case delta >= -10:
		return DirectionFortyFiveDown
	case delta >= -17.5:
		return DirectionSingleDown
	default:
		return DirectionDoubleDown
	}
}

// DeltaStatus is the computed delta report for the current reading
type DeltaStatus struct {
	Value      int       `json:"value"`      // mg/dL
	Time       time.Time `json:"time"`       // Reading time
	Delta      float64   `json:"delta"`      // mg/dL per 5 minutes
	Direction  string    `json:"direction"`  // Direction derived from Delta
	Arrow      string    `json:"arrow"`      // Arrow character
	Method     string    `json:"method"`     // "none", "interpolated", "nearest", "zero_elapsed"
	Expected   float64   `json:"expected"`   // Value at the look-back target time
	Candidates int       `json:"candidates"` // Readings found in the search window
	Status     string    `json:"status"`     // "normal", "high", "low", "urgent_high", "urgent_low"
}

// ServerStatus represents the Nightscout server status
type ServerStatus struct {
	Status            string         `json:"status"`
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ServerTime        string         `json:"serverTime"`
	APIEnabled        bool           `json:"apiEnabled"`
	CareportalEnabled bool           `json:"careportalEnabled"`
	Head              string         `json:"head"`
	Settings          ServerSettings `json:"settings,omitempty"`
}

// ServerSettings contains Nightscout server settings
type ServerSettings struct {
	Units      string     `json:"units"`
	TimeFormat int        `json:"timeFormat"`
	Thresholds Thresholds `json:"thresholds,omitempty"`
}

// Thresholds contains glucose threshold settings
type Thresholds struct {
	BGHigh         int `json:"bgHigh"`
	BGLow          int `json:"bgLow"`
	BGTargetTop    int `json:"bgTargetTop"`
	BGTargetBottom int `json:"bgTargetBottom"`
}
