// Package fusion combines multiple evidence signals into a single confidence
// score with an uncertainty estimate.
//
// Each evidence item carries a modality label, a value in [0,1], a weight,
// and an uncertainty in [0,1]. The fused confidence is the weighted average
// of values with each weight discounted by (1−uncertainty):
//
//	w'ᵢ           = weightᵢ × (1 − uncertaintyᵢ)
//	confidence    = Σ(valueᵢ × w'ᵢ) / Σw'ᵢ
//
// Identity law: fusing a single item with weight=1 and uncertainty=0 returns
// exactly its value.
//
// When modalities disagree — population variance of values exceeds the
// conflict threshold τ — the result is penalized by (1−ConflictPenalty) and
// flagged, so callers can surface low-agreement answers differently.
//
// The package also keeps a running calibration table (confidence range →
// observed accuracy) that external reporting reads to answer "when Muninn
// says 80%, how often is it right?".
package fusion

import (
	"fmt"
	"math"
	"sync"
)

// Config holds fusion tuning parameters.
type Config struct {
	// ConflictThreshold τ is the value-variance above which modalities are
	// considered to disagree.
	ConflictThreshold float64
	// ConflictPenalty is the fraction removed from the fused confidence on
	// conflict.
	ConflictPenalty float64
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		ConflictThreshold: 0.04,
		ConflictPenalty:   0.25,
	}
}

// ValidationError reports malformed evidence.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "fusion: invalid evidence: " + e.Reason
}

// Evidence is one signal contributing to a fused confidence.
type Evidence struct {
	// Modality names the signal source: "activation", "stored", "hebbian",
	// "temporal", ...
	Modality    string
	Value       float64 // ∈ [0,1]
	Weight      float64
	Uncertainty float64 // ∈ [0,1]
}

// Result is the outcome of fusing a set of evidence items.
type Result struct {
	FinalConfidence float64
	// Uncertainty is the weight mass lost to per-item uncertainty, ∈ [0,1].
	Uncertainty float64
	// PerModality maps modality → its contribution to the weighted sum.
	PerModality map[string]float64
	// Conflict is set when modality values disagreed beyond the threshold.
	Conflict bool
}

// Fuser fuses evidence with a fixed configuration.
type Fuser struct {
	config Config
}

// New creates a Fuser.
func New(config Config) *Fuser {
	return &Fuser{config: config}
}

// Fuse combines evidence into one confidence score.
//
// An empty evidence set, a value or uncertainty outside [0,1], or a negative
// weight is a validation error.
func (f *Fuser) Fuse(evidence []Evidence) (Result, error) {
	if len(evidence) == 0 {
		return Result{}, &ValidationError{Reason: "no evidence provided"}
	}

	var rawWeight, effWeight, weightedSum float64
	perModality := make(map[string]float64, len(evidence))

	for i, ev := range evidence {
		if ev.Value < 0 || ev.Value > 1 {
			return Result{}, &ValidationError{Reason: fmt.Sprintf("evidence[%d] value %v outside [0,1]", i, ev.Value)}
		}
		if ev.Uncertainty < 0 || ev.Uncertainty > 1 {
			return Result{}, &ValidationError{Reason: fmt.Sprintf("evidence[%d] uncertainty %v outside [0,1]", i, ev.Uncertainty)}
		}
		if ev.Weight < 0 {
			return Result{}, &ValidationError{Reason: fmt.Sprintf("evidence[%d] negative weight %v", i, ev.Weight)}
		}

		w := ev.Weight * (1 - ev.Uncertainty)
		rawWeight += ev.Weight
		effWeight += w
		contribution := ev.Value * w
		weightedSum += contribution
		perModality[ev.Modality] += contribution
	}

	if effWeight == 0 {
		// All weight discounted away: nothing to average, total uncertainty.
		return Result{Uncertainty: 1, PerModality: perModality}, nil
	}

	// Exact for the single-item identity case: value×w / w == value.
	confidence := weightedSum / effWeight

	uncertainty := 0.0
	if rawWeight > 0 {
		uncertainty = clamp01(1 - effWeight/rawWeight)
	}

	conflict := false
	if len(evidence) > 1 && valueVariance(evidence) > f.config.ConflictThreshold {
		conflict = true
		confidence *= 1 - f.config.ConflictPenalty
	}

	return Result{
		FinalConfidence: clamp01(confidence),
		Uncertainty:     uncertainty,
		PerModality:     perModality,
		Conflict:        conflict,
	}, nil
}

// valueVariance is the population variance of the evidence values, unweighted.
func valueVariance(evidence []Evidence) float64 {
	mean := 0.0
	for _, ev := range evidence {
		mean += ev.Value
	}
	mean /= float64(len(evidence))

	variance := 0.0
	for _, ev := range evidence {
		d := ev.Value - mean
		variance += d * d
	}
	return variance / float64(len(evidence))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// calibrationBins partitions [0,1] into fixed 0.1-wide confidence ranges.
const calibrationBins = 10

// Calibration tracks predicted confidence against observed task outcomes.
//
// Whenever a later task outcome confirms or refutes a past fused confidence,
// RecordOutcome updates the matching bin; Report exposes the table for
// external calibration reporting.
type Calibration struct {
	mu       sync.Mutex
	total    [calibrationBins]int64
	correct  [calibrationBins]int64
	sumPred  [calibrationBins]float64
}

// NewCalibration creates an empty calibration table.
func NewCalibration() *Calibration {
	return &Calibration{}
}

// RecordOutcome records whether a prediction at the given confidence turned
// out to be correct.
func (c *Calibration) RecordOutcome(predicted float64, correct bool) {
	bin := binFor(predicted)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.total[bin]++
	c.sumPred[bin] += predicted
	if correct {
		c.correct[bin]++
	}
}

// BinReport is one row of the calibration table.
type BinReport struct {
	RangeStart       float64 `json:"range_start"`
	RangeEnd         float64 `json:"range_end"`
	Samples          int64   `json:"samples"`
	MeanPredicted    float64 `json:"mean_predicted"`
	ObservedAccuracy float64 `json:"observed_accuracy"`
}

// Report returns the current table, one entry per confidence range. Empty
// bins are included with zero samples so callers can render a full curve.
func (c *Calibration) Report() []BinReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := make([]BinReport, calibrationBins)
	for i := 0; i < calibrationBins; i++ {
		report[i] = BinReport{
			RangeStart: float64(i) / calibrationBins,
			RangeEnd:   float64(i+1) / calibrationBins,
			Samples:    c.total[i],
		}
		if c.total[i] > 0 {
			report[i].MeanPredicted = c.sumPred[i] / float64(c.total[i])
			report[i].ObservedAccuracy = float64(c.correct[i]) / float64(c.total[i])
		}
	}
	return report
}

func binFor(predicted float64) int {
	bin := int(math.Floor(clamp01(predicted) * calibrationBins))
	if bin >= calibrationBins {
		bin = calibrationBins - 1
	}
	return bin
}
