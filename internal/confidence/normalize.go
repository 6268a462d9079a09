// Package confidence turns raw per-label scores into percentage distributions.
package confidence

import (
	"fmt"
	"math"
	"sort"
)

// DefaultPrecision is the number of decimals kept after rounding.
const DefaultPrecision = 2

// fractionTolerance decides whether raw weights already form a probability
// distribution (classifier output) or are independent magnitudes.
const fractionTolerance = 1e-9

// CategoryConfidence is one label's share of a category, in [0, 100].
type CategoryConfidence struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// EmptyDistributionError is returned when there is nothing to normalize.
type EmptyDistributionError struct {
	Reason string
}

func (e *EmptyDistributionError) Error() string {
	return "empty distribution: " + e.Reason
}

// InvalidWeightError is returned for negative or non-finite raw weights.
type InvalidWeightError struct {
	Label string
	Value float64
}

func (e *InvalidWeightError) Error() string {
	return fmt.Sprintf("invalid weight %v for label %q", e.Value, e.Label)
}

// Normalizer scales raw weights to percentages rounded to a fixed precision.
//
// Rounded values are not re-adjusted, so the sum may drift from 100 by up to
// one rounding unit per extra category.
type Normalizer struct {
	precision int
}

// NewNormalizer builds a Normalizer. A negative precision selects DefaultPrecision.
func NewNormalizer(precision int) *Normalizer {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Normalizer{precision: precision}
}

// Normalize converts weights into a distribution sorted by descending
// confidence. Ties keep the input order.
func (n *Normalizer) Normalize(weights Weights) ([]CategoryConfidence, error) {
	if len(weights) == 0 {
		return nil, &EmptyDistributionError{Reason: "no categories"}
	}

	var sum float64
	for _, w := range weights {
		if math.IsNaN(w.Value) || math.IsInf(w.Value, 0) || w.Value < 0 {
			return nil, &InvalidWeightError{Label: w.Label, Value: w.Value}
		}
		sum += w.Value
	}
	if sum == 0 {
		return nil, &EmptyDistributionError{Reason: "weights carry no mass"}
	}

	scale := 100.0
	if math.Abs(sum-1) > fractionTolerance {
		scale = 100.0 / sum
	}

	out := make([]CategoryConfidence, len(weights))
	for i, w := range weights {
		out[i] = CategoryConfidence{
			Label:      w.Label,
			Confidence: Round(w.Value*scale, n.precision),
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}

// Round rounds v to the given number of decimals, half away from zero.
// Halves that binary floating point cannot represent exactly may round down,
// e.g. Round(1.005, 2) == 1.
func Round(v float64, precision int) float64 {
	factor := math.Pow(10, float64(precision))
	return math.Round(v*factor) / factor
}

// Drift is the largest accepted distance between a distribution's sum and 100.
func Drift(n, precision int) float64 {
	if n <= 1 {
		return 0
	}
	return float64(n-1) * math.Pow(10, -float64(precision))
}
