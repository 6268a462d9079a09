package confidence

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeScalesFractions(t *testing.T) {
	n := NewNormalizer(DefaultPrecision)

	out, err := n.Normalize(Weights{{Label: "black", Value: 0.3}, {Label: "white", Value: 0.7}})
	require.NoError(t, err)

	assert.Equal(t, []CategoryConfidence{
		{Label: "white", Confidence: 70},
		{Label: "black", Confidence: 30},
	}, out)
}

func TestNormalizeScalesMagnitudes(t *testing.T) {
	n := NewNormalizer(DefaultPrecision)

	out, err := n.Normalize(Weights{{Label: "a", Value: 10}, {Label: "b", Value: 30}})
	require.NoError(t, err)

	assert.Equal(t, "b", out[0].Label)
	assert.InDelta(t, 75.0, out[0].Confidence, 1e-9)
	assert.InDelta(t, 25.0, out[1].Confidence, 1e-9)
}

func TestNormalizeKeepsInputOrderOnTies(t *testing.T) {
	n := NewNormalizer(DefaultPrecision)

	out, err := n.Normalize(Weights{
		{Label: "asian", Value: 20},
		{Label: "white", Value: 40},
		{Label: "black", Value: 20},
		{Label: "indian", Value: 20},
	})
	require.NoError(t, err)

	labels := make([]string, len(out))
	for i, c := range out {
		labels[i] = c.Label
	}
	assert.Equal(t, []string{"white", "asian", "black", "indian"}, labels)
}

func TestNormalizeRoundsHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 12.35, Round(12.345000001, 2))
	assert.Equal(t, 13.0, Round(12.5, 0))
	assert.Equal(t, -13.0, Round(-12.5, 0))
}

func TestNormalizeWholeNumberPrecision(t *testing.T) {
	n := NewNormalizer(0)

	out, err := n.Normalize(Weights{{Label: "a", Value: 1}, {Label: "b", Value: 2}})
	require.NoError(t, err)

	assert.Equal(t, 67.0, out[0].Confidence)
	assert.Equal(t, 33.0, out[1].Confidence)
}

func TestNormalizeRejectsEmptyInput(t *testing.T) {
	n := NewNormalizer(DefaultPrecision)

	_, err := n.Normalize(nil)
	var emptyErr *EmptyDistributionError
	require.ErrorAs(t, err, &emptyErr)

	_, err = n.Normalize(Weights{{Label: "a", Value: 0}, {Label: "b", Value: 0}})
	require.ErrorAs(t, err, &emptyErr)
}

func TestNormalizeRejectsNegativeWeights(t *testing.T) {
	n := NewNormalizer(DefaultPrecision)

	_, err := n.Normalize(Weights{{Label: "a", Value: 1}, {Label: "b", Value: -1}})
	var weightErr *InvalidWeightError
	require.ErrorAs(t, err, &weightErr)
	assert.Equal(t, "b", weightErr.Label)
}

func TestNormalizeDistributionProperties(t *testing.T) {
	n := NewNormalizer(DefaultPrecision)
	rnd := rand.New(rand.NewSource(42))

	for iteration := 0; iteration < 500; iteration++ {
		size := 1 + rnd.Intn(12)
		weights := make(Weights, size)
		for i := range weights {
			weights[i] = Weight{Label: string(rune('a' + i)), Value: rnd.Float64()*30 + 10}
		}

		out, err := n.Normalize(weights)
		require.NoError(t, err)
		require.Len(t, out, size)

		var sum float64
		for i, c := range out {
			assert.GreaterOrEqual(t, c.Confidence, 0.0)
			if i > 0 {
				assert.GreaterOrEqual(t, out[i-1].Confidence, c.Confidence)
			}
			sum += c.Confidence
		}
		assert.InDelta(t, 100.0, sum, Drift(size, DefaultPrecision)+1e-9)

		again, err := n.Normalize(weights)
		require.NoError(t, err)
		assert.Equal(t, out, again)
	}
}

func TestWeightsDecodePreservesKeyOrder(t *testing.T) {
	var w Weights
	require.NoError(t, json.Unmarshal([]byte(`{"30-39":0.5,"20-29":0.5,"40-49":0.1}`), &w))

	assert.Equal(t, Weights{
		{Label: "30-39", Value: 0.5},
		{Label: "20-29", Value: 0.5},
		{Label: "40-49", Value: 0.1},
	}, w)

	top, ok := w.Top()
	require.True(t, ok)
	assert.Equal(t, "30-39", top.Label)
}

func TestWeightsDecodeRejectsNonObjects(t *testing.T) {
	var w Weights
	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"a":"high"}`), &w))
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	assert.Equal(t, 3.0, Round(2.5, 0))
	assert.Equal(t, -3.0, Round(-2.5, 0))
	assert.Equal(t, 12.35, Round(12.345, 2))
	// 1.005 is stored as 1.00499999999999989...
	assert.Equal(t, 1.0, Round(1.005, 2))
}
