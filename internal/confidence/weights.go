package confidence

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Weight is one raw, unnormalized score for a label.
type Weight struct {
	Label string
	Value float64
}

// Weights keeps raw scores in their original enumeration order. Order is
// what breaks ties, so JSON objects are decoded key by key.
type Weights []Weight

// UnmarshalJSON decodes a JSON object of label -> number preserving key order.
func (w *Weights) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("weights: expected object, got %v", tok)
	}

	out := Weights{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("weights: expected string key, got %v", keyTok)
		}
		var value float64
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("weights: label %q: %w", label, err)
		}
		out = append(out, Weight{Label: label, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*w = out
	return nil
}

// Top returns the entry with the single highest value. The first seen
// entry wins a tie.
func (w Weights) Top() (Weight, bool) {
	if len(w) == 0 {
		return Weight{}, false
	}
	best := w[0]
	for _, candidate := range w[1:] {
		if candidate.Value > best.Value {
			best = candidate
		}
	}
	return best, true
}
