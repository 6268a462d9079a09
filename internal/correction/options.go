package correction

import "github.com/example/skin-analysis/internal/demographics"

// AgeRanges are the age buckets offered for correction.
var AgeRanges = []string{"0-9", "10-19", "20-29", "30-39", "40-49", "50-59", "60-69", "70+"}

// Option is one candidate label. Race options carry the prediction's
// confidence for that label.
type Option struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Options lists the candidates for each category.
type Options struct {
	Race []Option `json:"race"`
	Age  []Option `json:"age"`
	Sex  []Option `json:"sex"`
}

// OptionsFor builds the candidates for rec. Races come from the record's
// distribution in its order. The record's own age is appended when it falls
// outside AgeRanges so the current value is always selectable.
func OptionsFor(rec *demographics.Record) Options {
	var opts Options
	if rec == nil {
		rec = &demographics.Record{}
	}
	for _, rc := range rec.RaceConfidences {
		conf := rc.Confidence
		opts.Race = append(opts.Race, Option{Label: rc.Race, Confidence: &conf})
	}
	opts.Age = labels(AgeRanges)
	if rec.Age != "" && !contains(AgeRanges, rec.Age) {
		opts.Age = append(opts.Age, Option{Label: rec.Age})
	}
	opts.Sex = labels([]string{demographics.SexMale, demographics.SexFemale})
	return opts
}

func labels(values []string) []Option {
	out := make([]Option, len(values))
	for i, v := range values {
		out[i] = Option{Label: v}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
