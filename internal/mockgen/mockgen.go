// Package mockgen synthesizes demographic records without calling the classifier.
package mockgen

import (
	"math/rand"
	"sync"
	"time"

	"github.com/example/skin-analysis/internal/confidence"
	"github.com/example/skin-analysis/internal/demographics"
)

const (
	minWeight = 10.0
	maxWeight = 40.0
)

// Generator draws plausible records from a seedable random source.
type Generator struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	categories demographics.Categories
	normalizer *confidence.Normalizer
	now        func() time.Time
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New builds a generator. A nil src seeds from the current time.
func New(categories demographics.Categories, normalizer *confidence.Normalizer, src rand.Source, opts ...Option) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	g := &Generator{
		rnd:        rand.New(src),
		categories: categories,
		normalizer: normalizer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RaceWeights draws one raw weight per race in [10, 40).
func (g *Generator) RaceWeights() confidence.Weights {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.raceWeightsLocked()
}

func (g *Generator) raceWeightsLocked() confidence.Weights {
	weights := make(confidence.Weights, len(g.categories.Races))
	for i, race := range g.categories.Races {
		weights[i] = confidence.Weight{
			Label: race,
			Value: confidence.Round(g.rnd.Float64()*(maxWeight-minWeight)+minWeight, confidence.DefaultPrecision),
		}
	}
	return weights
}

// Generate synthesizes a record tagged with source and the mock flag. Age
// and sex are drawn independently of race.
func (g *Generator) Generate(source demographics.Source) (*demographics.Record, error) {
	g.mu.Lock()
	weights := g.raceWeightsLocked()
	age := pick(g.rnd, g.categories.Ages)
	sex := pick(g.rnd, g.categories.Sexes)
	g.mu.Unlock()

	races, err := g.normalizer.Normalize(weights)
	if err != nil {
		return nil, err
	}

	rec := demographics.NewRecord(races, age, sex, source, g.now())
	rec.IsMockData = true
	return rec, nil
}

func pick(rnd *rand.Rand, labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return labels[rnd.Intn(len(labels))]
}
