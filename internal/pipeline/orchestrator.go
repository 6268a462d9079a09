// Package pipeline runs one capture through encode, classify, fallback and
// persistence.
//
// Capture validation errors are returned to the caller. Classifier failures
// of any kind are absorbed by a synthesized record so the flow always
// reaches StateDone.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/skin-analysis/internal/classifier"
	"github.com/example/skin-analysis/internal/codec"
	"github.com/example/skin-analysis/internal/collector"
	"github.com/example/skin-analysis/internal/demographics"
	"github.com/example/skin-analysis/internal/logging"
	"github.com/example/skin-analysis/internal/mockgen"
	"github.com/example/skin-analysis/internal/repository"
	"github.com/example/skin-analysis/internal/store"
)

// DefaultSubmitTimeout bounds the wait on the classifier.
const DefaultSubmitTimeout = 30 * time.Second

var (
	// ErrBusy is returned when the session already has an attempt in flight.
	ErrBusy = errors.New("an analysis is already in progress for this session")
	// ErrCancelled is returned when the caller went away before the result
	// was persisted. Nothing is written in that case.
	ErrCancelled = errors.New("analysis attempt cancelled")
)

// Trigger gates the capture action of a session. semaphore.Weighted fits.
type Trigger interface {
	TryAcquire(n int64) bool
	Release(n int64)
}

// AnalysisRepository is the audit log used for metrics.
type AnalysisRepository interface {
	SaveLog(ctx context.Context, log *repository.AnalysisLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Capture is one user capture handed to the orchestrator.
type Capture struct {
	SessionID string
	Source    codec.Source
	Profile   *demographics.Profile
	Store     *store.Store
	Trigger   Trigger
	// OnTransition, when set, observes every state change.
	OnTransition func(State)
}

// Result is what the display layer receives once an attempt is done.
type Result struct {
	AttemptID      string               `json:"attempt_id"`
	Record         *demographics.Record `json:"record"`
	Photo          string               `json:"photo"`
	States         []State              `json:"states"`
	Fallback       bool                 `json:"fallback"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
}

// Orchestrator coordinates analysis attempts.
type Orchestrator struct {
	codec      *codec.Codec
	classifier classifier.Submitter
	mocks      *mockgen.Generator
	collector  collector.Sender
	repo       AnalysisRepository
	metrics    *Metrics
	timeout    time.Duration
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCollector sends the profile alongside each submission.
func WithCollector(c collector.Sender) Option {
	return func(o *Orchestrator) { o.collector = c }
}

// WithRepository records every finished attempt.
func WithRepository(repo AnalysisRepository) Option {
	return func(o *Orchestrator) { o.repo = repo }
}

// WithMetrics updates prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSubmitTimeout overrides DefaultSubmitTimeout.
func WithSubmitTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// New constructs an orchestrator.
func New(c *codec.Codec, submitter classifier.Submitter, mocks *mockgen.Generator, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		codec:      c,
		classifier: submitter,
		mocks:      mocks,
		timeout:    DefaultSubmitTimeout,
		logger:     logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Mocks exposes the fallback generator for screens that need a record
// without a capture.
func (o *Orchestrator) Mocks() *mockgen.Generator {
	return o.mocks
}

type attempt struct {
	id       string
	states   []State
	observer func(State)
}

func (a *attempt) move(to State) {
	if n := len(a.states); n > 0 && !CanTransition(a.states[n-1], to) {
		panic("pipeline: illegal transition " + string(a.states[n-1]) + " -> " + string(to))
	}
	a.states = append(a.states, to)
	if a.observer != nil {
		a.observer(to)
	}
}

type submission struct {
	record *demographics.Record
	err    error
}

// Analyze runs one capture to completion. Cancelling ctx while the classifier
// is pending detaches from it: the late answer is dropped and nothing is
// persisted.
func (o *Orchestrator) Analyze(ctx context.Context, capture Capture) (*Result, error) {
	if capture.Trigger != nil {
		if !capture.Trigger.TryAcquire(1) {
			o.metrics.observeOutcome("busy")
			return nil, ErrBusy
		}
		defer capture.Trigger.Release(1)
	}

	at := &attempt{id: uuid.NewString(), observer: capture.OnTransition}
	opLogger := logging.WithSession(logging.WithOperation(o.logger, "pipeline.analyze", at.id), capture.SessionID)
	at.move(StateIdle)

	img, err := o.codec.Encode(capture.Source)
	if err != nil {
		o.metrics.observeOutcome("rejected")
		opLogger.Info("capture rejected", zap.Error(err))
		return nil, err
	}
	at.move(StateCaptured)

	if o.collector != nil {
		profile := demographics.Profile{}
		if capture.Profile != nil {
			profile = *capture.Profile
		}
		o.collector.Send(profile, collector.TypeDataCollection, string(capture.Source.Origin))
	}

	at.move(StateSubmitting)
	started := time.Now()
	rec, submitErr := o.submit(ctx, img)
	wait := time.Since(started)
	o.metrics.observeWait(wait)

	if ctx.Err() != nil {
		o.metrics.observeOutcome("cancelled")
		opLogger.Info("attempt cancelled while submitting", zap.Error(ctx.Err()))
		return nil, ErrCancelled
	}

	result := &Result{AttemptID: at.id}
	if submitErr == nil {
		at.move(StateResultReady)
	} else {
		reason := fallbackReason(submitErr)
		opLogger.Warn("classifier unavailable, using mock record", zap.String("reason", reason), zap.Error(submitErr))
		rec, err = o.mocks.Generate(mockSource(capture.Source.Origin))
		if err != nil {
			return nil, logging.NewOperationError("pipeline.generate_mock", at.id, err)
		}
		var shapeErr *classifier.ShapeError
		if errors.As(submitErr, &shapeErr) {
			rec.APIMessage = shapeErr.Body
		}
		result.Fallback = true
		result.FallbackReason = reason
		o.metrics.observeFallback(reason)
		at.move(StateFallbackReady)
	}

	photo := codec.ToDisplayable(img)
	if capture.Store != nil {
		// The pair is written even if ctx is cancelled from here on, so no
		// reader ever sees one half without the other.
		if err := capture.Store.SaveAnalysis(context.WithoutCancel(ctx), rec, photo); err != nil {
			return nil, logging.NewOperationError("pipeline.persist", at.id, err)
		}
	}
	at.move(StatePersisted)

	result.Record = rec
	result.Photo = photo
	at.move(StateDone)
	result.States = at.states

	outcome := "api"
	if result.Fallback {
		outcome = "fallback"
	}
	o.metrics.observeOutcome(outcome)
	o.recordAttempt(at.id, capture, result, wait)
	opLogger.Info("analysis complete", zap.String("source", string(rec.Source)), zap.Bool("mock", rec.IsMockData))
	return result, nil
}

// submit waits on the classifier for at most o.timeout. The call runs in its
// own goroutine so a caller that stops waiting is never blocked by a
// submitter that ignores its context.
func (o *Orchestrator) submit(ctx context.Context, img codec.EncodedImage) (*demographics.Record, error) {
	submitCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan submission, 1)
	go func() {
		rec, err := o.classifier.Submit(submitCtx, img)
		done <- submission{record: rec, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil && res.record == nil {
			return nil, &classifier.ShapeError{Reason: "empty result"}
		}
		return res.record, res.err
	case <-submitCtx.Done():
		return nil, submitCtx.Err()
	}
}

func (o *Orchestrator) recordAttempt(attemptID string, capture Capture, result *Result, wait time.Duration) {
	if o.repo == nil {
		return
	}
	log := &repository.AnalysisLog{
		AttemptID:     attemptID,
		SessionID:     capture.SessionID,
		Origin:        string(capture.Source.Origin),
		Source:        string(result.Record.Source),
		IsMock:        result.Record.IsMockData,
		Confidence:    result.Record.ConfidenceScore,
		FailureReason: result.FallbackReason,
		LatencyMs:     wait.Milliseconds(),
		CreatedAt:     time.Now().UTC(),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.repo.SaveLog(ctx, log); err != nil {
			o.logger.Warn("failed to record analysis attempt", zap.String("attempt_id", attemptID), zap.Error(err))
		}
	}()
}

// Wait blocks until background audit writes finish.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func mockSource(origin codec.Origin) demographics.Source {
	switch origin {
	case codec.OriginCamera:
		return demographics.SourceCamera
	case codec.OriginGallery:
		return demographics.SourceGallery
	default:
		return demographics.SourceMock
	}
}

func fallbackReason(err error) string {
	var httpErr *classifier.HTTPError
	var shapeErr *classifier.ShapeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &httpErr):
		if httpErr.Status >= http.StatusInternalServerError {
			return "http_5xx"
		}
		return "http_4xx"
	case errors.As(err, &shapeErr):
		if shapeErr.Incomplete() {
			return "incomplete"
		}
		return "malformed"
	default:
		return "network"
	}
}
