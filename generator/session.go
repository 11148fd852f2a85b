package generator

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"brick_model_generator/catalog"
	"brick_model_generator/ldraw"
	"brick_model_generator/metrics"
	"brick_model_generator/model"
	"brick_model_generator/progress"
)

// Enricher cross-checks part numbers. *catalog.Enricher implements it.
type Enricher interface {
	Enrich(ctx context.Context, set *model.LegoSet) catalog.Outcome
}

// Pipeline holds the collaborators shared by all sessions. Enricher may be nil to skip
// the catalog check; NewEstimator defaults to progress.New.
type Pipeline struct {
	Agent        *Agent
	Enricher     Enricher
	Assembler    ldraw.Assembler
	NewEstimator func() *progress.Estimator
}

// Result is a finished generation.
type Result struct {
	Set        *model.LegoSet `json:"model"`
	LDR        ldraw.Result   `json:"ldr"`
	Filename   string         `json:"filename"`
	Enrichment catalog.Status `json:"enrichment"`
}

// View is what pollers see of a session.
type View struct {
	ID         string                  `json:"session_id"`
	Options    model.GenerationOptions `json:"options"`
	Status     model.Status            `json:"status"`
	Progress   progress.State          `json:"progress"`
	Result     *Result                 `json:"result,omitempty"`
	Error      string                  `json:"error,omitempty"`
	CreatedAt  time.Time               `json:"created_at"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
}

// Session is one generation attempt and the progress shown while it runs.
type Session struct {
	ID        string
	Options   model.GenerationOptions
	CreatedAt time.Time

	pipeline  *Pipeline
	estimator *progress.Estimator

	mu         sync.RWMutex
	status     model.Status
	result     *Result
	err        error
	finishedAt *time.Time
}

// NewSession creates an idle session.
func NewSession(id string, opts model.GenerationOptions, p *Pipeline) *Session {
	newEstimator := p.NewEstimator
	if newEstimator == nil {
		newEstimator = func() *progress.Estimator { return progress.New() }
	}
	return &Session{
		ID:        id,
		Options:   opts,
		CreatedAt: time.Now(),
		pipeline:  p,
		estimator: newEstimator(),
		status:    model.StatusIdle,
	}
}

// Run generates, enriches and assembles the model. Only generation errors are
// returned; catalog and assembly problems degrade the result instead.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	s.status = model.StatusLoading
	s.result = nil
	s.err = nil
	s.finishedAt = nil
	s.mu.Unlock()
	s.estimator.Start()

	start := time.Now()
	set, err := s.pipeline.Agent.Generate(ctx, s.Options)
	metrics.GenerationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		klog.Errorf("[session %s] generation failed: %v", s.ID, err)
		s.estimator.Fail()
		s.finish(nil, err)
		return nil, err
	}
	klog.V(2).Infof("[session %s] generated %q placed=%d parts=%d", s.ID, set.Title, len(set.PlacedParts), len(set.Parts))

	enrichment := catalog.StatusEmpty
	if s.pipeline.Enricher != nil {
		out := s.pipeline.Enricher.Enrich(ctx, set)
		set, enrichment = out.Set, out.Status
		if out.Degraded() {
			klog.Warningf("[session %s] catalog check degraded: %s", s.ID, out.Status)
		}
	}

	ldr := s.pipeline.Assembler.Assemble(set)
	metrics.DocumentsTotal.WithLabelValues(string(ldr.Status)).Inc()

	res := &Result{
		Set:        set,
		LDR:        ldr,
		Filename:   ldraw.Filename(set.Title),
		Enrichment: enrichment,
	}
	s.estimator.Complete()
	s.finish(res, nil)
	klog.Infof("[session %s] done title=%q sha256=%s", s.ID, set.Title, ldr.SHA256)
	return res, nil
}

func (s *Session) finish(res *Result, err error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result = res
	s.err = err
	s.finishedAt = &now
	if err != nil {
		s.status = model.StatusError
		metrics.GenerationsTotal.WithLabelValues(string(model.StatusError)).Inc()
		return
	}
	s.status = model.StatusSuccess
	metrics.GenerationsTotal.WithLabelValues(string(model.StatusSuccess)).Inc()
}

// Result returns the finished result, if any.
func (s *Session) Result() (*Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.result != nil
}

// FinishedAt reports when the last run ended.
func (s *Session) FinishedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.finishedAt == nil {
		return time.Time{}, false
	}
	return *s.finishedAt, true
}

// Err returns the generation error of the last run.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// View snapshots the session for display.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		ID:         s.ID,
		Options:    s.Options,
		Status:     s.status,
		Progress:   s.estimator.Snapshot(),
		Result:     s.result,
		CreatedAt:  s.CreatedAt,
		FinishedAt: s.finishedAt,
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}

// ErrNotReady is returned when a session has no result yet.
var ErrNotReady = errors.New("generation has not finished successfully")
