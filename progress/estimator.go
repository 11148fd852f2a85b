// Package progress simulates generation progress while the model call is outstanding.
// It is an estimate driven by wall-clock time, not a measurement of backend work.
package progress

import (
	"math"
	"sync"
	"time"
)

// Stage is a named slice of the estimated duration.
type Stage struct {
	Label    string  `json:"label"`
	Fraction float64 `json:"fraction"`
}

// DefaultStages should sum to 1.0; nothing enforces it.
var DefaultStages = []Stage{
	{Label: "Analyzing the prompt...", Fraction: 0.10},
	{Label: "Designing the core structure...", Fraction: 0.25},
	{Label: "Placing details and decorations...", Fraction: 0.40},
	{Label: "Running physics verification...", Fraction: 0.15},
	{Label: "Generating the final LDR file...", Fraction: 0.10},
}

// DefaultEstimatedTotal is the expected length of a generation call.
const DefaultEstimatedTotal = 45 * time.Second

// maxRunningPercent keeps the bar short of 100 until the call really returns.
const maxRunningPercent = 99

// Phase is the estimator lifecycle.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// State is a point-in-time view of the estimator.
type State struct {
	Phase     Phase   `json:"phase"`
	Elapsed   int     `json:"elapsed_seconds"`
	Estimated int     `json:"estimated_seconds"`
	Remaining int     `json:"remaining_seconds"`
	Percent   float64 `json:"percent"`
	Stage     string  `json:"stage"`
}

// Ticker is the recurring timer driving the estimator.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Estimate maps elapsed seconds to a display percentage and a stage index.
func Estimate(elapsed, total int, stages []Stage) (float64, int) {
	if total <= 0 || len(stages) == 0 {
		return 0, 0
	}
	current := float64(elapsed) / float64(total) * 100
	idx := len(stages) - 1
	cumulative := 0.0
	for i, s := range stages {
		cumulative += s.Fraction
		if current < cumulative*100 {
			idx = i
			break
		}
	}
	return math.Min(maxRunningPercent, current), idx
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithStages overrides DefaultStages.
func WithStages(stages []Stage) Option {
	return func(e *Estimator) { e.stages = stages }
}

// WithEstimatedTotal overrides DefaultEstimatedTotal. It is truncated to whole seconds.
func WithEstimatedTotal(d time.Duration) Option {
	return func(e *Estimator) { e.total = int(d / time.Second) }
}

// WithTicker replaces the one-second wall-clock ticker.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(e *Estimator) { e.newTicker = newTicker }
}

// WithObserver is called with the new state after every tick, on the ticker goroutine.
// It must not call Start, Complete or Fail.
func WithObserver(fn func(State)) Option {
	return func(e *Estimator) { e.observer = fn }
}

// Estimator owns at most one running ticker. Start, Complete and Fail stop the
// current ticker and wait for its goroutine before touching the state.
type Estimator struct {
	stages    []Stage
	total     int
	newTicker func(time.Duration) Ticker
	observer  func(State)

	lifecycle sync.Mutex // serializes Start/Complete/Fail

	mu    sync.Mutex
	state State

	stop chan struct{}
	done chan struct{}
}

// New creates an idle estimator.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		stages:    DefaultStages,
		total:     int(DefaultEstimatedTotal / time.Second),
		newTicker: NewTimeTicker,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state = State{Phase: PhaseIdle, Estimated: e.total, Remaining: e.total}
	return e
}

// Start begins a new attempt: any running ticker is stopped first, then elapsed and
// percent reset to 0 and the first stage is selected.
func (e *Estimator) Start() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.stopTicker()

	e.mu.Lock()
	e.state = State{Phase: PhaseRunning, Estimated: e.total, Remaining: e.total}
	if len(e.stages) > 0 {
		e.state.Stage = e.stages[0].Label
	}
	e.mu.Unlock()

	t := e.newTicker(time.Second)
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(t, e.stop, e.done)
}

// Complete stops the ticker and reports 100%.
func (e *Estimator) Complete() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.stopTicker()

	e.mu.Lock()
	e.state.Phase = PhaseCompleted
	e.state.Percent = 100
	e.mu.Unlock()
}

// Fail stops the ticker and leaves percent and stage at their last values.
func (e *Estimator) Fail() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.stopTicker()

	e.mu.Lock()
	e.state.Phase = PhaseFailed
	e.mu.Unlock()
}

// Snapshot returns the current state.
func (e *Estimator) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Running reports whether a ticker is active.
func (e *Estimator) Running() bool {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return e.stop != nil
}

// stopTicker must be called with lifecycle held and mu not held.
func (e *Estimator) stopTicker() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
	e.stop = nil
	e.done = nil
}

func (e *Estimator) run(t Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			select {
			case <-stop:
				return
			default:
			}
			e.tick()
		}
	}
}

func (e *Estimator) tick() {
	e.mu.Lock()
	e.state.Elapsed++
	pct, idx := Estimate(e.state.Elapsed, e.total, e.stages)
	e.state.Percent = pct
	if idx < len(e.stages) {
		e.state.Stage = e.stages[idx].Label
	}
	e.state.Remaining = e.total - e.state.Elapsed
	if e.state.Remaining < 0 {
		e.state.Remaining = 0
	}
	s := e.state
	e.mu.Unlock()

	if e.observer != nil {
		e.observer(s)
	}
}
