// Package recognition drives hand landmarks through feature extraction,
// normalization, the temporal window, the classifier and the decision
// policy, one frame at a time.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/fingerspell/internal/classifier"
	"github.com/ayusman/fingerspell/internal/decision"
	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/features"
	"github.com/ayusman/fingerspell/internal/lgr"
	"github.com/ayusman/fingerspell/internal/timeutil"
	"github.com/ayusman/fingerspell/internal/window"
)

var (
	// ErrStopped is returned by ProcessFrame while the pipeline is stopped.
	ErrStopped = errors.New("pipeline stopped")

	// ErrHalted is returned by ProcessFrame after a configuration mismatch
	// was detected at runtime. Reconfigure clears it.
	ErrHalted = errors.New("pipeline halted")
)

// DefaultMetricsInterval is how often throughput metrics are recomputed.
const DefaultMetricsInterval = time.Second

// Classifier maps a full window to one probability per class.
// *classifier.Adapter is the production implementation.
type Classifier interface {
	Classify(ctx context.Context, window []features.Vector) (classifier.Distribution, error)
	ClassNames() []string
}

// Config holds the pipeline dimensions and timing.
type Config struct {
	NumLandmarks    int
	SequenceLength  int
	Epsilon         float64
	Stats           *features.Stats // nil passes features through unnormalized
	MetricsInterval time.Duration
	Clock           timeutil.Clock
}

func (c *Config) applyDefaults() {
	if c.NumLandmarks <= 0 {
		c.NumLandmarks = detector.NumLandmarks
	}
	if c.SequenceLength <= 0 {
		c.SequenceLength = window.DefaultLength
	}
	if c.Epsilon <= 0 {
		c.Epsilon = features.DefaultEpsilon
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
}

// FrameResult describes what one ProcessFrame call did.
type FrameResult struct {
	HandDetected bool                    `json:"hand_detected"`
	WindowLen    int                     `json:"window_len"`
	Inferred     bool                    `json:"inferred"`
	Skipped      bool                    `json:"skipped"`   // window full but an inference was already running
	Abandoned    bool                    `json:"abandoned"` // a reset or stop landed while inferring
	Distribution classifier.Distribution `json:"distribution,omitempty"`
	Prediction   *decision.Prediction    `json:"prediction,omitempty"`
}

// Metrics is the periodically recomputed throughput report.
type Metrics struct {
	FPS            float64   `json:"fps"`
	AcceptanceRate float64   `json:"acceptance_rate"`
	Frames         uint64    `json:"frames"`
	Accepted       uint64    `json:"accepted"`
	At             time.Time `json:"at"`
}

// StateSnapshot is a read-only copy of the run state.
type StateSnapshot struct {
	Running         bool                 `json:"running"`
	Halted          string               `json:"halted,omitempty"`
	WindowLen       int                  `json:"window_len"`
	WindowCap       int                  `json:"window_cap"`
	Frames          uint64               `json:"frames"`
	Accepted        uint64               `json:"accepted"`
	InferenceErrors uint64               `json:"inference_errors"`
	Skipped         uint64               `json:"skipped_inferences"`
	Abandoned       uint64               `json:"abandoned_inferences"` // discarded by Stop; a Reset zeroes it and is not counted
	DroppedEvents   uint64               `json:"dropped_events"`
	Threshold       float64              `json:"threshold"`
	InFlight        bool                 `json:"in_flight"`
	ResetAt         time.Time            `json:"reset_at"`
	Last            *decision.Prediction `json:"last,omitempty"`
}

// runState is everything a frame mutates. It is only touched with
// Pipeline.mu held.
type runState struct {
	window          *window.Buffer
	frames          uint64
	accepted        uint64
	inferenceErrors uint64
	skipped         uint64
	abandoned       uint64
	resetAt         time.Time
	last            *decision.Prediction

	intervalStart    time.Time
	intervalFrames   uint64
	intervalAccepted uint64
	metrics          Metrics
}

// Pipeline is the recognition state machine. ProcessFrame may be called
// from any goroutine; frames mutate the run state one at a time and at most
// one classifier call is in flight.
type Pipeline struct {
	cfg        Config
	extractor  *features.Extractor
	normalizer *features.Normalizer
	events     *hub

	mu         sync.Mutex
	classifier Classifier
	policy     decision.Policy
	state      runState
	running    bool
	halted     error
	inFlight   bool
	generation uint64
	resets     uint64
}

// New validates the configuration and returns a stopped pipeline.
// Statistics whose length differs from 2*NumLandmarks, or whose class names
// disagree with the classifier, fail with features.ErrConfigMismatch before
// any frame is processed.
func New(cfg Config, clf Classifier, policy decision.Policy) (*Pipeline, error) {
	if clf == nil {
		return nil, fmt.Errorf("%w: nil classifier", classifier.ErrAssetLoad)
	}
	cfg.applyDefaults()

	ext := features.NewExtractor(cfg.NumLandmarks)
	if err := checkAssets(cfg.Stats, clf, ext.Dim()); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:        cfg,
		extractor:  ext,
		normalizer: features.NewNormalizer(cfg.Stats, cfg.Epsilon),
		events:     newHub(),
		classifier: clf,
		policy:     policy,
	}
	p.state.window = window.New(cfg.SequenceLength)
	now := cfg.Clock.Now()
	p.state.resetAt = now
	p.state.intervalStart = now
	return p, nil
}

func checkAssets(stats *features.Stats, clf Classifier, dim int) error {
	if stats == nil {
		return nil
	}
	if err := stats.Validate(); err != nil {
		return err
	}
	if err := stats.CheckDim(dim); err != nil {
		return err
	}
	if n, m := len(stats.ClassNames), len(clf.ClassNames()); n != m {
		return fmt.Errorf("%w: stats list %d classes, classifier has %d", features.ErrConfigMismatch, n, m)
	}
	return nil
}

// Start lets frames through.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
}

// Stop makes ProcessFrame return ErrStopped. The window is kept; an
// inference that is still running has its result discarded.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		p.running = false
		p.generation++
	}
}

// Running reports whether frames are being processed.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Reset empties the window and zeroes every counter and the timing
// baseline. Loaded statistics, the classifier and the threshold are kept.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}

func (p *Pipeline) resetLocked() {
	now := p.cfg.Clock.Now()
	p.state.window.Reset()
	p.state.frames = 0
	p.state.accepted = 0
	p.state.inferenceErrors = 0
	p.state.skipped = 0
	p.state.abandoned = 0
	p.state.last = nil
	p.state.resetAt = now
	p.state.intervalStart = now
	p.state.intervalFrames = 0
	p.state.intervalAccepted = 0
	p.state.metrics = Metrics{At: now}
	// In-flight results from before the reset must not land.
	p.generation++
	p.resets++
}

// SetThreshold changes the acceptance threshold for later frames.
func (p *Pipeline) SetThreshold(theta float64) error {
	if theta < 0 || theta >= 1 {
		return fmt.Errorf("threshold %v outside [0, 1)", theta)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.policy.Threshold = theta
	return nil
}

// Threshold returns the current acceptance threshold.
func (p *Pipeline) Threshold() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy.Threshold
}

// Reconfigure swaps in new statistics and, when clf is non-nil, a new
// classifier. On success the window is reset and a halt is cleared.
func (p *Pipeline) Reconfigure(stats *features.Stats, clf Classifier) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if clf == nil {
		clf = p.classifier
	}
	if err := checkAssets(stats, clf, p.extractor.Dim()); err != nil {
		return err
	}

	p.normalizer.SetStats(stats)
	p.classifier = clf
	p.halted = nil
	p.resetLocked()
	lgr.Logger.Info("pipeline reconfigured", slog.Int("classes", len(clf.ClassNames())))
	return nil
}

// Subscribe returns a channel of prediction and metrics events. Events that
// do not fit in the buffer are dropped. cancel must be called to release
// the subscription.
func (p *Pipeline) Subscribe(buffer int) (<-chan Event, func()) {
	return p.events.subscribe(buffer)
}

// Close stops the pipeline and closes every subscription.
func (p *Pipeline) Close() {
	p.Stop()
	p.events.closeAll()
}

// State returns a snapshot of the run state.
func (p *Pipeline) State() StateSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := StateSnapshot{
		Running:         p.running,
		WindowLen:       p.state.window.Len(),
		WindowCap:       p.state.window.Cap(),
		Frames:          p.state.frames,
		Accepted:        p.state.accepted,
		InferenceErrors: p.state.inferenceErrors,
		Skipped:         p.state.skipped,
		Abandoned:       p.state.abandoned,
		DroppedEvents:   p.events.droppedCount(),
		Threshold:       p.policy.Threshold,
		InFlight:        p.inFlight,
		ResetAt:         p.state.resetAt,
	}
	if p.halted != nil {
		s.Halted = p.halted.Error()
	}
	if p.state.last != nil {
		last := *p.state.last
		s.Last = &last
	}
	return s
}

// Metrics returns the most recently computed throughput report.
func (p *Pipeline) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.metrics
}

// ProcessFrame runs one frame through the pipeline. Only the first hand is
// used; no hands is a normal frame that only advances the counter.
//
// A per-frame classifier failure is returned wrapped in
// classifier.ErrInference and leaves the run state intact. A configuration
// mismatch halts the pipeline.
func (p *Pipeline) ProcessFrame(ctx context.Context, hands []detector.HandLandmarks) (FrameResult, error) {
	var res FrameResult
	if err := ctx.Err(); err != nil {
		return res, err
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return res, ErrStopped
	}
	if p.halted != nil {
		err := fmt.Errorf("%w: %w", ErrHalted, p.halted)
		p.mu.Unlock()
		return res, err
	}

	p.state.frames++
	p.state.intervalFrames++

	if len(hands) == 0 {
		res.WindowLen = p.state.window.Len()
		p.tickLocked()
		p.mu.Unlock()
		return res, nil
	}
	res.HandDetected = true

	vec, err := p.extractor.ExtractHand(&hands[0])
	if err != nil {
		p.tickLocked()
		p.mu.Unlock()
		return res, err
	}
	norm, err := p.normalizer.Normalize(vec)
	if err != nil {
		if errors.Is(err, features.ErrConfigMismatch) {
			p.haltLocked(err)
		}
		p.tickLocked()
		p.mu.Unlock()
		return res, err
	}

	p.state.window.Push(norm)
	res.WindowLen = p.state.window.Len()

	if !p.state.window.IsFull() {
		p.tickLocked()
		p.mu.Unlock()
		return res, nil
	}
	if p.inFlight {
		res.Skipped = true
		p.state.skipped++
		p.tickLocked()
		p.mu.Unlock()
		return res, nil
	}

	snapshot := p.state.window.Snapshot()
	gen, resets := p.generation, p.resets
	clf := p.classifier
	p.inFlight = true
	p.mu.Unlock()

	dist, cerr := clf.Classify(ctx, snapshot)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	res.Inferred = true

	if gen != p.generation {
		res.Abandoned = true
		if resets == p.resets {
			p.state.abandoned++
		}
		return res, nil
	}
	defer p.tickLocked()

	if cerr != nil {
		p.state.inferenceErrors++
		if errors.Is(cerr, features.ErrConfigMismatch) {
			p.haltLocked(cerr)
		}
		return res, cerr
	}

	res.Distribution = dist
	pred, ok := p.policy.Decide(dist, clf.ClassNames())
	if !ok {
		return res, nil
	}

	p.state.accepted++
	p.state.intervalAccepted++
	p.state.last = &pred
	res.Prediction = &pred

	out := pred
	p.events.publish(Event{Type: EventPrediction, Prediction: &out, At: p.cfg.Clock.Now()})
	return res, nil
}

func (p *Pipeline) haltLocked(err error) {
	if p.halted != nil {
		return
	}
	p.halted = err
	lgr.Logger.Error("pipeline halted", slog.Any("error", err))
}

// tickLocked recomputes metrics once the interval has elapsed. Interval
// counters are reset afterwards; totals are not.
func (p *Pipeline) tickLocked() {
	now := p.cfg.Clock.Now()
	elapsed := now.Sub(p.state.intervalStart)
	if elapsed < p.cfg.MetricsInterval {
		return
	}

	m := Metrics{
		FPS:      float64(p.state.intervalFrames) / elapsed.Seconds(),
		Frames:   p.state.frames,
		Accepted: p.state.accepted,
		At:       now,
	}
	if p.state.intervalFrames > 0 {
		m.AcceptanceRate = float64(p.state.intervalAccepted) / float64(p.state.intervalFrames)
	}
	p.state.metrics = m
	p.state.intervalStart = now
	p.state.intervalFrames = 0
	p.state.intervalAccepted = 0

	out := m
	p.events.publish(Event{Type: EventMetrics, Metrics: &out, At: now})
}
