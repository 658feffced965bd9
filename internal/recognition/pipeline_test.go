package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/fingerspell/internal/classifier"
	"github.com/ayusman/fingerspell/internal/decision"
	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/features"
	"github.com/ayusman/fingerspell/internal/timeutil"
)

var letters = []string{"A", "B", "C", "D"}

// fakeClassifier returns a fixed distribution and can be held mid-call.
type fakeClassifier struct {
	mu      sync.Mutex
	dist    classifier.Distribution
	err     error
	calls   int
	windows [][]features.Vector
	gate    chan struct{}
	entered chan struct{}
}

func newFake(dist ...float64) *fakeClassifier {
	return &fakeClassifier{dist: dist}
}

func (f *fakeClassifier) Classify(ctx context.Context, w []features.Vector) (classifier.Distribution, error) {
	f.mu.Lock()
	f.calls++
	f.windows = append(f.windows, w)
	gate, entered := f.gate, f.entered
	dist, err := f.dist, f.err
	f.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return append(classifier.Distribution(nil), dist...), nil
}

func (f *fakeClassifier) ClassNames() []string { return letters }

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClassifier) set(err error, dist ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	if dist != nil {
		f.dist = dist
	}
}

func (f *fakeClassifier) hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 4)
}

func unitStats(dim int) *features.Stats {
	s := &features.Stats{Mean: make([]float64, dim), Std: make([]float64, dim), ClassNames: letters}
	for i := range s.Std {
		s.Std[i] = 1
	}
	return s
}

func hand() []detector.HandLandmarks {
	return []detector.HandLandmarks{detector.FistLandmarks()}
}

func newPipeline(t *testing.T, clf Classifier, theta float64, mutate ...func(*Config)) *Pipeline {
	t.Helper()
	cfg := Config{
		NumLandmarks:   21,
		SequenceLength: 30,
		Stats:          unitStats(42),
		Clock:          timeutil.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := New(cfg, clf, decision.Policy{Threshold: theta})
	require.NoError(t, err)
	p.Start()
	return p
}

func feed(t *testing.T, p *Pipeline, n int) []FrameResult {
	t.Helper()
	out := make([]FrameResult, 0, n)
	for i := 0; i < n; i++ {
		res, err := p.ProcessFrame(context.Background(), hand())
		require.NoError(t, err)
		out = append(out, res)
	}
	return out
}

func TestPipeline_FillsBeforeInferring(t *testing.T) {
	clf := newFake(0.4, 0.3, 0.2, 0.1)
	p := newPipeline(t, clf, 0.6)
	events, cancel := p.Subscribe(8)
	defer cancel()

	results := feed(t, p, 29)
	assert.Zero(t, clf.Calls(), "no inference before the window is full")
	assert.EqualValues(t, 29, p.State().Frames)
	assert.Equal(t, 29, results[28].WindowLen)
	assert.Empty(t, events)

	res := feed(t, p, 1)[0]
	assert.True(t, res.Inferred)
	assert.Equal(t, 1, clf.Calls())
	require.Len(t, clf.windows[0], 30)
	assert.Len(t, clf.windows[0][0], 42)
}

func TestPipeline_AcceptsConfidentLetter(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6)
	events, cancel := p.Subscribe(64)
	defer cancel()

	results := feed(t, p, 30)
	last := results[29]
	require.NotNil(t, last.Prediction)
	assert.Equal(t, decision.Prediction{Label: "C", Confidence: 0.8}, *last.Prediction)

	st := p.State()
	assert.EqualValues(t, 1, st.Accepted)
	require.NotNil(t, st.Last)
	assert.Equal(t, "C", st.Last.Label)

	ev := <-events
	assert.Equal(t, EventPrediction, ev.Type)
	assert.Equal(t, "C", ev.Prediction.Label)

	// The window keeps sliding, so the next frame is classified again.
	next := feed(t, p, 1)[0]
	assert.True(t, next.Inferred)
	assert.Equal(t, 30, next.WindowLen)
	assert.Equal(t, 2, clf.Calls())
}

func TestPipeline_RejectsUnsureLetter(t *testing.T) {
	clf := newFake(0.4, 0.3, 0.2, 0.1)
	p := newPipeline(t, clf, 0.6)

	results := feed(t, p, 30)
	assert.True(t, results[29].Inferred)
	assert.Nil(t, results[29].Prediction)

	st := p.State()
	assert.Zero(t, st.Accepted)
	assert.EqualValues(t, 30, st.Frames)
}

func TestPipeline_Reset(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6)
	feed(t, p, 35)
	require.EqualValues(t, 6, p.State().Accepted)

	p.Reset()

	st := p.State()
	assert.Zero(t, st.WindowLen)
	assert.Zero(t, st.Frames)
	assert.Zero(t, st.Accepted)
	assert.Nil(t, st.Last)
	assert.True(t, st.Running, "reset does not stop the pipeline")

	// Refill from scratch.
	feed(t, p, 29)
	assert.Equal(t, 6, clf.Calls())
}

func TestPipeline_NoHand(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6)

	res, err := p.ProcessFrame(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.HandDetected)

	st := p.State()
	assert.EqualValues(t, 1, st.Frames)
	assert.Zero(t, st.WindowLen)
}

func TestPipeline_OnlyFirstHandIsUsed(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6, func(c *Config) { c.SequenceLength = 1 })

	hands := []detector.HandLandmarks{detector.FistLandmarks(), detector.FlatHandLandmarks()}
	_, err := p.ProcessFrame(context.Background(), hands)
	require.NoError(t, err)

	first := detector.FistLandmarks()
	require.Len(t, clf.windows, 1)
	assert.Equal(t, first.Points[0].X, clf.windows[0][0][0])
	assert.Equal(t, first.Points[0].Y, clf.windows[0][0][1])
}

func TestNew_ConfigMismatch(t *testing.T) {
	clf := newFake(0.25, 0.25, 0.25, 0.25)

	t.Run("stats shorter than the feature vector", func(t *testing.T) {
		_, err := New(Config{Stats: unitStats(41)}, clf, decision.NewPolicy(0.7))
		assert.ErrorIs(t, err, features.ErrConfigMismatch)
		assert.Zero(t, clf.Calls())
	})

	t.Run("class names disagree with the classifier", func(t *testing.T) {
		s := unitStats(42)
		s.ClassNames = []string{"A", "B"}
		_, err := New(Config{Stats: s}, clf, decision.NewPolicy(0.7))
		assert.ErrorIs(t, err, features.ErrConfigMismatch)
	})

	t.Run("nil classifier", func(t *testing.T) {
		_, err := New(Config{Stats: unitStats(42)}, nil, decision.NewPolicy(0.7))
		assert.ErrorIs(t, err, classifier.ErrAssetLoad)
	})
}

func TestPipeline_WithoutStatsPassesThrough(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6, func(c *Config) {
		c.Stats = nil
		c.SequenceLength = 1
	})

	feed(t, p, 1)
	fist := detector.FistLandmarks()
	assert.Equal(t, fist.Points[4].X, clf.windows[0][0][8])
}

func TestPipeline_Normalizes(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	stats := unitStats(42)
	for i := range stats.Mean {
		stats.Mean[i] = 0.5
		stats.Std[i] = 0.25
	}
	p := newPipeline(t, clf, 0.6, func(c *Config) {
		c.Stats = stats
		c.SequenceLength = 1
	})

	feed(t, p, 1)
	fist := detector.FistLandmarks()
	want := (fist.Points[0].X - 0.5) / (0.25 + features.DefaultEpsilon)
	assert.InDelta(t, want, clf.windows[0][0][0], 1e-12)
}

func TestPipeline_InferenceErrorIsRecoverable(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	clf.set(fmt.Errorf("%w: device lost", classifier.ErrInference))
	p := newPipeline(t, clf, 0.6)

	feed(t, p, 29)
	_, err := p.ProcessFrame(context.Background(), hand())
	assert.ErrorIs(t, err, classifier.ErrInference)

	st := p.State()
	assert.EqualValues(t, 1, st.InferenceErrors)
	assert.EqualValues(t, 30, st.Frames)
	assert.Equal(t, 30, st.WindowLen, "a failed inference leaves the window alone")
	assert.Empty(t, st.Halted)

	clf.set(nil)
	res := feed(t, p, 1)[0]
	require.NotNil(t, res.Prediction)
	assert.Equal(t, "C", res.Prediction.Label)
}

func TestPipeline_OutputMismatchHalts(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	clf.set(fmt.Errorf("%w: %w: model returned 3 classes", classifier.ErrInference, classifier.ErrConfigMismatch))
	p := newPipeline(t, clf, 0.6)

	feed(t, p, 29)
	_, err := p.ProcessFrame(context.Background(), hand())
	require.ErrorIs(t, err, features.ErrConfigMismatch)
	assert.NotEmpty(t, p.State().Halted)

	_, err = p.ProcessFrame(context.Background(), hand())
	assert.ErrorIs(t, err, ErrHalted)
	assert.Equal(t, 1, clf.Calls())

	clf.set(nil)
	require.NoError(t, p.Reconfigure(unitStats(42), nil))
	assert.Empty(t, p.State().Halted)
	assert.Zero(t, p.State().WindowLen)

	_, err = p.ProcessFrame(context.Background(), hand())
	assert.NoError(t, err)
}

func TestPipeline_ReconfigureRejectsMismatch(t *testing.T) {
	p := newPipeline(t, newFake(0.25, 0.25, 0.25, 0.25), 0.6)
	err := p.Reconfigure(unitStats(40), nil)
	assert.ErrorIs(t, err, features.ErrConfigMismatch)
}

func TestPipeline_StartStop(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p, err := New(Config{Stats: unitStats(42)}, clf, decision.NewPolicy(0.6))
	require.NoError(t, err)

	assert.False(t, p.Running())
	_, err = p.ProcessFrame(context.Background(), hand())
	assert.ErrorIs(t, err, ErrStopped)

	p.Start()
	_, err = p.ProcessFrame(context.Background(), hand())
	require.NoError(t, err)

	p.Stop()
	_, err = p.ProcessFrame(context.Background(), hand())
	assert.ErrorIs(t, err, ErrStopped)
	assert.EqualValues(t, 1, p.State().Frames)
	assert.Equal(t, 1, p.State().WindowLen, "stop keeps the window")
}

func TestPipeline_SkipsWhileInferenceInFlight(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6)
	feed(t, p, 29)

	clf.hold()
	done := make(chan FrameResult)
	go func() {
		res, _ := p.ProcessFrame(context.Background(), hand())
		done <- res
	}()
	<-clf.entered

	// The window still moves, but no second inference starts.
	res, err := p.ProcessFrame(context.Background(), []detector.HandLandmarks{detector.FlatHandLandmarks()})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.False(t, res.Inferred)
	assert.True(t, p.State().InFlight)
	assert.Equal(t, 1, clf.Calls())

	close(clf.gate)
	first := <-done
	require.NotNil(t, first.Prediction)

	st := p.State()
	assert.EqualValues(t, 1, st.Skipped)
	assert.EqualValues(t, 31, st.Frames)
	assert.EqualValues(t, 1, st.Accepted)
	assert.False(t, st.InFlight)
}

func TestPipeline_ResetDuringInference(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6)
	events, cancel := p.Subscribe(8)
	defer cancel()
	feed(t, p, 29)

	clf.hold()
	done := make(chan FrameResult)
	go func() {
		res, _ := p.ProcessFrame(context.Background(), hand())
		done <- res
	}()
	<-clf.entered

	p.Reset()
	close(clf.gate)
	res := <-done

	assert.True(t, res.Abandoned)
	assert.Nil(t, res.Prediction)
	st := p.State()
	assert.Zero(t, st.Accepted)
	assert.Zero(t, st.Frames)
	assert.Zero(t, st.Abandoned, "a fresh reset reports no abandoned inferences")
	assert.False(t, st.InFlight)
	assert.Empty(t, events)
}

func TestPipeline_StopDuringInference(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6)
	feed(t, p, 29)

	clf.hold()
	done := make(chan FrameResult)
	go func() {
		res, _ := p.ProcessFrame(context.Background(), hand())
		done <- res
	}()
	<-clf.entered

	p.Stop()
	close(clf.gate)
	res := <-done

	assert.True(t, res.Abandoned)
	assert.Nil(t, res.Prediction)
	st := p.State()
	assert.EqualValues(t, 1, st.Abandoned)
	assert.EqualValues(t, 30, st.Frames)
	assert.Zero(t, st.Accepted)
}

func TestPipeline_Threshold(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6, func(c *Config) { c.SequenceLength = 1 })

	require.NoError(t, p.SetThreshold(0.9))
	assert.Equal(t, 0.9, p.Threshold())
	res := feed(t, p, 1)[0]
	assert.Nil(t, res.Prediction)

	assert.Error(t, p.SetThreshold(1.2))
	assert.Error(t, p.SetThreshold(-0.1))
	assert.Equal(t, 0.9, p.Threshold())
}

func TestPipeline_Metrics(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(1000, 0))
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6, func(c *Config) {
		c.SequenceLength = 2
		c.Clock = clock
	})
	events, cancel := p.Subscribe(64)
	defer cancel()

	feed(t, p, 9)
	assert.Zero(t, p.Metrics().FPS, "not recomputed before the interval elapses")

	clock.Advance(time.Second)
	feed(t, p, 1)

	m := p.Metrics()
	assert.InDelta(t, 10.0, m.FPS, 1e-9)
	// The first frame only fills the window; the other nine are accepted.
	assert.InDelta(t, 0.9, m.AcceptanceRate, 1e-9)
	assert.EqualValues(t, 10, m.Frames)
	assert.EqualValues(t, 9, m.Accepted)

	var sawMetrics bool
	for len(events) > 0 {
		if ev := <-events; ev.Type == EventMetrics {
			sawMetrics = true
			assert.InDelta(t, 10.0, ev.Metrics.FPS, 1e-9)
		}
	}
	assert.True(t, sawMetrics)

	// Interval counters restart; totals do not.
	clock.Advance(2 * time.Second)
	feed(t, p, 4)
	m = p.Metrics()
	assert.InDelta(t, 0.5, m.FPS, 1e-9)
	assert.EqualValues(t, 11, m.Frames)
}

func TestPipeline_SlowSubscriberDropsEvents(t *testing.T) {
	clf := newFake(0.1, 0.05, 0.8, 0.05)
	p := newPipeline(t, clf, 0.6, func(c *Config) { c.SequenceLength = 1 })
	_, cancel := p.Subscribe(0)
	defer cancel()

	feed(t, p, 3)
	assert.EqualValues(t, 3, p.State().DroppedEvents)
	assert.EqualValues(t, 3, p.State().Accepted, "slow subscribers never block recognition")
}

func TestPipeline_CloseEndsSubscriptions(t *testing.T) {
	p := newPipeline(t, newFake(0.25, 0.25, 0.25, 0.25), 0.6)
	events, cancel := p.Subscribe(1)

	p.Close()
	_, ok := <-events
	assert.False(t, ok)
	cancel()
	assert.False(t, p.Running())
}

func TestPipeline_CancelledContext(t *testing.T) {
	clf := newFake(0.25, 0.25, 0.25, 0.25)
	p := newPipeline(t, clf, 0.6)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.ProcessFrame(ctx, hand())
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, p.State().Frames)
}

func TestPipeline_WithAdapter(t *testing.T) {
	model := classifier.NewMockModel(0.05, 0.9, 0.03, 0.02)
	adapter, err := classifier.NewAdapter(model, letters, 30, 42)
	require.NoError(t, err)
	p := newPipeline(t, adapter, 0.7)

	results := feed(t, p, 30)
	require.NotNil(t, results[29].Prediction)
	assert.Equal(t, "B", results[29].Prediction.Label)
	assert.InDelta(t, 0.9, results[29].Prediction.Confidence, 1e-6)
	assert.Equal(t, []int{1, 30, 42}, model.LastShape())
}
