// Package app wires the camera, hand detector and recognition pipeline
// together and reacts to accepted letters.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/ayusman/fingerspell/internal/capture"
	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/lgr"
	"github.com/ayusman/fingerspell/internal/plugin"
	"github.com/ayusman/fingerspell/internal/recognition"
	"github.com/ayusman/fingerspell/internal/store"
	"github.com/ayusman/fingerspell/internal/timeutil"
)

// Defaults for Config fields left zero.
const (
	DefaultActionCooldown = time.Second
	eventBuffer           = 64
	actionQueue           = 16
)

// ErrNoDetector is returned by Start when a camera is configured without a
// hand detector.
var ErrNoDetector = errors.New("camera configured without a hand detector")

// Config holds the collaborators of an App. Only Pipeline is required.
type Config struct {
	Pipeline *recognition.Pipeline
	Store    *store.Store    // nil disables history, sessions and actions
	Camera   capture.Camera  // nil means frames only arrive through Ingest
	Detector detector.Detector
	Latest   *capture.Latest // receives every captured frame when set
	Plugins  *plugin.Manager
	Executor *plugin.Executor

	ModelPath      string
	FPS            int
	ActionCooldown time.Duration
	Clock          timeutil.Clock
}

// App is the running recognizer. Start and Stop may be called repeatedly.
type App struct {
	cfg      Config
	pipeline *recognition.Pipeline

	mu        sync.Mutex
	sessionID string
	traceCtx  context.Context // carries the session's trace for log records
	loopStop  context.CancelFunc
	loopDone  chan struct{}

	events   <-chan recognition.Event
	unsub    func()
	actions  chan actionJob
	lastSent dispatchMemo
}

// New builds an App and applies a threshold stored in settings, if any.
func New(cfg Config) (*App, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("app: pipeline is required")
	}
	if cfg.FPS <= 0 {
		cfg.FPS = capture.DefaultFPS
	}
	if cfg.ActionCooldown <= 0 {
		cfg.ActionCooldown = DefaultActionCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Executor == nil {
		cfg.Executor = plugin.NewExecutor(plugin.DefaultTimeout)
	}

	a := &App{
		cfg:      cfg,
		pipeline: cfg.Pipeline,
		traceCtx: context.Background(),
		actions:  make(chan actionJob, actionQueue),
	}
	a.events, a.unsub = cfg.Pipeline.Subscribe(eventBuffer)

	if cfg.Store != nil {
		theta, err := cfg.Store.Settings().Threshold(cfg.Pipeline.Threshold())
		if err != nil {
			lgr.Logger.Warn("ignoring stored threshold", slog.Any("error", xerrors.New(err.Error())))
		} else if err := cfg.Pipeline.SetThreshold(theta); err != nil {
			lgr.Logger.Warn("ignoring stored threshold",
				slog.Float64("threshold", theta),
				slog.Any("error", xerrors.New(err.Error())),
			)
		}
	}

	return a, nil
}

// Pipeline returns the recognition pipeline.
func (a *App) Pipeline() *recognition.Pipeline {
	return a.pipeline
}

// Latest returns the frame store fed by the capture loop, or nil.
func (a *App) Latest() *capture.Latest {
	return a.cfg.Latest
}

// Store returns the backing store, or nil.
func (a *App) Store() *store.Store {
	return a.cfg.Store
}

// Plugins returns the plugin manager, or nil.
func (a *App) Plugins() *plugin.Manager {
	return a.cfg.Plugins
}

// HasCamera reports whether frames are captured locally.
func (a *App) HasCamera() bool {
	return a.cfg.Camera != nil
}

// Running reports whether the pipeline accepts frames.
func (a *App) Running() bool {
	return a.pipeline.Running()
}

// State returns a snapshot of the recognition run state.
func (a *App) State() recognition.StateSnapshot {
	return a.pipeline.State()
}

// Metrics returns the latest throughput report.
func (a *App) Metrics() recognition.Metrics {
	return a.pipeline.Metrics()
}

// traceContext returns the context that carries the current session's trace.
func (a *App) traceContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.traceCtx
}

// SessionID returns the open session, or "" when stopped or storeless.
func (a *App) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Start begins a new recognition session: the pipeline is reset so no
// state leaks from the previous one, a session row is opened and, with a
// camera configured, the capture loop starts. Starting twice is a no-op.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pipeline.Running() {
		return nil
	}
	if a.cfg.Camera != nil && a.cfg.Detector == nil {
		return ErrNoDetector
	}

	if a.cfg.Camera != nil {
		if err := a.cfg.Camera.Open(); err != nil {
			return fmt.Errorf("start: %w", err)
		}
		a.cfg.Camera.SetFPS(a.cfg.FPS)
	}

	a.pipeline.Reset()
	a.pipeline.Start()
	a.lastSent.clear()
	a.traceCtx = lgr.NewTrace(context.Background())

	if a.cfg.Store != nil {
		sess := &store.Session{
			ModelPath: a.cfg.ModelPath,
			Threshold: a.pipeline.Threshold(),
			StartedAt: a.cfg.Clock.Now(),
		}
		if err := a.cfg.Store.Sessions().Start(sess); err != nil {
			lgr.Logger.WarnContext(a.traceCtx, "open session", slog.Any("error", xerrors.New(err.Error())))
		} else {
			a.sessionID = sess.ID
		}
	}

	if a.cfg.Camera != nil {
		ctx, cancel := context.WithCancel(a.traceCtx)
		a.loopStop = cancel
		a.loopDone = make(chan struct{})
		go a.captureLoop(ctx, a.loopDone)
	}

	lgr.Logger.InfoContext(a.traceCtx, "recognition started",
		slog.String("session", a.sessionID),
		slog.Bool("camera", a.cfg.Camera != nil),
		slog.Float64("threshold", a.pipeline.Threshold()),
	)
	return nil
}

// Stop halts recognition and closes the session with its final counters.
// The window is kept until the next Start or Reset.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.pipeline.Running() && a.loopStop == nil {
		return nil
	}

	a.pipeline.Stop()

	if a.loopStop != nil {
		a.loopStop()
		<-a.loopDone
		a.loopStop = nil
		a.loopDone = nil
	}

	var errs []error
	if a.cfg.Camera != nil {
		if err := a.cfg.Camera.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
	}

	st := a.pipeline.State()
	if a.sessionID != "" {
		if err := a.cfg.Store.Sessions().End(a.sessionID, st.Frames, st.Accepted, a.cfg.Clock.Now()); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
		a.sessionID = ""
	}

	lgr.Logger.InfoContext(a.traceCtx, "recognition stopped",
		slog.Uint64("frames", st.Frames),
		slog.Uint64("accepted", st.Accepted),
	)
	return errors.Join(errs...)
}

// Reset clears the window and counters without stopping.
func (a *App) Reset() {
	a.pipeline.Reset()
	a.lastSent.clear()
	lgr.Logger.InfoContext(a.traceContext(), "recognition reset")
}

// SetThreshold changes the acceptance threshold and persists it.
func (a *App) SetThreshold(theta float64) error {
	if err := a.pipeline.SetThreshold(theta); err != nil {
		return err
	}
	if a.cfg.Store != nil {
		if err := a.cfg.Store.Settings().SetThreshold(theta); err != nil {
			return fmt.Errorf("persist threshold: %w", err)
		}
	}
	return nil
}

// Ingest runs landmarks that were detected elsewhere, such as in a browser,
// through the pipeline.
func (a *App) Ingest(ctx context.Context, hands []detector.HandLandmarks) (recognition.FrameResult, error) {
	res, err := a.pipeline.ProcessFrame(ctx, hands)
	if err != nil {
		logFrameError(ctx, err)
	}
	return res, err
}

// Close stops recognition, drains the event consumer and releases the
// detector. Run must have returned or be cancelled by the caller.
func (a *App) Close() error {
	err := a.Stop()
	a.unsub()
	if a.cfg.Detector != nil {
		if derr := a.cfg.Detector.Close(); derr != nil {
			err = errors.Join(err, fmt.Errorf("close detector: %w", derr))
		}
	}
	return err
}
