package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/ayusman/fingerspell/internal/decision"
	"github.com/ayusman/fingerspell/internal/lgr"
	"github.com/ayusman/fingerspell/internal/plugin"
	"github.com/ayusman/fingerspell/internal/recognition"
	"github.com/ayusman/fingerspell/internal/store"
)

type actionJob struct {
	action     *store.Action
	prediction decision.Prediction
}

// dispatchMemo remembers the last dispatched letter. The window is not
// cleared after an acceptance, so a held sign is accepted frame after frame.
type dispatchMemo struct {
	mu    sync.Mutex
	label string
	at    time.Time
}

// allow reports whether label may be dispatched at now and records it if so.
func (m *dispatchMemo) allow(label string, now time.Time, cooldown time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if label == m.label && now.Sub(m.at) < cooldown {
		return false
	}
	m.label = label
	m.at = now
	return true
}

func (m *dispatchMemo) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.label = ""
	m.at = time.Time{}
}

// Run consumes pipeline events until ctx is done or the pipeline closes its
// subscriptions. Accepted letters are stored and dispatched to their bound
// plugin action one at a time, in order.
func (a *App) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.actionWorker(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.events:
			if !ok {
				return
			}
			if ev.Type == recognition.EventPrediction && ev.Prediction != nil {
				a.handlePrediction(*ev.Prediction, ev.At)
			}
		}
	}
}

func (a *App) handlePrediction(pred decision.Prediction, at time.Time) {
	ctx := a.traceContext()
	lgr.Logger.InfoContext(ctx, "letter accepted",
		slog.String("label", pred.Label),
		slog.Float64("confidence", pred.Confidence),
	)

	if a.cfg.Store == nil {
		return
	}

	rec := &store.Prediction{
		SessionID:  a.SessionID(),
		Label:      pred.Label,
		Confidence: pred.Confidence,
		CreatedAt:  at,
	}
	if err := a.cfg.Store.Predictions().Create(rec); err != nil {
		lgr.Logger.WarnContext(ctx, "store prediction", slog.Any("error", xerrors.New(err.Error())))
	}

	if !a.lastSent.allow(pred.Label, a.cfg.Clock.Now(), a.cfg.ActionCooldown) {
		return
	}

	action, err := a.cfg.Store.Actions().GetByLabel(pred.Label)
	if err != nil {
		lgr.Logger.WarnContext(ctx, "look up action", slog.Any("error", xerrors.New(err.Error())))
		return
	}
	if action == nil || !action.Enabled {
		return
	}

	select {
	case a.actions <- actionJob{action: action, prediction: pred}:
	default:
		lgr.Logger.WarnContext(ctx, "action queue full, dropping", slog.String("label", pred.Label))
	}
}

func (a *App) actionWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-a.actions:
			if _, err := a.execute(ctx, job); err != nil {
				lgr.Logger.Warn("action failed",
					slog.String("label", job.prediction.Label),
					slog.String("plugin", job.action.PluginName),
					slog.Any("error", xerrors.New(err.Error())),
				)
			}
		}
	}
}

// execute runs the plugin bound by job.action.
func (a *App) execute(ctx context.Context, job actionJob) (*plugin.Response, error) {
	if a.cfg.Plugins == nil {
		return nil, plugin.ErrPluginNotFound
	}
	p, err := a.cfg.Plugins.Get(job.action.PluginName)
	if err != nil {
		return nil, err
	}

	req := &plugin.Request{
		Action:     job.action.ActionName,
		Label:      job.prediction.Label,
		Confidence: job.prediction.Confidence,
		Config:     job.action.Config,
	}
	resp, err := a.cfg.Executor.Execute(ctx, p, req)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return resp, xerrors.New(resp.Error)
	}

	lgr.Logger.Debug("action executed",
		slog.String("label", job.prediction.Label),
		slog.String("plugin", p.Manifest.Name),
		slog.String("action", job.action.ActionName),
	)
	return resp, nil
}
