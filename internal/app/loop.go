package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mdobak/go-xerrors"

	"github.com/ayusman/fingerspell/internal/classifier"
	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/lgr"
	"github.com/ayusman/fingerspell/internal/recognition"
)

// captureLoop reads one frame per tick, detects hands and feeds the
// pipeline. Ticks that arrive while a frame is still being handled are
// dropped by the ticker.
func (a *App) captureLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := a.cfg.Clock.NewTicker(time.Second / time.Duration(a.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.step(ctx)
		}
	}
}

// step handles a single frame.
func (a *App) step(ctx context.Context) {
	frame, err := a.cfg.Camera.ReadFrame()
	if err != nil {
		lgr.Logger.DebugContext(ctx, "read frame", slog.Any("error", err))
		return
	}
	defer frame.Close()

	if a.cfg.Latest != nil {
		if err := a.cfg.Latest.Store(frame); err != nil {
			lgr.Logger.DebugContext(ctx, "store frame", slog.Any("error", err))
		}
	}

	hands, err := a.cfg.Detector.Detect(frame)
	if err != nil {
		if errors.Is(err, detector.ErrLandmarkCount) || errors.Is(err, detector.ErrInvalidPoint) {
			// Malformed hands were dropped; the rest of the frame still counts.
			lgr.Logger.DebugContext(ctx, "dropped malformed hand", slog.Any("error", err))
		} else {
			lgr.Logger.WarnContext(ctx, "detect hands", slog.Any("error", xerrors.New(err.Error())))
			return
		}
	}

	if _, err := a.pipeline.ProcessFrame(ctx, hands); err != nil {
		logFrameError(ctx, err)
	}
}

func logFrameError(ctx context.Context, err error) {
	switch {
	case errors.Is(err, recognition.ErrStopped), errors.Is(err, context.Canceled):
	case errors.Is(err, recognition.ErrHalted):
		lgr.Logger.DebugContext(ctx, "frame rejected", slog.Any("error", err))
	case errors.Is(err, classifier.ErrInference):
		lgr.Logger.WarnContext(ctx, "inference failed", slog.Any("error", xerrors.New(err.Error())))
	default:
		lgr.Logger.WarnContext(ctx, "process frame", slog.Any("error", xerrors.New(err.Error())))
	}
}
