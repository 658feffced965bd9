package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/mdobak/go-xerrors"

	"github.com/ayusman/fingerspell/internal/app"
	"github.com/ayusman/fingerspell/internal/capture"
	"github.com/ayusman/fingerspell/internal/classifier"
	"github.com/ayusman/fingerspell/internal/config"
	"github.com/ayusman/fingerspell/internal/decision"
	"github.com/ayusman/fingerspell/internal/detector"
	"github.com/ayusman/fingerspell/internal/features"
	"github.com/ayusman/fingerspell/internal/lgr"
	"github.com/ayusman/fingerspell/internal/plugin"
	"github.com/ayusman/fingerspell/internal/publish"
	"github.com/ayusman/fingerspell/internal/recognition"
	"github.com/ayusman/fingerspell/internal/server"
	"github.com/ayusman/fingerspell/internal/store"
	"github.com/ayusman/fingerspell/internal/tray"
)

const subscribeDepth = 64

func main() {
	if err := run(); err != nil {
		lgr.Logger.Error("fatal", slog.Any("error", xerrors.New(err.Error())))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	logCloser := lgr.Init(lgr.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()

	banner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := features.LoadStats(cfg.StatsPath)
	if err != nil {
		return err
	}
	model, err := classifier.LoadModel(cfg.ModelPath)
	if err != nil {
		return err
	}
	defer model.Close()

	adapter, err := classifier.NewAdapter(model, stats.ClassNames, cfg.SequenceLength, 2*cfg.NumLandmarks)
	if err != nil {
		return err
	}
	if err := adapter.Probe(ctx); err != nil {
		return fmt.Errorf("model probe: %w", err)
	}

	pipe, err := recognition.New(recognition.Config{
		NumLandmarks:    cfg.NumLandmarks,
		SequenceLength:  cfg.SequenceLength,
		Epsilon:         cfg.Epsilon,
		Stats:           stats,
		MetricsInterval: cfg.MetricsInterval,
	}, adapter, decision.NewPolicy(cfg.Threshold))
	if err != nil {
		return err
	}
	defer pipe.Close()

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	plugins := plugin.NewManager(cfg.PluginDir)
	if err := plugins.Discover(); err != nil {
		lgr.Logger.Warn("plugin discovery", slog.Any("error", xerrors.New(err.Error())))
	}

	appCfg := app.Config{
		Pipeline:       pipe,
		Store:          st,
		Latest:         capture.NewLatest(),
		Plugins:        plugins,
		Executor:       plugin.NewExecutor(plugin.DefaultTimeout),
		ModelPath:      cfg.ModelPath,
		FPS:            capture.DefaultFPS,
		ActionCooldown: cfg.ActionCooldown,
	}
	if det, err := detector.NewMediaPipeDetector(detector.DefaultConfig()); err != nil {
		lgr.Logger.Warn("no hand detector, camera disabled; landmarks are accepted on /api/landmarks",
			slog.Any("error", xerrors.New(err.Error())))
	} else {
		appCfg.Detector = det
		appCfg.Camera = capture.NewCamera(cfg.CameraID)
	}

	a, err := app.New(appCfg)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
		if err := a.Close(); err != nil {
			lgr.Logger.Warn("close", slog.Any("error", xerrors.New(err.Error())))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Run(runCtx)
	}()

	if cfg.MQTTBroker != "" {
		sink, err := publish.Dial(publish.Options{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Topic:    cfg.MQTTTopic,
		})
		if err != nil {
			lgr.Logger.Warn("mqtt disabled", slog.Any("error", xerrors.New(err.Error())))
		} else {
			events, unsub := pipe.Subscribe(subscribeDepth)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer sink.Close()
				defer unsub()
				sink.Run(runCtx, events)
			}()
		}
	}

	webDir := cfg.WebDir
	if webDir == "" {
		webDir = findWebDir(cfg.DataDir)
	}
	if webDir != "" {
		lgr.Logger.Info("serving static files", slog.String("dir", webDir))
	}

	srv := server.New(server.Config{
		StaticDir:    webDir,
		Store:        st,
		Recognizer:   a,
		Events:       pipe,
		Ingest:       a,
		Frames:       appCfg.Latest,
		Plugins:      plugins,
		HistoryLimit: cfg.HistoryLimit,
	})

	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		serveErr <- srv.Serve(runCtx, cfg.Addr)
	}()

	if cfg.Headless {
		select {
		case <-runCtx.Done():
			return nil
		case err := <-serveErr:
			return err
		}
	}

	runTray(runCtx, cancel, a, pipe, uiURL(cfg.Addr))

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	default:
	}
	return nil
}

// runTray blocks on the main goroutine until Quit is clicked or ctx ends.
func runTray(ctx context.Context, cancel context.CancelFunc, a *app.App, pipe *recognition.Pipeline, url string) {
	t := tray.New(a.Running())
	t.OnToggle(func(running bool) error {
		var err error
		if running {
			err = a.Start()
		} else {
			err = a.Stop()
		}
		if err != nil {
			lgr.Logger.Warn("toggle recognition", slog.Any("error", xerrors.New(err.Error())))
		}
		return err
	})
	t.OnReset(a.Reset)
	t.OnOpen(func() { openBrowser(url) })
	t.OnQuit(cancel)

	events, unsub := pipe.Subscribe(subscribeDepth)
	defer unsub()
	go t.Watch(ctx, events)

	go func() {
		<-ctx.Done()
		t.Quit()
	}()

	t.Run()
}

func banner(cfg config.Config) {
	title := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)
	title.Println("fingerspell - ASL fingerspelling recognition")
	dim.Printf("  model      %s\n", cfg.ModelPath)
	dim.Printf("  stats      %s\n", cfg.StatsPath)
	dim.Printf("  window     %d frames x %d landmarks\n", cfg.SequenceLength, cfg.NumLandmarks)
	dim.Printf("  threshold  %.2f\n", cfg.Threshold)
	dim.Printf("  listening  %s\n", uiURL(cfg.Addr))
	if cfg.MQTTBroker != "" {
		dim.Printf("  mqtt       %s (%s)\n", cfg.MQTTBroker, cfg.MQTTTopic)
	}
}

func uiURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		lgr.Logger.Warn("open browser", slog.Any("error", xerrors.New(err.Error())))
		return
	}
	go cmd.Wait()
}

// findWebDir returns the first existing web directory among "web",
// "../web", "../../web" and <dataDir>/web, or "" if there is none.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	homeWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}
	return ""
}
