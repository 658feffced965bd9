// Package tray provides the menu bar interface of the recognizer.
package tray

import (
	"context"
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/fingerspell/internal/decision"
	"github.com/ayusman/fingerspell/internal/recognition"
)

const (
	titleRunning = "● Recognizing"
	titleStopped = "○ Stopped"
	noLetter     = "Last: none"
)

// Tray is the system tray menu. Callbacks are set before Run and invoked
// outside the tray lock.
type Tray struct {
	onToggle func(running bool) error
	onReset  func()
	onOpen   func()
	onQuit   func()
	running  bool
	mu       sync.RWMutex

	menuToggle *systray.MenuItem
	menuLast   *systray.MenuItem
}

// New creates a Tray in the given initial run state.
func New(running bool) *Tray {
	return &Tray{running: running}
}

// OnToggle sets the callback for the start/stop item. A returned error
// leaves the displayed state unchanged.
func (t *Tray) OnToggle(fn func(running bool) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnOpen sets the callback for the "Open Web UI" item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the tray. It blocks until Quit is clicked or systray.Quit is
// called and must run on the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {})
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

func (t *Tray) onReady() {
	systray.SetTitle("ASL")
	systray.SetTooltip("Fingerspelling recognizer")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.running), "Start or stop recognition")
	systray.AddSeparator()
	t.menuLast = systray.AddMenuItem(noLetter, "Last accepted letter")
	t.menuLast.Disable()
	t.mu.Unlock()

	menuReset := systray.AddMenuItem("Reset", "Clear the frame window")
	menuOpen := systray.AddMenuItem("Open Web UI...", "Open the web interface in a browser")
	systray.AddSeparator()
	menuQuit := systray.AddMenuItem("Quit", "Quit the recognizer")

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuReset.ClickedCh:
				t.call(func() func() { return t.onReset })
			case <-menuOpen.ClickedCh:
				t.call(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.call(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	fn := get()
	t.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (t *Tray) handleToggle() {
	t.mu.RLock()
	next := !t.running
	callback := t.onToggle
	t.mu.RUnlock()

	if callback != nil {
		if err := callback(next); err != nil {
			return
		}
	}
	t.SetRunning(next)
}

// SetRunning updates the start/stop item.
func (t *Tray) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = running
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(running))
	}
}

// Running returns the displayed run state.
func (t *Tray) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// SetLast shows the last accepted letter. nil clears it.
func (t *Tray) SetLast(pred *decision.Prediction) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.menuLast != nil {
		t.menuLast.SetTitle(lastTitle(pred))
	}
}

// Watch shows accepted letters from events until ctx is done or the
// channel closes.
func (t *Tray) Watch(ctx context.Context, events <-chan recognition.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type == recognition.EventPrediction {
				t.SetLast(ev.Prediction)
			}
		}
	}
}

func toggleTitle(running bool) string {
	if running {
		return titleRunning
	}
	return titleStopped
}

func lastTitle(pred *decision.Prediction) string {
	if pred == nil {
		return noLetter
	}
	return fmt.Sprintf("Last: %s (%.0f%%)", pred.Label, pred.Confidence*100)
}
