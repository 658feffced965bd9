// Package main is the system control action plugin for macOS. It turns an
// accepted letter into a volume change or a media key press.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Request mirrors the executor's stdin payload.
type Request struct {
	Action     string          `json:"action"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Config     json.RawMessage `json:"config"`
}

// Response is written to stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Config is the per-label config of every action.
type Config struct {
	Step          int     `json:"step"`          // volume percent, default 10
	MinConfidence float64 `json:"minConfidence"` // below this the letter is ignored
}

const defaultStep = 10

var errBelowConfidence = errors.New("confidence below minimum")

// mediaKeys are System Events key codes of the media keys.
var mediaKeys = map[string]int{
	"media-play-pause": 100,
	"media-next":       101,
	"media-prev":       98,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	script, err := buildScript(req)
	if errors.Is(err, errBelowConfidence) {
		data, _ := json.Marshal(map[string]string{"skipped": req.Label})
		writeResponse(Response{Success: true, Data: data})
		return
	}
	if err == nil {
		err = runAppleScript(script)
	}
	if err != nil {
		writeResponse(Response{Error: fmt.Sprintf("action %s failed: %v", req.Action, err)})
		return
	}
	writeResponse(Response{Success: true})
}

// buildScript returns the AppleScript for req.
func buildScript(req Request) (string, error) {
	cfg := Config{Step: defaultStep}
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return "", fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if cfg.Step <= 0 || cfg.Step > 100 {
		return "", fmt.Errorf("step %d outside 1..100", cfg.Step)
	}
	if req.Confidence < cfg.MinConfidence {
		return "", errBelowConfidence
	}

	switch req.Action {
	case "volume-up":
		return fmt.Sprintf(`set volume output volume ((output volume of (get volume settings)) + %d)`, cfg.Step), nil
	case "volume-down":
		return fmt.Sprintf(`set volume output volume ((output volume of (get volume settings)) - %d)`, cfg.Step), nil
	case "volume-mute":
		return `set volume output muted (not (output muted of (get volume settings)))`, nil
	}
	if code, ok := mediaKeys[req.Action]; ok {
		return fmt.Sprintf(`tell application "System Events" to key code %d`, code), nil
	}
	return "", fmt.Errorf("unknown action: %s", req.Action)
}

func writeResponse(resp Response) {
	_ = json.NewEncoder(os.Stdout).Encode(resp)
}

func runAppleScript(script string) error {
	output, err := exec.Command("osascript", "-e", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
