// Package main is the keyboard action plugin for macOS. It types accepted
// letters, or sends a configured shortcut, through AppleScript.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"
)

// Request mirrors the executor's stdin payload.
type Request struct {
	Action     string          `json:"action"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Config     json.RawMessage `json:"config"`
	Params     json.RawMessage `json:"params"`
}

// Response is written to stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ShortcutConfig is the per-label config of a "shortcut" action.
type ShortcutConfig struct {
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"` // command, option, control, shift
}

// TypeConfig optionally overrides what a "type" action sends.
type TypeConfig struct {
	Text      string `json:"text"`
	Lowercase bool   `json:"lowercase"`
}

var modifierMap = map[string]string{
	"command": "command down",
	"cmd":     "command down",
	"option":  "option down",
	"alt":     "option down",
	"control": "control down",
	"ctrl":    "control down",
	"shift":   "shift down",
}

var errEmptyLabel = errors.New("label is required")

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}

	var (
		typed string
		err   error
	)
	switch req.Action {
	case "type", "":
		typed, err = handleType(req)
	case "shortcut", "keystroke":
		err = handleShortcut(req.Config)
	default:
		err = fmt.Errorf("unknown action: %s", req.Action)
	}
	if err != nil {
		writeResponse(Response{Error: fmt.Sprintf("action %s failed: %v", req.Action, err)})
		return
	}

	resp := Response{Success: true}
	if typed != "" {
		resp.Data, _ = json.Marshal(map[string]string{"typed": typed})
	}
	writeResponse(resp)
}

func handleType(req Request) (string, error) {
	text, err := textToType(req)
	if err != nil {
		return "", err
	}
	return text, runAppleScript(fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, escape(text)))
}

// textToType resolves the keystrokes for a label.
func textToType(req Request) (string, error) {
	var cfg TypeConfig
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			return "", fmt.Errorf("failed to parse config: %w", err)
		}
	}

	text := req.Label
	if cfg.Text != "" {
		text = cfg.Text
	}
	if text == "" || !utf8.ValidString(text) {
		return "", errEmptyLabel
	}
	if cfg.Lowercase {
		text = strings.ToLower(text)
	}
	return text, nil
}

func handleShortcut(config json.RawMessage) error {
	var c ShortcutConfig
	if err := json.Unmarshal(config, &c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if c.Key == "" {
		return fmt.Errorf("key is required")
	}
	return runAppleScript(buildShortcutScript(c.Key, c.Modifiers))
}

func buildShortcutScript(key string, modifiers []string) string {
	var appleModifiers []string
	for _, mod := range modifiers {
		if appleMod, ok := modifierMap[strings.ToLower(mod)]; ok {
			appleModifiers = append(appleModifiers, appleMod)
		}
	}

	script := fmt.Sprintf(`tell application "System Events" to keystroke "%s"`, escape(key))
	if len(appleModifiers) > 0 {
		script += fmt.Sprintf(" using {%s}", strings.Join(appleModifiers, ", "))
	}
	return script
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
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
