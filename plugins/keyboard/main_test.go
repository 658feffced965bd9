package main

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTextToType(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		want    string
		wantErr error
	}{
		{name: "label", req: Request{Label: "C"}, want: "C"},
		{name: "lowercase", req: Request{Label: "C", Config: json.RawMessage(`{"lowercase":true}`)}, want: "c"},
		{name: "override text", req: Request{Label: "Y", Config: json.RawMessage(`{"text":"yes"}`)}, want: "yes"},
		{name: "empty label", req: Request{}, wantErr: errEmptyLabel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := textToType(tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestBuildShortcutScript(t *testing.T) {
	got := buildShortcutScript("c", []string{"cmd", "Shift", "bogus"})
	want := `tell application "System Events" to keystroke "c" using {command down, shift down}`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if got := buildShortcutScript(`"`, nil); got != `tell application "System Events" to keystroke "\""` {
		t.Errorf("quote not escaped: %q", got)
	}
}
