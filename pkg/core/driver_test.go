package core

import (
	"errors"
	"testing"
)

func TestBy_String(t *testing.T) {
	by := By{Using: UsingCSS, Value: "#email"}
	if got := by.String(); got != "css selector=#email" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want Key
	}{
		{"enter", KeyEnter},
		{"ENTER", KeyEnter},
		{"Return", KeyEnter},
		{" tab ", KeyTab},
		{"esc", KeyEscape},
		{"arrowdown", KeyArrowDown},
	}
	for _, tt := range tests {
		got, err := ParseKey(tt.in)
		if err != nil {
			t.Errorf("ParseKey(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if _, err := ParseKey("hyper"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("ParseKey(hyper) error = %v, want ErrInvalidConfig", err)
	}
}

func TestParseClickStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    ClickStrategy
		wantErr bool
	}{
		{"", ClickNative, false},
		{"native", ClickNative, false},
		{"Script", ClickScript, false},
		{"javascript", "", true},
	}
	for _, tt := range tests {
		got, err := ParseClickStrategy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClickStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseClickStrategy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveBrowserName(t *testing.T) {
	tests := []struct {
		name         string
		flag, env    string
		want         BrowserName
		wantFellBack bool
	}{
		{"default", "", "", Chrome, false},
		{"env only", "", "firefox", Firefox, false},
		{"flag wins over env", "edge", "firefox", Edge, false},
		{"case insensitive", "FireFox", "", Firefox, false},
		{"alias", "msedge", "", Edge, false},
		{"unknown falls back", "safari", "", Chrome, true},
		{"blank flag uses env", "  ", "chrome", Chrome, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fellBack := ResolveBrowserName(tt.flag, tt.env)
			if got != tt.want || fellBack != tt.wantFellBack {
				t.Errorf("ResolveBrowserName(%q, %q) = (%q, %v), want (%q, %v)",
					tt.flag, tt.env, got, fellBack, tt.want, tt.wantFellBack)
			}
		})
	}
}
