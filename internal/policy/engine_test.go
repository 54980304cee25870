package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/untether/internal/clock"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, policyDir string) *Engine {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 3, 10, 21, 30, 0, 0, time.Local))
	e, err := NewEngine(policyDir, clk, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create policy engine: %v", err)
	}
	return e
}

func TestDefaultPolicyDecisions(t *testing.T) {
	e := newTestEngine(t, "")
	blocked := App{Name: "TikTok", Category: "Entertainment", Blocked: true}
	open := App{Name: "YouTube", Category: "Entertainment", Blocked: false}

	tests := []struct {
		name   string
		input  Input
		action Action
		reason string
	}{
		{
			name:   "unblocked app during focus",
			input:  Input{App: open, FocusActive: true, TodayUsage: 500, DailyLimit: 180},
			action: ActionAllow,
			reason: "not_blocked",
		},
		{
			name:   "blocked app during focus",
			input:  Input{App: blocked, FocusActive: true},
			action: ActionBlock,
			reason: "focus_session",
		},
		{
			name:   "blocked app inside focus zone",
			input:  Input{App: blocked, ActiveZones: []string{"Sanctuary"}},
			action: ActionBlock,
			reason: "focus_zone",
		},
		{
			name:   "blocked app over limit",
			input:  Input{App: blocked, TodayUsage: 180, DailyLimit: 180, Layout: "immersive"},
			action: ActionWarn,
			reason: "daily_limit",
		},
		{
			name:   "blocked app over limit with aggressive layout",
			input:  Input{App: blocked, TodayUsage: 200, DailyLimit: 180, Layout: "aggressive"},
			action: ActionBlock,
			reason: "daily_limit",
		},
		{
			name:   "blocked app under limit",
			input:  Input{App: blocked, TodayUsage: 30, DailyLimit: 180},
			action: ActionAllow,
			reason: "under_limit",
		},
		{
			name:   "blocked app with no limit",
			input:  Input{App: blocked, TodayUsage: 30},
			action: ActionAllow,
			reason: "under_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.Evaluate(context.Background(), tt.input)
			if got.Action != tt.action || got.Reason != tt.reason {
				t.Errorf("Evaluate() = %+v, want %s/%s", got, tt.action, tt.reason)
			}
		})
	}
}

func TestCustomPolicyDirAndReload(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, "block.rego"), []byte(body), 0644); err != nil {
			t.Fatalf("write policy: %v", err)
		}
	}

	write(`package untether.block

import rego.v1

decision := {"action": "block", "reason": "bedtime"} if {
	input.time.hour >= 21
}

default decision := {"action": "allow", "reason": "daytime"}
`)
	e := newTestEngine(t, dir)

	got := e.Evaluate(context.Background(), Input{App: App{Name: "YouTube"}})
	if got.Action != ActionBlock || got.Reason != "bedtime" {
		t.Fatalf("expected bedtime block, got %+v", got)
	}

	write(`package untether.block

import rego.v1

default decision := {"action": "warn", "reason": "always"}
`)
	if err := e.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	got = e.Evaluate(context.Background(), Input{App: App{Name: "YouTube"}})
	if got.Action != ActionWarn {
		t.Fatalf("expected warn after reload, got %+v", got)
	}

	write("package untether.block\n\nthis is not rego")
	if err := e.Reload(); err == nil {
		t.Fatal("expected reload error for invalid policy")
	}
	got = e.Evaluate(context.Background(), Input{App: App{Name: "YouTube"}})
	if got.Action != ActionWarn {
		t.Fatalf("failed reload should keep previous policy, got %+v", got)
	}
}

func TestUnknownActionFallsBack(t *testing.T) {
	dir := t.TempDir()
	body := `package untether.block

import rego.v1

default decision := {"action": "explode", "reason": "nope"}
`
	if err := os.WriteFile(filepath.Join(dir, "block.rego"), []byte(body), 0644); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	e := newTestEngine(t, dir)

	got := e.Evaluate(context.Background(), Input{App: App{Name: "TikTok", Blocked: true}})
	if got.Action != ActionBlock || got.Reason != "evaluation_error" {
		t.Fatalf("expected fallback block, got %+v", got)
	}
	got = e.Evaluate(context.Background(), Input{App: App{Name: "YouTube"}})
	if got.Action != ActionAllow {
		t.Fatalf("expected fallback allow, got %+v", got)
	}
}

func TestActionJSON(t *testing.T) {
	var a Action
	if err := json.Unmarshal([]byte(`"BLOCK"`), &a); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a != ActionBlock {
		t.Errorf("expected block, got %s", a)
	}
	if err := json.Unmarshal([]byte(`"bypass"`), &a); err == nil {
		t.Error("expected error for unknown action")
	}
	if !(Decision{Action: ActionWarn}).Interrupts() || (Decision{Action: ActionAllow}).Interrupts() {
		t.Error("Interrupts mismatch")
	}
}
