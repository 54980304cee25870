package opa

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func blockedInput(focus bool) map[string]interface{} {
	return map[string]interface{}{
		"app":          map[string]interface{}{"name": "TikTok", "blocked": true},
		"focus_active": focus,
		"active_zones": []interface{}{},
		"usage":        map[string]interface{}{"today_minutes": 10, "daily_limit": 180},
		"warning":      map[string]interface{}{"layout": "immersive"},
	}
}

func TestEmbeddedPolicy(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if engine.Source() != "embedded" {
		t.Errorf("expected embedded source, got %s", engine.Source())
	}

	d, err := engine.EvaluateBlock(context.Background(), blockedInput(true))
	if err != nil {
		t.Fatalf("EvaluateBlock error: %v", err)
	}
	if d.Action != "block" || d.Reason != "focus_session" {
		t.Errorf("unexpected decision: %+v", d)
	}
}

func TestEmptyPolicyDirFallsBackToEmbedded(t *testing.T) {
	engine, err := NewEngine(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if engine.Source() != "embedded" {
		t.Errorf("expected embedded source, got %s", engine.Source())
	}
}

// TestReloadThreadSafety tests that reload is thread-safe with concurrent evaluations
func TestReloadThreadSafety(t *testing.T) {
	engine, err := NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}

	var wg sync.WaitGroup
	ctx := context.Background()
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(focus bool) {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					if _, err := engine.EvaluateBlock(ctx, blockedInput(focus)); err != nil {
						t.Errorf("EvaluateBlock error: %v", err)
						return
					}
					time.Sleep(time.Millisecond)
				}
			}
		}(i%2 == 0)
	}

	for i := 0; i < 5; i++ {
		if err := engine.Reload(); err != nil {
			t.Errorf("Reload error: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(done)
	wg.Wait()
}
