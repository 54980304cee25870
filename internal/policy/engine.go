// Package policy decides whether opening an app should be allowed, warned or
// blocked. Facts are gathered here; the decision itself is made by rego.
package policy

import (
	"context"
	"fmt"

	"github.com/goodtune/untether/internal/clock"
	"github.com/goodtune/untether/internal/metrics"
	"github.com/goodtune/untether/internal/policy/opa"
	"github.com/rs/zerolog"
)

// Engine handles policy evaluation by gathering facts and calling OPA
type Engine struct {
	opaEngine *opa.Engine
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewEngine creates a new fact-based policy engine. An empty policyDir uses
// the embedded default policy.
func NewEngine(policyDir string, clk clock.Clock, logger zerolog.Logger) (*Engine, error) {
	opaEngine, err := opa.NewEngine(policyDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OPA engine: %w", err)
	}

	e := &Engine{
		opaEngine: opaEngine,
		clock:     clk,
		logger:    logger.With().Str("component", "policy").Logger(),
	}

	e.logger.Info().Str("opa_source", opaEngine.Source()).Msg("Block policy engine initialized")
	return e, nil
}

// Evaluate decides how to treat an app launch. When OPA fails, blocked apps
// are blocked and everything else is allowed.
func (e *Engine) Evaluate(ctx context.Context, in Input) Decision {
	facts := e.buildFacts(in)

	raw, err := e.opaEngine.EvaluateBlock(ctx, facts)
	if err != nil {
		e.logger.Error().Err(err).Str("app", in.App.Name).Msg("OPA block evaluation failed, using fallback")
		return e.record(fallback(in))
	}

	action, err := ParseAction(raw.Action)
	if err != nil {
		e.logger.Warn().Err(err).Str("app", in.App.Name).Msg("Unknown action from OPA, using fallback")
		return e.record(fallback(in))
	}

	return e.record(Decision{Action: action, Reason: raw.Reason})
}

// Reload reloads the OPA policies
func (e *Engine) Reload() error {
	return e.opaEngine.Reload()
}

func fallback(in Input) Decision {
	if in.App.Blocked {
		return Decision{Action: ActionBlock, Reason: "evaluation_error"}
	}
	return Decision{Action: ActionAllow, Reason: "evaluation_error"}
}

func (e *Engine) record(d Decision) Decision {
	metrics.PolicyDecisions.WithLabelValues(string(d.Action), d.Reason).Inc()
	return d
}

// buildFacts gathers facts for block evaluation
func (e *Engine) buildFacts(in Input) map[string]interface{} {
	now := e.clock.Now()
	currentTime := map[string]interface{}{
		"day_of_week": int(now.Weekday()),
		"hour":        now.Hour(),
		"minute":      now.Minute(),
	}

	zones := make([]interface{}, 0, len(in.ActiveZones))
	for _, z := range in.ActiveZones {
		zones = append(zones, z)
	}

	return map[string]interface{}{
		"app": map[string]interface{}{
			"name":     in.App.Name,
			"category": in.App.Category,
			"blocked":  in.App.Blocked,
		},
		"focus_active": in.FocusActive,
		"active_zones": zones,
		"usage": map[string]interface{}{
			"today_minutes": in.TodayUsage,
			"daily_limit":   in.DailyLimit,
		},
		"streak":  in.Streak,
		"warning": map[string]interface{}{"layout": in.Layout},
		"time":    currentTime,
	}
}
