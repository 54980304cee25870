package policy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action represents the policy decision action
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// UnmarshalJSON implements json.Unmarshaler to normalize action to lowercase.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction validates a policy action.
func ParseAction(s string) (Action, error) {
	normalized := Action(strings.ToLower(s))
	switch normalized {
	case ActionAllow, ActionWarn, ActionBlock:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid action: %s (must be allow, warn or block)", s)
	}
}

// App identifies the app or site being opened.
type App struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Blocked  bool   `json:"blocked"`
}

// Input is the set of facts a block decision is made from.
type Input struct {
	App         App      `json:"app"`
	FocusActive bool     `json:"focus_active"`
	ActiveZones []string `json:"active_zones"`
	TodayUsage  float64  `json:"today_usage"`
	DailyLimit  int      `json:"daily_limit"`
	Streak      int      `json:"streak"`
	Layout      string   `json:"layout"`
}

// Decision is the outcome of a block evaluation.
type Decision struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// Interrupts reports whether the user should see a warning or block screen.
func (d Decision) Interrupts() bool {
	return d.Action != ActionAllow
}
