// Package geofence tracks which focus zones contain the device.
package geofence

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/goodtune/untether/internal/metrics"
	"github.com/rs/zerolog"
)

// EarthRadius is the mean Earth radius in metres.
const EarthRadius = 6371e3

// Zone is a circular focus zone. Address holds "lat, lng".
type Zone struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Radius  float64 `json:"radius"`
	Active  bool    `json:"active"`
}

// Notification is a user-facing message about a zone transition.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Transition is the result of a location update.
type Transition struct {
	Entered []Zone `json:"entered"`
	Left    []Zone `json:"left"`
	Active  []Zone `json:"active"`
}

// Notifications renders the enter and exit messages for t.
func (t Transition) Notifications() []Notification {
	out := make([]Notification, 0, len(t.Entered)+len(t.Left))
	for _, z := range t.Entered {
		out = append(out, Notification{
			Title: "UnTether: Perimeter Secured",
			Body:  fmt.Sprintf("Entered %s. Suppression matrix active.", z.Name),
		})
	}
	for _, z := range t.Left {
		out = append(out, Notification{
			Title: "UnTether: Perimeter Exited",
			Body:  fmt.Sprintf("Left %s. Suppression matrix standby.", z.Name),
		})
	}
	return out
}

// Changed reports whether any zone was entered or left.
func (t Transition) Changed() bool {
	return len(t.Entered) > 0 || len(t.Left) > 0
}

// ParseCoordinates parses a "lat, lng" address.
func ParseCoordinates(address string) (lat, lng float64, err error) {
	parts := strings.Split(address, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid coordinates %q", address)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude in %q: %w", address, err)
	}
	lng, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude in %q: %w", address, err)
	}
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return 0, 0, fmt.Errorf("invalid coordinates %q", address)
	}
	return lat, lng, nil
}

// Distance returns the great-circle distance in metres.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadius * c
}

// Contains reports whether the point lies inside an active zone.
func (z Zone) Contains(lat, lng float64) bool {
	if !z.Active {
		return false
	}
	zLat, zLng, err := ParseCoordinates(z.Address)
	if err != nil {
		return false
	}
	return Distance(lat, lng, zLat, zLng) <= z.Radius
}

// Monitor holds the zone list and the set the device is currently inside.
type Monitor struct {
	mu     sync.Mutex
	zones  []Zone
	active map[string]Zone
	logger zerolog.Logger
}

// NewMonitor creates a monitor for zones.
func NewMonitor(zones []Zone, logger zerolog.Logger) *Monitor {
	return &Monitor{
		zones:  append([]Zone(nil), zones...),
		active: make(map[string]Zone),
		logger: logger.With().Str("component", "geofence").Logger(),
	}
}

// SetZones replaces the zone list. Zones that no longer exist leave the
// active set without a notification.
func (m *Monitor) SetZones(zones []Zone) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.zones = append([]Zone(nil), zones...)
	known := make(map[string]bool, len(zones))
	for _, z := range zones {
		known[z.ID] = true
	}
	for id := range m.active {
		if !known[id] {
			delete(m.active, id)
		}
	}
	metrics.ActiveZones.Set(float64(len(m.active)))
}

// Zones returns a copy of the zone list.
func (m *Monitor) Zones() []Zone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Zone(nil), m.zones...)
}

// Update recomputes the active set for a new position.
func (m *Monitor) Update(lat, lng float64) Transition {
	m.mu.Lock()
	defer m.mu.Unlock()

	var t Transition
	current := make(map[string]Zone)
	for _, z := range m.zones {
		if !z.Contains(lat, lng) {
			continue
		}
		current[z.ID] = z
		t.Active = append(t.Active, z)
		if _, ok := m.active[z.ID]; !ok {
			t.Entered = append(t.Entered, z)
		}
	}
	for _, z := range m.zones {
		if _, was := m.active[z.ID]; !was {
			continue
		}
		if _, still := current[z.ID]; !still {
			t.Left = append(t.Left, z)
		}
	}

	m.active = current
	m.record(t)
	return t
}

// PermissionDenied clears the active set without notifications.
func (m *Monitor) PermissionDenied() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.active) > 0 {
		m.logger.Warn().Int("zones", len(m.active)).Msg("Location permission denied, clearing active zones")
	}
	m.active = make(map[string]Zone)
	metrics.ActiveZones.Set(0)
}

// Active returns the zones the device is inside, in zone-list order.
func (m *Monitor) Active() []Zone {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Zone
	for _, z := range m.zones {
		if _, ok := m.active[z.ID]; ok {
			out = append(out, z)
		}
	}
	return out
}

// ActiveNames returns the names of the active zones.
func (m *Monitor) ActiveNames() []string {
	active := m.Active()
	names := make([]string, 0, len(active))
	for _, z := range active {
		names = append(names, z.Name)
	}
	return names
}

func (m *Monitor) record(t Transition) {
	for _, z := range t.Entered {
		metrics.ZoneTransitions.WithLabelValues("enter").Inc()
		m.logger.Info().Str("zone", z.Name).Msg("Entered focus zone")
	}
	for _, z := range t.Left {
		metrics.ZoneTransitions.WithLabelValues("exit").Inc()
		m.logger.Info().Str("zone", z.Name).Msg("Left focus zone")
	}
	metrics.ActiveZones.Set(float64(len(m.active)))
}
