// Package thermostat owns the shared setpoint state and the display
// collaborator refreshed after every change.
package thermostat

import (
	"fmt"
	"sync"
)

// Setpoint names one of the three values writable over the API.
type Setpoint int

const (
	Goal Setpoint = iota
	UpperMargin
	LowerMargin
)

func (s Setpoint) String() string {
	switch s {
	case Goal:
		return "goal"
	case UpperMargin:
		return "over"
	case LowerMargin:
		return "under"
	}
	return fmt.Sprintf("Setpoint(%d)", int(s))
}

// Snapshot is a consistent copy of all four values.
type Snapshot struct {
	Temperature float64
	Goal        float64
	Under       float64
	Over        float64
}

// Demand is what the display shows the plant should do.
type Demand string

const (
	DemandHeat Demand = "heat"
	DemandCool Demand = "cool"
	DemandIdle Demand = "idle"
)

// Demand derives heat/cool/idle from the temperature and the margin band
// around the goal. The band edges themselves are idle.
func (s Snapshot) Demand() Demand {
	switch {
	case s.Temperature < s.Goal-s.Under:
		return DemandHeat
	case s.Temperature > s.Goal+s.Over:
		return DemandCool
	}
	return DemandIdle
}

// Setpoints guards the goal, the two margins and the externally fed
// temperature with a single lock.
type Setpoints struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewSetpoints(goal, under, over float64) *Setpoints {
	return &Setpoints{snap: Snapshot{Goal: goal, Under: under, Over: over}}
}

// Set stores v into the named setpoint.
func (s *Setpoints) Set(which Setpoint, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch which {
	case Goal:
		s.snap.Goal = v
	case UpperMargin:
		s.snap.Over = v
	case LowerMargin:
		s.snap.Under = v
	default:
		return fmt.Errorf("thermostat: unknown setpoint %v", which)
	}
	return nil
}

// SetTemperature records a new reading and reports whether it differs from
// the previous one.
func (s *Setpoints) SetTemperature(v float64) (changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed = s.snap.Temperature != v
	s.snap.Temperature = v
	return changed
}

func (s *Setpoints) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
