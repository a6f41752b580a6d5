package thermostat

import (
	"sync"

	"example.com/thermoweb/v2/internal/logger"
)

// Display is refreshed, with no arguments, after any setpoint mutation.
type Display interface {
	Update()
}

// DisplayFunc adapts a plain function to Display.
type DisplayFunc func()

func (f DisplayFunc) Update() { f() }

// LogDisplay renders the current state to the log. It stands in for the
// physical panel on hosts that have none.
type LogDisplay struct {
	sp  *Setpoints
	log *logger.Logger

	mu         sync.Mutex
	lastDemand Demand
}

func NewLogDisplay(sp *Setpoints, lg *logger.Logger) *LogDisplay {
	return &LogDisplay{sp: sp, log: lg}
}

func (d *LogDisplay) Update() {
	snap := d.sp.Snapshot()
	demand := snap.Demand()

	d.mu.Lock()
	prev := d.lastDemand
	d.lastDemand = demand
	d.mu.Unlock()

	fields := logger.LogFields{
		"temp":   snap.Temperature,
		"goal":   snap.Goal,
		"under":  snap.Under,
		"over":   snap.Over,
		"demand": string(demand),
	}
	if prev != "" && prev != demand {
		fields["previous_demand"] = string(prev)
		d.log.Info("Display demand changed", fields)
		return
	}
	d.log.Debug("Display updated", fields)
}
