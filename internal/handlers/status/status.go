// Package status serves the polling endpoint the index page reads every
// few seconds.
package status

import (
	"fmt"
	"net/http"

	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/server"
	"example.com/thermoweb/v2/internal/thermostat"
)

const contentType = "text/html; charset=UTF-8"

// Handler writes "temperature goal under over" as one line.
type Handler struct {
	setpoints *thermostat.Setpoints
	log       *logger.Logger
}

func New(sp *thermostat.Setpoints, lg *logger.Logger) (*Handler, error) {
	if sp == nil {
		return nil, fmt.Errorf("setpoints cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Handler{setpoints: sp, log: lg}, nil
}

// Format renders a snapshot the way the poller expects it.
func Format(s thermostat.Snapshot) string {
	return fmt.Sprintf("%0.3f %0.1f %0.1f %0.1f", s.Temperature, s.Goal, s.Under, s.Over)
}

// Serve only fails when the client has gone away.
func (h *Handler) Serve(resp server.ResponseWriter, req *http.Request) error {
	body := Format(h.setpoints.Snapshot())
	h.log.Debug("Status requested", logger.LogFields{"status": body})
	resp.SetStatus(http.StatusOK)
	resp.SetType(contentType)
	resp.SetHeader("Cache-Control", "no-store")
	return resp.Send([]byte(body))
}
