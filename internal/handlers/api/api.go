// Package api implements the POST command handler that writes thermostat
// setpoints.
package api

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"example.com/thermoweb/v2/internal/config"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/router"
	"example.com/thermoweb/v2/internal/server"
	"example.com/thermoweb/v2/internal/thermostat"
)

const (
	successBody      = "post processed successfully"
	unknownRouteBody = "couldn't match that req to a server function"

	// defaultCommandPrefix is used when the request did not come through a
	// wildcard route.
	defaultCommandPrefix = "/api/"
)

// commands maps the final path segment to the setpoint it writes.
var commands = map[string]thermostat.Setpoint{
	"set_temp":         thermostat.Goal,
	"set_upper_margin": thermostat.UpperMargin,
	"set_lower_margin": thermostat.LowerMargin,
}

// readDeadliner is implemented by server.HTTPResponseWriter.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Handler receives a short numeric body and stores it into one setpoint.
type Handler struct {
	setpoints *thermostat.Setpoints
	display   thermostat.Display
	cfg       *config.APICommandConfig
	log       *logger.Logger
}

// New creates an API command handler. cfg must have been through
// config.ParseAndValidateAPICommandConfig.
func New(sp *thermostat.Setpoints, display thermostat.Display, cfg *config.APICommandConfig, lg *logger.Logger) (*Handler, error) {
	if sp == nil {
		return nil, fmt.Errorf("setpoints cannot be nil")
	}
	if display == nil {
		return nil, fmt.Errorf("display cannot be nil")
	}
	if cfg == nil || cfg.MaxBodyBytes == nil || cfg.ReceiveTimeout == nil || cfg.RedirectLocation == nil {
		return nil, fmt.Errorf("api command config is incomplete")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Handler{setpoints: sp, display: display, cfg: cfg, log: lg}, nil
}

func (h *Handler) Serve(resp server.ResponseWriter, req *http.Request) error {
	h.log.Info("Post received", logger.LogFields{"uri": req.RequestURI, "content_length": req.ContentLength})

	content, err := h.receive(resp, req)
	if err != nil {
		if errors.Is(err, server.ErrReceiveTimeout) {
			server.SendDefaultErrorResponse(resp, http.StatusRequestTimeout, req, "", h.log)
		}
		return err
	}
	h.log.Debug("Post content", logger.LogFields{"content": string(content)})

	which, ok := commands[commandName(req)]
	if !ok {
		h.log.Info("Post not handled by any command, responding unsupported", logger.LogFields{"uri": req.RequestURI})
		resp.SetStatus(http.StatusNotImplemented)
		if err := resp.Send([]byte(unknownRouteBody)); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", server.ErrUnknownAPIRoute, req.RequestURI)
	}

	value := ParseFloat(string(content))
	if err := h.setpoints.Set(which, value); err != nil {
		return err
	}
	h.log.Info("Setpoint updated", logger.LogFields{"setpoint": which.String(), "value": value})
	h.display.Update()

	resp.SetStatus(http.StatusSeeOther)
	resp.SetHeader("Location", *h.cfg.RedirectLocation)
	return resp.Send([]byte(successBody))
}

// receive reads at most min(ContentLength, max_body_bytes) bytes. A partial
// body is accepted; an error before any byte arrives is a receive failure.
func (h *Handler) receive(resp server.ResponseWriter, req *http.Request) ([]byte, error) {
	limit := int64(*h.cfg.MaxBodyBytes)
	if req.ContentLength >= 0 && req.ContentLength < limit {
		limit = req.ContentLength
	}
	if limit == 0 || req.Body == nil {
		return nil, nil
	}

	if d, ok := resp.(readDeadliner); ok {
		err := d.SetReadDeadline(time.Now().Add(h.cfg.ReceiveTimeout.Duration))
		if err == nil {
			defer d.SetReadDeadline(time.Time{})
		} else if !errors.Is(err, http.ErrNotSupported) {
			h.log.Debug("Could not set receive deadline", logger.LogFields{"error": err.Error()})
		}
	}

	buf := make([]byte, limit)
	n, err := io.ReadFull(req.Body, buf)
	switch {
	case err == nil, errors.Is(err, io.EOF) && n == 0 && req.ContentLength <= 0:
		return buf[:n], nil
	case n > 0:
		h.log.Debug("Short request body accepted", logger.LogFields{"received": n, "wanted": limit, "error": err.Error()})
		return buf[:n], nil
	case isTimeout(err):
		h.log.Warn("Request body receive timed out", logger.LogFields{"uri": req.RequestURI, "timeout": h.cfg.ReceiveTimeout.String()})
		return nil, fmt.Errorf("%w: %v", server.ErrReceiveTimeout, err)
	}
	return nil, fmt.Errorf("%w: %v", server.ErrReceiveFailed, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// commandName strips the route's literal prefix from the request path.
func commandName(req *http.Request) string {
	p := req.URL.EscapedPath()
	prefix := defaultCommandPrefix
	if pattern, ok := req.Context().Value(router.MatchedPathPatternKey).(string); ok && strings.HasSuffix(strings.TrimSuffix(pattern, "?"), "*") {
		prefix = strings.TrimRight(pattern, "?*")
	}
	name, ok := strings.CutPrefix(p, prefix)
	if !ok {
		return ""
	}
	return name
}
