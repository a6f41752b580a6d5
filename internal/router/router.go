package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"example.com/thermoweb/v2/internal/config"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/server"
)

type contextKey string

const (
	// MatchedPathPatternKey holds the path_pattern of the route serving the request.
	MatchedPathPatternKey contextKey = "matchedPathPattern"
	// RequestIDKey holds the uint64 id also written to the access log.
	RequestIDKey contextKey = "requestID"
)

// RequestID returns the id the router assigned to the request, or 0.
func RequestID(ctx context.Context) uint64 {
	id, _ := ctx.Value(RequestIDKey).(uint64)
	return id
}

// entry is a configured route with its handler, built once at startup.
type entry struct {
	route   config.Route
	handler server.Handler
}

func (e *entry) matches(path string) bool {
	switch e.route.MatchType {
	case config.MatchTypeExact:
		return path == e.route.PathPattern
	case config.MatchTypePrefix:
		return strings.HasPrefix(path, e.route.PathPattern)
	case config.MatchTypeWildcard:
		return MatchWildcard(e.route.PathPattern, path)
	}
	return false
}

// Router holds the routing table and dispatches requests.
type Router struct {
	// exactRoutes is keyed by PathPattern; one entry per method.
	exactRoutes map[string][]*entry
	// patternRoutes holds Prefix and Wildcard routes, longest pattern first.
	patternRoutes []*entry

	log         *logger.Logger
	nextID      atomic.Uint64
	sendTimeout time.Duration
}

// NewRouter builds every route's handler from the registry. A handler that
// fails to build fails the whole router.
func NewRouter(routes []config.Route, registry *server.HandlerRegistry, lg *logger.Logger) (*Router, error) {
	if registry == nil {
		return nil, fmt.Errorf("handler registry cannot be nil")
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	r := &Router{exactRoutes: make(map[string][]*entry), log: lg}
	for i, route := range routes {
		handler, err := registry.CreateHandler(route.HandlerType, route.HandlerConfig, lg)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s %s): %w", i, route.Method, route.PathPattern, err)
		}
		e := &entry{route: route, handler: handler}
		if route.MatchType == config.MatchTypeExact {
			r.exactRoutes[route.PathPattern] = append(r.exactRoutes[route.PathPattern], e)
			continue
		}
		r.patternRoutes = append(r.patternRoutes, e)
	}
	sort.SliceStable(r.patternRoutes, func(i, j int) bool {
		return len(r.patternRoutes[i].route.PathPattern) > len(r.patternRoutes[j].route.PathPattern)
	})
	return r, nil
}

// SetSendTimeout bounds each body write of every response. Call it before
// serving.
func (r *Router) SetSendTimeout(d time.Duration) { r.sendTimeout = d }

// MatchWildcard reports whether path matches an esp_http_server style
// template. A trailing '*' matches any suffix. A '?' at the end of the
// template, or next to a trailing '*' on either side, makes the preceding
// character optional.
func MatchWildcard(pattern, path string) bool {
	tpl := pattern
	if strings.HasSuffix(tpl, "*?") {
		tpl = tpl[:len(tpl)-2] + "?*"
	}
	asterisk := strings.HasSuffix(tpl, "*")
	if asterisk {
		tpl = tpl[:len(tpl)-1]
	}
	quest := strings.HasSuffix(tpl, "?")
	if quest {
		tpl = tpl[:len(tpl)-1]
		if len(tpl) > 0 && path == tpl[:len(tpl)-1] {
			return true
		}
	}
	if asterisk {
		return strings.HasPrefix(path, tpl)
	}
	return path == tpl
}

// methodMatches treats HEAD as GET when no HEAD route exists; net/http
// drops the body.
func methodMatches(routeMethod, reqMethod string) bool {
	return routeMethod == reqMethod || (reqMethod == http.MethodHead && routeMethod == http.MethodGet)
}

// FindRoute returns the route serving method and path. Exact routes take
// precedence over patterns, and longer patterns over shorter ones. When the
// path matches but no route accepts the method, the accepted methods are
// returned instead.
func (r *Router) FindRoute(method, path string) (*config.Route, server.Handler, []string) {
	var allowed []string
	seen := make(map[string]bool)
	consider := func(e *entry) bool {
		if e.route.Method == method {
			return true
		}
		if !seen[e.route.Method] {
			seen[e.route.Method] = true
			allowed = append(allowed, e.route.Method)
		}
		return false
	}

	var headFallback *entry
	for _, e := range r.exactRoutes[path] {
		if consider(e) {
			return &e.route, e.handler, nil
		}
		if headFallback == nil && methodMatches(e.route.Method, method) {
			headFallback = e
		}
	}
	if headFallback == nil {
		for _, e := range r.patternRoutes {
			if !e.matches(path) {
				continue
			}
			if consider(e) {
				return &e.route, e.handler, nil
			}
			if headFallback == nil && methodMatches(e.route.Method, method) {
				headFallback = e
			}
		}
	}
	if headFallback != nil {
		return &headFallback.route, headFallback.handler, nil
	}
	sort.Strings(allowed)
	return nil, nil, allowed
}

// ServeHTTP dispatches the request, sends 404/405 when nothing matches and a
// 500 when a handler fails before sending anything.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()
	id := r.nextID.Add(1)
	resp := server.NewResponseWriter(w)
	resp.SetSendTimeout(r.sendTimeout)
	defer func() {
		r.log.Access(req, id, resp.Status(), resp.BytesWritten(), time.Since(start))
	}()

	path := req.URL.EscapedPath()
	route, handler, allowed := r.FindRoute(req.Method, path)
	if route == nil {
		if len(allowed) > 0 {
			r.log.Info("Method not allowed", logger.LogFields{"path": path, "method": req.Method, "request_id": id})
			resp.SetHeader("Allow", strings.Join(allowed, ", "))
			server.SendDefaultErrorResponse(resp, http.StatusMethodNotAllowed, req, "", r.log)
			return
		}
		r.log.Info("No route matched for request", logger.LogFields{"path": path, "method": req.Method, "request_id": id})
		server.SendDefaultErrorResponse(resp, http.StatusNotFound, req, "", r.log)
		return
	}

	ctx := context.WithValue(req.Context(), MatchedPathPatternKey, route.PathPattern)
	ctx = context.WithValue(ctx, RequestIDKey, id)
	req = req.WithContext(ctx)

	err := handler.Serve(resp, req)
	if err == nil {
		return
	}
	fields := logger.LogFields{
		"path":         path,
		"handler_type": route.HandlerType,
		"request_id":   id,
		"committed":    resp.Committed(),
		"error":        err.Error(),
	}
	switch {
	case errors.Is(err, server.ErrReceiveFailed) && !resp.Committed():
		r.log.Warn("Request body receive failed, dropping connection", fields)
		panic(http.ErrAbortHandler)
	case errors.Is(err, server.ErrFileNotFound), errors.Is(err, server.ErrUnknownAPIRoute), errors.Is(err, server.ErrReceiveTimeout):
		r.log.Info("Request rejected", fields)
	case errors.Is(err, server.ErrSendFailed):
		r.log.Warn("Response send failed", fields)
	default:
		r.log.Error("Handler failed", fields)
	}
	if !resp.Committed() {
		server.SendDefaultErrorResponse(resp, http.StatusInternalServerError, req, "", r.log)
	}
}
