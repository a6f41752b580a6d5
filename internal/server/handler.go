package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"example.com/thermoweb/v2/internal/logger"
)

// HandlerFactory builds a handler from its route's opaque handler_config.
type HandlerFactory func(handlerConfig json.RawMessage, lg *logger.Logger) (Handler, error)

// HandlerRegistry maps handler_type strings from the configuration to the
// factories that build them.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{factories: make(map[string]HandlerFactory)}
}

// Register associates a handler type with a factory. Registering the same
// type twice is an error.
func (r *HandlerRegistry) Register(handlerType string, factory HandlerFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[handlerType]; exists {
		return fmt.Errorf("handler type '%s' already registered", handlerType)
	}
	r.factories[handlerType] = factory
	return nil
}

func (r *HandlerRegistry) GetFactory(handlerType string) (HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[handlerType]
	return factory, ok
}

// CreateHandler builds a handler of the given type.
func (r *HandlerRegistry) CreateHandler(handlerType string, handlerConfig json.RawMessage, lg *logger.Logger) (Handler, error) {
	factory, ok := r.GetFactory(handlerType)
	if !ok {
		return nil, fmt.Errorf("no handler factory registered for type '%s'", handlerType)
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil when creating handler type '%s'", handlerType)
	}
	return factory(handlerConfig, lg)
}

// ResponseWriter is the chunk-oriented response surface handlers write to.
// Status, type and headers may be set until the first byte goes out.
type ResponseWriter interface {
	SetStatus(code int)
	SetType(contentType string)
	SetHeader(name, value string)

	// SendChunk writes one body chunk and flushes it. An empty chunk
	// terminates the response; later chunks fail with ErrResponseFinished.
	SendChunk(p []byte) error
	// Send writes a complete body with a Content-Length and terminates the
	// response.
	Send(body []byte) error

	// Committed reports whether the status line has been written.
	Committed() bool
	Status() int
	BytesWritten() int64
}

// Handler processes requests for a route. A non-nil error means the
// request failed; the handler has already sent whatever response it could.
type Handler interface {
	Serve(resp ResponseWriter, req *http.Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(resp ResponseWriter, req *http.Request) error

func (f HandlerFunc) Serve(resp ResponseWriter, req *http.Request) error { return f(resp, req) }

// RouterInterface is what the transport dispatches every request to.
type RouterInterface interface {
	http.Handler
}
