package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/uripath"
)

// Request failure taxonomy shared by the handlers.
var (
	ErrPathTooLong     = uripath.ErrPathTooLong
	ErrFileNotFound    = errors.New("file does not exist")
	ErrFileOpenFailed  = errors.New("failed to open file")
	ErrFileReadFailed  = errors.New("failed to read file")
	ErrSendFailed      = errors.New("failed to send response")
	ErrReceiveTimeout  = errors.New("request body receive timed out")
	ErrReceiveFailed   = errors.New("request body receive failed")
	ErrUnknownAPIRoute = errors.New("no server function matches request")

	// ErrResponseCommitted is returned when an error response is attempted
	// after the status line has already been sent.
	ErrResponseCommitted = errors.New("response already committed")
	// ErrResponseFinished is returned for writes after the terminating chunk.
	ErrResponseFinished = errors.New("response already finished")
)

// jsonMarshalFunc allows swapping out json.Marshal for testing.
var jsonMarshalFunc = json.Marshal

// ErrorDetail represents the inner structure of a JSON error response.
type ErrorDetail struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorResponseJSON represents the full JSON error response body.
type ErrorResponseJSON struct {
	Error ErrorDetail `json:"error"`
}

type htmlMessage struct {
	Title   string
	Heading string
	Message string
}

var defaultHTMLMessages = map[int]htmlMessage{
	http.StatusNotFound: {
		Title:   "404 Not Found",
		Heading: "Not Found",
		Message: "The requested resource was not found on this server.",
	},
	http.StatusMethodNotAllowed: {
		Title:   "405 Method Not Allowed",
		Heading: "Method Not Allowed",
		Message: "The method is not allowed for the requested URL.",
	},
	http.StatusRequestTimeout: {
		Title:   "408 Request Timeout",
		Heading: "Request Timeout",
		Message: "The server timed out waiting for the request body.",
	},
	http.StatusInternalServerError: {
		Title:   "500 Internal Server Error",
		Heading: "Internal Server Error",
		Message: "The server encountered an internal error and was unable to complete your request.",
	},
	http.StatusNotImplemented: {
		Title:   "501 Not Implemented",
		Heading: "Not Implemented",
		Message: "The server does not support the requested function.",
	},
}

// PrefersJSON reports whether the most preferred media type in an Accept
// header is application/json. Ties on q-value go to the more specific type,
// then to the one listed first. An empty header means HTML.
func PrefersJSON(acceptHeaderValue string) bool {
	if acceptHeaderValue == "" {
		return false
	}

	type offer struct {
		mediaType string
		q         float64
		specific  bool
		order     int
	}
	var offers []offer

	for i, part := range strings.Split(acceptHeaderValue, ",") {
		part = strings.TrimSpace(part)
		mediaType, params, _ := strings.Cut(part, ";")
		mediaType = strings.ToLower(strings.TrimSpace(mediaType))
		q := 1.0
		for _, param := range strings.Split(params, ";") {
			param = strings.TrimSpace(param)
			if qStr, ok := strings.CutPrefix(param, "q="); ok {
				parsed, err := strconv.ParseFloat(qStr, 64)
				if err != nil || parsed < 0 || parsed > 1 {
					parsed = 0
				}
				q = parsed
				break
			}
		}
		// q=0 means "not acceptable" (RFC 9110 12.4.2).
		if q > 0 && mediaType != "" {
			offers = append(offers, offer{
				mediaType: mediaType,
				q:         q,
				specific:  !strings.HasSuffix(mediaType, "/*"),
				order:     i,
			})
		}
	}
	if len(offers) == 0 {
		return false
	}

	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].q != offers[j].q {
			return offers[i].q > offers[j].q
		}
		if offers[i].specific != offers[j].specific {
			return offers[i].specific
		}
		return offers[i].order < offers[j].order
	})
	return offers[0].mediaType == "application/json"
}

// WriteErrorResponse sends an error response, as JSON when the Accept header
// prefers it and as a small HTML page otherwise. Error responses are never
// cached and close the connection.
func WriteErrorResponse(resp ResponseWriter, statusCode int, acceptHeader string, detailMessage string, log *logger.Logger) error {
	if resp.Committed() {
		return ErrResponseCommitted
	}
	statusText := http.StatusText(statusCode)
	if statusText == "" {
		statusText = "Error"
	}

	var body []byte
	var contentType string
	sendJSON := PrefersJSON(acceptHeader)
	if sendJSON {
		var err error
		body, err = jsonMarshalFunc(ErrorResponseJSON{Error: ErrorDetail{
			StatusCode: statusCode,
			Message:    statusText,
			Detail:     detailMessage,
		}})
		if err != nil {
			if log != nil {
				log.Error("Failed to marshal JSON error response, falling back to HTML", logger.LogFields{"error": err.Error(), "status_code": statusCode})
			}
			sendJSON = false
		} else {
			contentType = "application/json; charset=utf-8"
		}
	}
	if !sendJSON {
		contentType = "text/html; charset=utf-8"
		msg, known := defaultHTMLMessages[statusCode]
		if !known {
			msg = htmlMessage{
				Title:   fmt.Sprintf("%d %s", statusCode, statusText),
				Heading: statusText,
				Message: "The server encountered an error processing your request.",
			}
		}
		message := msg.Message
		if detailMessage != "" {
			if known {
				message += " " + html.EscapeString(detailMessage)
			} else {
				message = html.EscapeString(detailMessage)
			}
		}
		body = GenerateHTMLResponseBody(msg.Title, msg.Heading, message)
	}

	resp.SetStatus(statusCode)
	resp.SetType(contentType)
	resp.SetHeader("Cache-Control", "no-cache, no-store, must-revalidate")
	resp.SetHeader("Pragma", "no-cache")
	resp.SetHeader("Expires", "0")
	resp.SetHeader("Connection", "close")
	if err := resp.Send(body); err != nil {
		return fmt.Errorf("failed to send error response (status %d): %w", statusCode, err)
	}
	return nil
}

// SendDefaultErrorResponse is WriteErrorResponse with the Accept header taken
// from req. Failures are logged, not returned.
func SendDefaultErrorResponse(resp ResponseWriter, statusCode int, req *http.Request, detail string, log *logger.Logger) {
	accept := ""
	if req != nil {
		accept = req.Header.Get("Accept")
	}
	err := WriteErrorResponse(resp, statusCode, accept, detail, log)
	if err == nil || log == nil {
		return
	}
	fields := logger.LogFields{"status_code": statusCode, "error": err.Error()}
	if req != nil {
		fields["uri"] = req.RequestURI
	}
	if errors.Is(err, ErrResponseCommitted) {
		log.Debug("Error response suppressed, headers already sent", fields)
		return
	}
	log.Error("Failed to send error response", fields)
}

// GenerateHTMLResponseBody renders the HTML error page. message is inserted
// as-is and must already be escaped.
func GenerateHTMLResponseBody(title, heading, message string) []byte {
	return []byte(fmt.Sprintf(`<html><head><title>%s</title></head><body><h1>%s</h1><p>%s</p></body></html>`,
		html.EscapeString(title), html.EscapeString(heading), message))
}

// TestingOnlySetJSONMarshal is used by tests to mock json.Marshal behavior.
func TestingOnlySetJSONMarshal(fn func(v interface{}) ([]byte, error)) func(v interface{}) ([]byte, error) {
	original := jsonMarshalFunc
	jsonMarshalFunc = fn
	return original
}
