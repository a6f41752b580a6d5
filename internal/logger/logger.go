package logger

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/thermoweb/v2/internal/config"
)

// TimeFormat is the timestamp layout used by every log line (always UTC).
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.MessageFieldName = "msg"
	zerolog.TimeFieldFormat = TimeFormat
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

// LogFields carries structured key/value pairs attached to a log line.
type LogFields map[string]interface{}

// parsedProxiesContainer holds pre-parsed trusted proxy IP addresses and CIDR blocks.
type parsedProxiesContainer struct {
	cidrs []*net.IPNet
	ips   []net.IP
}

// logTarget is the writer behind a zerolog.Logger. File targets can be
// reopened in place, which is what SIGHUP-driven rotation relies on.
type logTarget struct {
	mu   sync.Mutex
	path string // empty for stdio and injected writers
	w    io.Writer
	f    *os.File
}

func openTarget(target string) (*logTarget, error) {
	switch target {
	case "", "stdout":
		return &logTarget{w: os.Stdout}, nil
	case "stderr":
		return &logTarget{w: os.Stderr}, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &logTarget{path: target, w: f, f: f}, nil
}

func (t *logTarget) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w.Write(p)
}

func (t *logTarget) reopen() error {
	if t.path == "" {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f != nil {
		_ = t.f.Close()
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// Keep logging somewhere rather than into a closed descriptor.
		t.w, t.f = os.Stderr, nil
		return fmt.Errorf("failed to reopen log file %s: %w", t.path, err)
	}
	t.w, t.f = f, f
	return nil
}

func (t *logTarget) close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	t.w = io.Discard
	return err
}

func newZerolog(out io.Writer, format string) zerolog.Logger {
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: TimeFormat}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// AccessLogger handles access logging.
type AccessLogger struct {
	zl            zerolog.Logger
	target        *logTarget
	realIPHeader  string
	parsedProxies parsedProxiesContainer
}

// ErrorLogger handles error logging.
type ErrorLogger struct {
	zl     zerolog.Logger
	target *logTarget
}

// Logger is a general logger that contains specific loggers for access and errors.
type Logger struct {
	accessLog *AccessLogger
	errorLog  *ErrorLogger
}

// NewLogger creates and configures a new Logger instance.
func NewLogger(cfg *config.LoggingConfig) (*Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("logging configuration cannot be nil")
	}

	errCfg := config.ErrorLogConfig{Target: "stderr", Format: "json"}
	if cfg.ErrorLog != nil {
		errCfg = *cfg.ErrorLog
	}
	errTarget, err := openTarget(errCfg.Target)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log file %s: %w", errCfg.Target, err)
	}
	l := &Logger{
		errorLog: &ErrorLogger{
			zl:     newZerolog(errTarget, errCfg.Format).Level(zerologLevel(cfg.LogLevel)),
			target: errTarget,
		},
	}

	if cfg.AccessLog != nil && (cfg.AccessLog.Enabled == nil || *cfg.AccessLog.Enabled) {
		parsedProxies, err := preParseTrustedProxies(cfg.AccessLog.TrustedProxies)
		if err != nil {
			_ = errTarget.close()
			return nil, fmt.Errorf("failed to parse trusted proxies for access log: %w", err)
		}
		accTarget, err := openTarget(cfg.AccessLog.Target)
		if err != nil {
			_ = errTarget.close()
			return nil, fmt.Errorf("failed to open access log file %s: %w", cfg.AccessLog.Target, err)
		}
		al := &AccessLogger{
			zl:            newZerolog(accTarget, cfg.AccessLog.Format),
			target:        accTarget,
			parsedProxies: parsedProxies,
		}
		if cfg.AccessLog.RealIPHeader != nil {
			al.realIPHeader = *cfg.AccessLog.RealIPHeader
		}
		l.accessLog = al
	}
	return l, nil
}

// NewTestLogger returns a DEBUG level logger that writes JSON access and
// error lines to out.
func NewTestLogger(out io.Writer) *Logger {
	t := &logTarget{w: out}
	return &Logger{
		accessLog: &AccessLogger{zl: newZerolog(t, "json"), target: t},
		errorLog:  &ErrorLogger{zl: newZerolog(t, "json").Level(zerolog.DebugLevel), target: t},
	}
}

// NewDiscardLogger returns a logger that drops everything.
func NewDiscardLogger() *Logger {
	return &Logger{
		errorLog: &ErrorLogger{zl: zerolog.Nop(), target: &logTarget{w: io.Discard}},
	}
}

func zerologLevel(level config.LogLevel) zerolog.Level {
	switch level {
	case config.LogLevelDebug:
		return zerolog.DebugLevel
	case config.LogLevelWarning:
		return zerolog.WarnLevel
	case config.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// preParseTrustedProxies converts string representations of IPs and CIDRs
// into net.IP and *net.IPNet objects for efficient checking.
func preParseTrustedProxies(proxyStrings []string) (parsedProxiesContainer, error) {
	var container parsedProxiesContainer
	for _, pStr := range proxyStrings {
		pStr = strings.TrimSpace(pStr)
		if pStr == "" {
			continue
		}
		if strings.Contains(pStr, "/") {
			_, ipNet, err := net.ParseCIDR(pStr)
			if err != nil {
				return parsedProxiesContainer{}, fmt.Errorf("invalid CIDR string in trusted_proxies '%s': %w", pStr, err)
			}
			container.cidrs = append(container.cidrs, ipNet)
			continue
		}
		ip := net.ParseIP(pStr)
		if ip == nil {
			return parsedProxiesContainer{}, fmt.Errorf("invalid IP string in trusted_proxies '%s'", pStr)
		}
		container.ips = append(container.ips, ip)
	}
	return container, nil
}

func isIPTrusted(ip net.IP, trustedProxies parsedProxiesContainer) bool {
	if ip == nil {
		return false
	}
	for _, trustedCIDR := range trustedProxies.cidrs {
		if trustedCIDR.Contains(ip) {
			return true
		}
	}
	for _, trustedIP := range trustedProxies.ips {
		if trustedIP.Equal(ip) {
			return true
		}
	}
	return false
}

// getRealClientIP determines the client's address from the peer address and,
// when configured, the real IP header. The header is walked right to left and
// the first address that is not a trusted proxy wins. A malformed entry falls
// back to the direct peer.
func getRealClientIP(remoteAddr string, headers http.Header, realIPHeaderName string, trustedProxies parsedProxiesContainer) string {
	peer := remoteAddr
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		peer = host
	} else if ip := net.ParseIP(remoteAddr); ip != nil {
		peer = ip.String()
	}

	if realIPHeaderName == "" {
		return peer
	}
	headerValue := headers.Get(realIPHeaderName)
	if headerValue == "" {
		return peer
	}

	ipsInHeader := strings.Split(headerValue, ",")
	for i := len(ipsInHeader) - 1; i >= 0; i-- {
		ipStr := strings.TrimSpace(ipsInHeader[i])
		if ipStr == "" {
			continue
		}
		ip := net.ParseIP(ipStr)
		if ip == nil {
			return peer
		}
		if !isIPTrusted(ip, trustedProxies) {
			return ipStr
		}
	}
	return peer
}

// LogAccess writes one access log entry.
func (al *AccessLogger) LogAccess(req *http.Request, requestID uint64, status int, responseBytes int64, duration time.Duration) {
	if al == nil {
		return
	}
	_, port, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		port = "0"
	}

	ev := al.zl.Log().
		Str("remote_addr", getRealClientIP(req.RemoteAddr, req.Header, al.realIPHeader, al.parsedProxies)).
		Str("remote_port", port).
		Str("protocol", req.Proto).
		Str("method", req.Method).
		Str("uri", req.RequestURI).
		Int("status", status).
		Int64("resp_bytes", responseBytes).
		Int64("duration_ms", duration.Milliseconds()).
		Uint64("request_id", requestID)
	if ua := req.UserAgent(); ua != "" {
		ev = ev.Str("user_agent", ua)
	}
	if ref := req.Referer(); ref != "" {
		ev = ev.Str("referer", ref)
	}
	ev.Send()
}

// LogError writes an error log entry if level passes the configured threshold.
func (el *ErrorLogger) LogError(level zerolog.Level, msg string, fields ...LogFields) {
	if el == nil {
		return
	}
	ev := el.zl.WithLevel(level)
	for _, f := range fields {
		if len(f) > 0 {
			ev = ev.Fields(map[string]interface{}(f))
		}
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, fields ...LogFields) {
	l.errorLog.LogError(zerolog.DebugLevel, msg, fields...)
}

func (l *Logger) Info(msg string, fields ...LogFields) {
	l.errorLog.LogError(zerolog.InfoLevel, msg, fields...)
}

func (l *Logger) Warn(msg string, fields ...LogFields) {
	l.errorLog.LogError(zerolog.WarnLevel, msg, fields...)
}

func (l *Logger) Error(msg string, fields ...LogFields) {
	l.errorLog.LogError(zerolog.ErrorLevel, msg, fields...)
}

// Access records a completed request. It is a no-op when access logging is disabled.
func (l *Logger) Access(req *http.Request, requestID uint64, status int, responseBytes int64, duration time.Duration) {
	l.accessLog.LogAccess(req, requestID, status, responseBytes, duration)
}

// CloseLogFiles closes file-backed targets. Stdio is left open.
func (l *Logger) CloseLogFiles() error {
	var firstErr error
	if l.accessLog != nil {
		firstErr = l.accessLog.target.close()
	}
	if err := l.errorLog.target.close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ReopenLogFiles closes and reopens file-backed targets at the same path,
// so an external rotator can move the old file away first.
func (l *Logger) ReopenLogFiles() error {
	if err := l.errorLog.target.reopen(); err != nil {
		return err
	}
	if l.accessLog != nil {
		if err := l.accessLog.target.reopen(); err != nil {
			return err
		}
	}
	return nil
}
