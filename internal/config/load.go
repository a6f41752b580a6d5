package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAddress  = ":8080"
	DefaultBasePath = "/spiffs"

	// VFSPathMax is the longest base path a mount point may use.
	VFSPathMax = 15
	// ObjNameLen is the longest object name the flash filesystem stores.
	ObjNameLen = 32
	// DefaultMaxPathLength bounds base path plus logical path.
	DefaultMaxPathLength = VFSPathMax + ObjNameLen

	DefaultScratchSize     = 8192
	DefaultMaxBodyBytes    = 100
	DefaultReceiveTimeout  = 5 * time.Second
	DefaultShutdownTimeout = 5 * time.Second
	DefaultSendTimeout     = 5 * time.Second // per body write
	DefaultReadTimeout     = 10 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultSensorInterval  = 10 * time.Second

	DefaultGoal        = 20.0
	DefaultUpperMargin = 1.0
	DefaultLowerMargin = 1.0
)

// ConfigError reports a problem loading or validating configuration.
type ConfigError struct {
	FilePath string
	Message  string
	Err      error
}

func (e *ConfigError) Error() string {
	var sb strings.Builder
	sb.WriteString("config")
	if e.FilePath != "" {
		sb.WriteString(" ")
		sb.WriteString(e.FilePath)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Duration wraps time.Duration so it can be written as "5s" in JSON and TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string. Durations must be positive.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		return fmt.Errorf("duration string cannot be empty")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("duration must be positive, got %q", s)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultRoutes returns the three handler families: status poll, API command
// and the catch-all file resolver. Exact and longer patterns win, so order
// does not matter.
func DefaultRoutes() []Route {
	return []Route{
		{Method: http.MethodGet, PathPattern: "/update", MatchType: MatchTypeExact, HandlerType: HandlerTypeStatusPoll},
		{Method: http.MethodGet, PathPattern: "/*", MatchType: MatchTypeWildcard, HandlerType: HandlerTypeFileServer},
		{Method: http.MethodPost, PathPattern: "/api/*", MatchType: MatchTypeWildcard, HandlerType: HandlerTypeAPICommand},
	}
}

// Default returns a configuration with every optional value filled in. The
// storage root still has to be provided before Validate passes.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// LoadConfig reads, parses, defaults and validates a configuration file.
// The format is chosen by extension (.json, .toml); anything else is
// auto-detected from the content.
func LoadConfig(path string) (*Config, error) {
	cfg, err := LoadConfigUnvalidated(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		if ce, ok := err.(*ConfigError); ok && ce.FilePath == "" {
			ce.FilePath = path
		}
		return nil, err
	}
	return cfg, nil
}

// LoadConfigUnvalidated is LoadConfig without the final Validate, for
// callers that apply overrides first.
func LoadConfigUnvalidated(path string) (*Config, error) {
	if path == "" {
		return nil, &ConfigError{Message: "configuration file path cannot be empty"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to read configuration file", Err: err}
	}

	cfg, err := parseConfig(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, &ConfigError{FilePath: path, Message: "failed to parse configuration", Err: err}
	}

	ApplyDefaults(cfg)
	resolveRelativePaths(cfg, path)
	return cfg, nil
}

func parseConfig(data []byte, ext string) (*Config, error) {
	switch ext {
	case ".json":
		return parseJSON(data)
	case ".toml":
		return parseTOML(data)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		cfg, err := parseJSON(data)
		if err == nil {
			return cfg, nil
		}
	}
	cfg, err := parseTOML(data)
	if err != nil {
		return nil, fmt.Errorf("content is neither valid JSON nor valid TOML: %w", err)
	}
	return cfg, nil
}

func parseJSON(data []byte) (*Config, error) {
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return &cfg, nil
}

// parseTOML decodes into a generic document and re-encodes it as JSON so
// that opaque handler_config tables end up as json.RawMessage.
func parseTOML(data []byte) (*Config, error) {
	var doc map[string]interface{}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, fmt.Errorf("toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("toml: undecoded keys %v", undecoded)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("toml: empty input")
	}
	intermediate, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("toml: re-encoding document: %w", err)
	}
	return parseJSON(intermediate)
}

// resolveRelativePaths makes the storage root and file log targets absolute,
// relative to the directory holding the configuration file.
func resolveRelativePaths(cfg *Config, cfgPath string) {
	dir := filepath.Dir(cfgPath)
	if cfg.Storage != nil && cfg.Storage.Root != "" && !filepath.IsAbs(cfg.Storage.Root) {
		cfg.Storage.Root = filepath.Join(dir, cfg.Storage.Root)
	}
	if cfg.Logging != nil {
		if al := cfg.Logging.AccessLog; al != nil && IsFilePath(al.Target) && !filepath.IsAbs(al.Target) {
			al.Target = filepath.Join(dir, al.Target)
		}
		if el := cfg.Logging.ErrorLog; el != nil && IsFilePath(el.Target) && !filepath.IsAbs(el.Target) {
			el.Target = filepath.Join(dir, el.Target)
		}
	}
}

// ApplyDefaults fills every unset optional value.
func ApplyDefaults(cfg *Config) {
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	s := cfg.Server
	if s.Address == nil {
		s.Address = strPtr(DefaultAddress)
	}
	if s.BasePath == nil {
		s.BasePath = strPtr(DefaultBasePath)
	}
	if s.ScratchSize == nil {
		s.ScratchSize = intPtr(DefaultScratchSize)
	}
	if s.MaxPathLength == nil {
		s.MaxPathLength = intPtr(DefaultMaxPathLength)
	}
	if s.ReadTimeout == nil {
		s.ReadTimeout = &Duration{DefaultReadTimeout}
	}
	if s.SendTimeout == nil {
		s.SendTimeout = &Duration{DefaultSendTimeout}
	}
	if s.IdleTimeout == nil {
		s.IdleTimeout = &Duration{DefaultIdleTimeout}
	}
	if s.GracefulShutdownTimeout == nil {
		s.GracefulShutdownTimeout = &Duration{DefaultShutdownTimeout}
	}
	if s.EnableH2C == nil {
		s.EnableH2C = boolPtr(true)
	}

	if cfg.Storage == nil {
		cfg.Storage = &StorageConfig{}
	}
	if cfg.Storage.MountPoint == "" {
		cfg.Storage.MountPoint = DefaultBasePath
	}

	if cfg.Routing == nil {
		cfg.Routing = &RoutingConfig{}
	}
	if len(cfg.Routing.Routes) == 0 {
		cfg.Routing.Routes = DefaultRoutes()
	}
	for i := range cfg.Routing.Routes {
		r := &cfg.Routing.Routes[i]
		r.Method = strings.ToUpper(r.Method)
		if r.Method == "" {
			r.Method = http.MethodGet
		}
	}

	if cfg.Thermostat == nil {
		cfg.Thermostat = &ThermostatConfig{}
	}
	if cfg.Thermostat.Goal == nil {
		cfg.Thermostat.Goal = floatPtr(DefaultGoal)
	}
	if cfg.Thermostat.UpperMargin == nil {
		cfg.Thermostat.UpperMargin = floatPtr(DefaultUpperMargin)
	}
	if cfg.Thermostat.LowerMargin == nil {
		cfg.Thermostat.LowerMargin = floatPtr(DefaultLowerMargin)
	}

	if cfg.Sensor == nil {
		cfg.Sensor = &SensorConfig{}
	}
	if cfg.Sensor.Interval == nil {
		cfg.Sensor.Interval = &Duration{DefaultSensorInterval}
	}
	if cfg.Sensor.Scale == nil {
		cfg.Sensor.Scale = floatPtr(1.0)
	}

	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{}
	}
	l := cfg.Logging
	if l.LogLevel == "" {
		l.LogLevel = LogLevelInfo
	}
	l.LogLevel = LogLevel(strings.ToUpper(string(l.LogLevel)))
	if l.AccessLog == nil {
		l.AccessLog = &AccessLogConfig{}
	}
	if l.AccessLog.Enabled == nil {
		l.AccessLog.Enabled = boolPtr(true)
	}
	if l.AccessLog.Target == "" {
		l.AccessLog.Target = "stdout"
	}
	if l.AccessLog.Format == "" {
		l.AccessLog.Format = "json"
	}
	if l.ErrorLog == nil {
		l.ErrorLog = &ErrorLogConfig{}
	}
	if l.ErrorLog.Target == "" {
		l.ErrorLog.Target = "stderr"
	}
	if l.ErrorLog.Format == "" {
		l.ErrorLog.Format = "json"
	}
}

// Validate checks a defaulted configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigError{Message: "configuration cannot be nil"}
	}
	if err := validateServer(cfg.Server); err != nil {
		return err
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}
	if *cfg.Server.MaxPathLength <= len(*cfg.Server.BasePath)+1 {
		return &ConfigError{Message: fmt.Sprintf("server.max_path_length (%d) leaves no room for a path under base path %q",
			*cfg.Server.MaxPathLength, *cfg.Server.BasePath)}
	}
	for i, r := range cfg.Routing.Routes {
		if err := validateRoute(r); err != nil {
			return &ConfigError{Message: fmt.Sprintf("routing.routes[%d]", i), Err: err}
		}
	}
	if cfg.Sensor.Scale != nil && *cfg.Sensor.Scale == 0 {
		return &ConfigError{Message: "sensor.scale cannot be zero"}
	}
	return validateLogging(cfg.Logging)
}

func validateServer(s *ServerConfig) error {
	if s == nil {
		return &ConfigError{Message: "server section is missing"}
	}
	if s.Address == nil || *s.Address == "" {
		return &ConfigError{Message: "server.address cannot be empty"}
	}
	if s.BasePath == nil || !strings.HasPrefix(*s.BasePath, "/") {
		return &ConfigError{Message: "server.base_path must be an absolute virtual path (e.g. /spiffs)"}
	}
	if len(*s.BasePath) > VFSPathMax {
		return &ConfigError{Message: fmt.Sprintf("server.base_path %q exceeds %d characters", *s.BasePath, VFSPathMax)}
	}
	if s.MaxPathLength == nil || *s.MaxPathLength <= 0 {
		return &ConfigError{Message: "server.max_path_length must be positive"}
	}
	if s.SendTimeout != nil && s.SendTimeout.Duration < 0 {
		return &ConfigError{Message: "server.send_timeout cannot be negative"}
	}
	return nil
}

func validateStorage(s *StorageConfig) error {
	if s == nil || s.Root == "" {
		return &ConfigError{Message: "storage.root is required"}
	}
	if !strings.HasPrefix(s.MountPoint, "/") || len(s.MountPoint) > VFSPathMax {
		return &ConfigError{Message: fmt.Sprintf("storage.mount_point %q must be absolute and at most %d characters", s.MountPoint, VFSPathMax)}
	}
	return nil
}

func validateRoute(r Route) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodPatch:
	default:
		return fmt.Errorf("unsupported method %q", r.Method)
	}
	if !strings.HasPrefix(r.PathPattern, "/") {
		return fmt.Errorf("path_pattern %q must start with '/'", r.PathPattern)
	}
	switch r.MatchType {
	case MatchTypeExact, MatchTypePrefix:
	case MatchTypeWildcard:
		tail := strings.TrimSuffix(r.PathPattern, "*?")
		if i := strings.IndexByte(tail, '*'); i != -1 && i != len(tail)-1 {
			return fmt.Errorf("wildcard '*' must be the last character of %q (or be followed by a final '?')", r.PathPattern)
		}
	default:
		return fmt.Errorf("invalid match_type %q", r.MatchType)
	}
	if r.HandlerType == "" {
		return fmt.Errorf("handler_type cannot be empty")
	}
	return nil
}

func validateLogging(l *LoggingConfig) error {
	switch l.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
	default:
		return &ConfigError{Message: fmt.Sprintf("invalid logging.log_level %q", l.LogLevel)}
	}
	if err := validateTarget("logging.access_log.target", l.AccessLog.Target); err != nil {
		return err
	}
	if err := validateTarget("logging.error_log.target", l.ErrorLog.Target); err != nil {
		return err
	}
	for _, f := range []string{l.AccessLog.Format, l.ErrorLog.Format} {
		if f != "json" && f != "console" {
			return &ConfigError{Message: fmt.Sprintf("invalid log format %q (want json or console)", f)}
		}
	}
	return nil
}

func validateTarget(field, target string) error {
	if IsFilePath(target) && !filepath.IsAbs(target) {
		return &ConfigError{Message: fmt.Sprintf("%s %q must be stdout, stderr or an absolute path", field, target)}
	}
	return nil
}

// ParseAndValidateFileServerConfig decodes a FileServer handler_config and
// resolves its MIME mappings. mainConfigFilePath anchors a relative
// mime_types_path; it may be empty.
func ParseAndValidateFileServerConfig(raw json.RawMessage, mainConfigFilePath string) (*FileServerConfig, error) {
	cfg := &FileServerConfig{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, &ConfigError{FilePath: mainConfigFilePath, Message: "invalid FileServer handler_config", Err: err}
		}
	}

	resolved := make(map[string]string)
	for ext, mimeType := range cfg.MimeTypes {
		if err := validateMimeEntry(ext, mimeType); err != nil {
			return nil, &ConfigError{FilePath: mainConfigFilePath, Message: "invalid mime_types entry", Err: err}
		}
		resolved[strings.ToLower(ext)] = mimeType
	}

	if cfg.MimeTypesPath != nil && *cfg.MimeTypesPath != "" {
		mimePath := *cfg.MimeTypesPath
		if !filepath.IsAbs(mimePath) && mainConfigFilePath != "" {
			mimePath = filepath.Join(filepath.Dir(mainConfigFilePath), mimePath)
		}
		data, err := os.ReadFile(mimePath)
		if err != nil {
			return nil, &ConfigError{FilePath: mimePath, Message: "failed to read custom MIME types file", Err: err}
		}
		var fromFile map[string]string
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return nil, &ConfigError{FilePath: mimePath, Message: "failed to parse custom MIME types JSON file", Err: err}
		}
		for ext, mimeType := range fromFile {
			if err := validateMimeEntry(ext, mimeType); err != nil {
				return nil, &ConfigError{FilePath: mimePath, Message: "invalid MIME types file entry", Err: err}
			}
			resolved[strings.ToLower(ext)] = mimeType
		}
	}
	cfg.ResolvedMimeTypes = resolved
	return cfg, nil
}

func validateMimeEntry(ext, mimeType string) error {
	if !strings.HasPrefix(ext, ".") {
		return fmt.Errorf("extension %q must start with a '.'", ext)
	}
	if mimeType == "" {
		return fmt.Errorf("empty MIME type for extension %q", ext)
	}
	return nil
}

// ParseAndValidateAPICommandConfig decodes an APICommand handler_config and
// applies its defaults.
func ParseAndValidateAPICommandConfig(raw json.RawMessage) (*APICommandConfig, error) {
	cfg := &APICommandConfig{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, &ConfigError{Message: "invalid APICommand handler_config", Err: err}
		}
	}
	if cfg.MaxBodyBytes == nil {
		cfg.MaxBodyBytes = intPtr(DefaultMaxBodyBytes)
	}
	if *cfg.MaxBodyBytes <= 0 {
		return nil, &ConfigError{Message: fmt.Sprintf("max_body_bytes must be positive, got %d", *cfg.MaxBodyBytes)}
	}
	if cfg.ReceiveTimeout == nil {
		cfg.ReceiveTimeout = &Duration{DefaultReceiveTimeout}
	}
	if cfg.RedirectLocation == nil {
		cfg.RedirectLocation = strPtr("/")
	}
	return cfg, nil
}

func strPtr(s string) *string     { return &s }
func intPtr(i int) *int           { return &i }
func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }
