package config

import (
	"encoding/json"
)

// MatchType defines how a path pattern is interpreted.
type MatchType string

const (
	// MatchTypeExact matches the path exactly.
	MatchTypeExact MatchType = "Exact"
	// MatchTypePrefix matches any path starting with the prefix.
	MatchTypePrefix MatchType = "Prefix"
	// MatchTypeWildcard matches esp_http_server style patterns: a trailing '*'
	// matches any suffix and a '?' directly before it makes the preceding
	// character optional ("/api/?*" matches "/api", "/api/" and "/api/x").
	MatchTypeWildcard MatchType = "Wildcard"
)

// LogLevel defines the minimum severity for error logs.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// Handler types known to the registry wired in internal/app.
const (
	HandlerTypeStatusPoll = "StatusPoll"
	HandlerTypeFileServer = "FileServer"
	HandlerTypeAPICommand = "APICommand"
)

// Config is the top-level configuration structure for the server.
type Config struct {
	Server     *ServerConfig     `json:"server,omitempty" toml:"server,omitempty"`
	Storage    *StorageConfig    `json:"storage,omitempty" toml:"storage,omitempty"`
	Routing    *RoutingConfig    `json:"routing,omitempty" toml:"routing,omitempty"`
	Thermostat *ThermostatConfig `json:"thermostat,omitempty" toml:"thermostat,omitempty"`
	Sensor     *SensorConfig     `json:"sensor,omitempty" toml:"sensor,omitempty"`
	Logging    *LoggingConfig    `json:"logging,omitempty" toml:"logging,omitempty"`
}

// ServerConfig holds general server settings.
type ServerConfig struct {
	Address                 *string   `json:"address,omitempty" toml:"address,omitempty"`
	BasePath                *string   `json:"base_path,omitempty" toml:"base_path,omitempty"`
	ScratchSize             *int      `json:"scratch_size,omitempty" toml:"scratch_size,omitempty"`
	MaxPathLength           *int      `json:"max_path_length,omitempty" toml:"max_path_length,omitempty"`
	ReadTimeout             *Duration `json:"read_timeout,omitempty" toml:"read_timeout,omitempty"`
	WriteTimeout            *Duration `json:"write_timeout,omitempty" toml:"write_timeout,omitempty"`
	SendTimeout             *Duration `json:"send_timeout,omitempty" toml:"send_timeout,omitempty"`
	IdleTimeout             *Duration `json:"idle_timeout,omitempty" toml:"idle_timeout,omitempty"`
	GracefulShutdownTimeout *Duration `json:"graceful_shutdown_timeout,omitempty" toml:"graceful_shutdown_timeout,omitempty"`
	EnableH2C               *bool     `json:"enable_h2c,omitempty" toml:"enable_h2c,omitempty"`
}

// StorageConfig describes the flash-style mount the file server reads from.
// Root is the host directory holding the files; MountPoint is the virtual
// prefix under which they appear (e.g. "/spiffs").
type StorageConfig struct {
	MountPoint string `json:"mount_point,omitempty" toml:"mount_point,omitempty"`
	Root       string `json:"root" toml:"root"`
}

// RoutingConfig contains the list of routes.
type RoutingConfig struct {
	Routes []Route `json:"routes,omitempty" toml:"routes,omitempty"`
}

// Route defines a single routing rule.
type Route struct {
	Method        string          `json:"method" toml:"method"`
	PathPattern   string          `json:"path_pattern" toml:"path_pattern"`
	MatchType     MatchType       `json:"match_type" toml:"match_type"`
	HandlerType   string          `json:"handler_type" toml:"handler_type"`
	HandlerConfig json.RawMessage `json:"handler_config,omitempty" toml:"handler_config,omitempty"`
}

// ThermostatConfig holds the setpoints the display starts with.
type ThermostatConfig struct {
	Goal        *float64 `json:"goal,omitempty" toml:"goal,omitempty"`
	UpperMargin *float64 `json:"upper_margin,omitempty" toml:"upper_margin,omitempty"`
	LowerMargin *float64 `json:"lower_margin,omitempty" toml:"lower_margin,omitempty"`
}

// SensorConfig configures the optional temperature feed. An empty Path
// disables the feed.
type SensorConfig struct {
	Path     string    `json:"path,omitempty" toml:"path,omitempty"`
	Interval *Duration `json:"interval,omitempty" toml:"interval,omitempty"`
	Scale    *float64  `json:"scale,omitempty" toml:"scale,omitempty"`
}

// LoggingConfig holds logging configurations.
type LoggingConfig struct {
	LogLevel  LogLevel         `json:"log_level,omitempty" toml:"log_level,omitempty"`
	AccessLog *AccessLogConfig `json:"access_log,omitempty" toml:"access_log,omitempty"`
	ErrorLog  *ErrorLogConfig  `json:"error_log,omitempty" toml:"error_log,omitempty"`
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Enabled        *bool    `json:"enabled,omitempty" toml:"enabled,omitempty"`
	Target         string   `json:"target,omitempty" toml:"target,omitempty"`
	Format         string   `json:"format,omitempty" toml:"format,omitempty"`
	TrustedProxies []string `json:"trusted_proxies,omitempty" toml:"trusted_proxies,omitempty"`
	RealIPHeader   *string  `json:"real_ip_header,omitempty" toml:"real_ip_header,omitempty"`
}

// ErrorLogConfig configures error logging.
type ErrorLogConfig struct {
	Target string `json:"target,omitempty" toml:"target,omitempty"`
	Format string `json:"format,omitempty" toml:"format,omitempty"`
}

// FileServerConfig is the HandlerConfig for "FileServer" routes.
// Custom mappings only extend the built-in extension table; they are
// consulted before it.
type FileServerConfig struct {
	MimeTypes     map[string]string `json:"mime_types,omitempty" toml:"mime_types,omitempty"`
	MimeTypesPath *string           `json:"mime_types_path,omitempty" toml:"mime_types_path,omitempty"`

	// ResolvedMimeTypes holds the merged inline and file mappings after
	// ParseAndValidateFileServerConfig.
	ResolvedMimeTypes map[string]string `json:"-" toml:"-"`
}

// APICommandConfig is the HandlerConfig for "APICommand" routes.
type APICommandConfig struct {
	MaxBodyBytes     *int      `json:"max_body_bytes,omitempty" toml:"max_body_bytes,omitempty"`
	ReceiveTimeout   *Duration `json:"receive_timeout,omitempty" toml:"receive_timeout,omitempty"`
	RedirectLocation *string   `json:"redirect_location,omitempty" toml:"redirect_location,omitempty"`
}

// IsFilePath reports whether a log target names a file rather than a stdio stream.
func IsFilePath(target string) bool {
	return target != "" && target != "stdout" && target != "stderr"
}
