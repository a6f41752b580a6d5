package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

// writeTempFile creates a temporary file with the given content and extension.
// It returns the path to the file; the directory is removed by the test framework.
func writeTempFile(t *testing.T, content string, ext string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "test-config-*"+ext)
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		tmpFile.Close()
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}
	return tmpFile.Name()
}

// checkErrorContains checks if the error is not nil and its message contains the expected substring.
func checkErrorContains(t *testing.T, err error, expectedSubstring string) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected an error containing %q, but got nil", expectedSubstring)
	}
	if !strings.Contains(err.Error(), expectedSubstring) {
		t.Fatalf("Expected error message to contain %q, but got: %v", expectedSubstring, err)
	}
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	_, err := LoadConfig("")
	checkErrorContains(t, err, "configuration file path cannot be empty")
}

func TestLoadConfig_NonExistentFile(t *testing.T) {
	_, err := LoadConfig("non_existent_file.json")
	checkErrorContains(t, err, "failed to read configuration file")

	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected *ConfigError, got %T", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected error to wrap os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_ValidJSON(t *testing.T) {
	content := `{"server": {"address": ":8080"}, "storage": {"root": "/srv/flash"}}`
	path := writeTempFile(t, content, ".json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed for valid JSON: %v", err)
	}
	if cfg.Server == nil || cfg.Server.Address == nil || *cfg.Server.Address != ":8080" {
		t.Errorf("Expected server address to be :8080, got %v", cfg.Server)
	}
	if cfg.Storage.Root != "/srv/flash" {
		t.Errorf("Expected storage root /srv/flash, got %q", cfg.Storage.Root)
	}
	if cfg.Storage.MountPoint != DefaultBasePath {
		t.Errorf("Expected default mount point %q, got %q", DefaultBasePath, cfg.Storage.MountPoint)
	}
}

func TestLoadConfig_ValidTOML(t *testing.T) {
	content := `
[server]
address = ":8081"
scratch_size = 4096
graceful_shutdown_timeout = "2s"

[storage]
root = "/srv/flash"

[thermostat]
goal = 22.5

[[routing.routes]]
method = "GET"
path_pattern = "/*"
match_type = "Wildcard"
handler_type = "FileServer"

[routing.routes.handler_config.mime_types]
".css" = "text/css"
`
	path := writeTempFile(t, content, ".toml")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed for valid TOML: %v", err)
	}
	if *cfg.Server.Address != ":8081" {
		t.Errorf("Expected server address to be :8081, got %q", *cfg.Server.Address)
	}
	if *cfg.Server.ScratchSize != 4096 {
		t.Errorf("Expected scratch size 4096, got %d", *cfg.Server.ScratchSize)
	}
	if cfg.Server.GracefulShutdownTimeout.Duration != 2*time.Second {
		t.Errorf("Expected shutdown timeout 2s, got %v", cfg.Server.GracefulShutdownTimeout)
	}
	if *cfg.Thermostat.Goal != 22.5 {
		t.Errorf("Expected goal 22.5, got %v", *cfg.Thermostat.Goal)
	}
	if len(cfg.Routing.Routes) != 1 {
		t.Fatalf("Expected 1 route, got %d", len(cfg.Routing.Routes))
	}

	fsCfg, err := ParseAndValidateFileServerConfig(cfg.Routing.Routes[0].HandlerConfig, path)
	if err != nil {
		t.Fatalf("handler_config from TOML did not parse: %v", err)
	}
	if fsCfg.ResolvedMimeTypes[".css"] != "text/css" {
		t.Errorf("Expected .css mapping from TOML handler_config, got %v", fsCfg.ResolvedMimeTypes)
	}
}

func TestLoadConfig_AutoDetect(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"json", `{"storage": {"root": "/srv/flash"}, "logging": {"log_level": "debug"}}`},
		{"toml", "[storage]\nroot = \"/srv/flash\"\n[logging]\nlog_level = \"DEBUG\"\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeTempFile(t, tc.content, ".conf")
			cfg, err := LoadConfig(path)
			if err != nil {
				t.Fatalf("LoadConfig failed for auto-detected %s: %v", tc.name, err)
			}
			if cfg.Logging.LogLevel != LogLevelDebug {
				t.Errorf("Expected log level DEBUG, got %q", cfg.Logging.LogLevel)
			}
		})
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeTempFile(t, `not json or toml`, ".conf")
	_, err := LoadConfig(path)
	checkErrorContains(t, err, "neither valid JSON nor valid TOML")
}

func TestLoadConfig_EmptyTOML(t *testing.T) {
	path := writeTempFile(t, "", ".toml")
	_, err := LoadConfig(path)
	checkErrorContains(t, err, "empty input")
}

func TestLoadConfig_UnknownJSONField(t *testing.T) {
	path := writeTempFile(t, `{"storage": {"root": "/x"}, "bogus": 1}`, ".json")
	_, err := LoadConfig(path)
	checkErrorContains(t, err, "unknown field")
}

func TestLoadConfig_RelativeRootResolvedAgainstConfigDir(t *testing.T) {
	path := writeTempFile(t, `{"storage": {"root": "flash"}}`, ".json")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "flash")
	if cfg.Storage.Root != want {
		t.Errorf("Expected root %q, got %q", want, cfg.Storage.Root)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()

	if *cfg.Server.BasePath != "/spiffs" {
		t.Errorf("base path: got %q", *cfg.Server.BasePath)
	}
	if *cfg.Server.ScratchSize != 8192 {
		t.Errorf("scratch size: got %d", *cfg.Server.ScratchSize)
	}
	if *cfg.Server.MaxPathLength != VFSPathMax+ObjNameLen {
		t.Errorf("max path length: got %d", *cfg.Server.MaxPathLength)
	}
	if cfg.Server.SendTimeout == nil || cfg.Server.SendTimeout.Duration != DefaultSendTimeout {
		t.Errorf("send timeout: got %v, want %v", cfg.Server.SendTimeout, DefaultSendTimeout)
	}
	if len(cfg.Routing.Routes) != 3 {
		t.Fatalf("default routes: got %d", len(cfg.Routing.Routes))
	}
	if !*cfg.Logging.AccessLog.Enabled || cfg.Logging.AccessLog.Target != "stdout" {
		t.Errorf("access log defaults: got %+v", cfg.Logging.AccessLog)
	}
	if cfg.Logging.ErrorLog.Target != "stderr" {
		t.Errorf("error log target: got %q", cfg.Logging.ErrorLog.Target)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing storage root",
			mutate:  func(c *Config) { c.Storage.Root = "" },
			wantErr: "storage.root is required",
		},
		{
			name:    "relative base path",
			mutate:  func(c *Config) { c.Server.BasePath = strPtr("spiffs") },
			wantErr: "server.base_path must be an absolute",
		},
		{
			name:    "base path too long",
			mutate:  func(c *Config) { c.Server.BasePath = strPtr("/a-very-long-base-path") },
			wantErr: "exceeds 15 characters",
		},
		{
			name:    "max path length too small",
			mutate:  func(c *Config) { c.Server.MaxPathLength = intPtr(8) },
			wantErr: "leaves no room",
		},
		{
			name:    "negative send timeout",
			mutate:  func(c *Config) { c.Server.SendTimeout = &Duration{-time.Second} },
			wantErr: "server.send_timeout cannot be negative",
		},
		{
			name: "wildcard not at end",
			mutate: func(c *Config) {
				c.Routing.Routes = []Route{{Method: "GET", PathPattern: "/a*b", MatchType: MatchTypeWildcard, HandlerType: "FileServer"}}
			},
			wantErr: "must be the last character",
		},
		{
			name: "question mark between wildcard and text",
			mutate: func(c *Config) {
				c.Routing.Routes = []Route{{Method: "GET", PathPattern: "/a*?b", MatchType: MatchTypeWildcard, HandlerType: "FileServer"}}
			},
			wantErr: "must be the last character",
		},
		{
			name: "bad match type",
			mutate: func(c *Config) {
				c.Routing.Routes = []Route{{Method: "GET", PathPattern: "/", MatchType: "Regex", HandlerType: "FileServer"}}
			},
			wantErr: "invalid match_type",
		},
		{
			name:    "relative log file",
			mutate:  func(c *Config) { c.Logging.ErrorLog.Target = "logs/error.log" },
			wantErr: "must be stdout, stderr or an absolute path",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.LogLevel = "TRACE" },
			wantErr: "invalid logging.log_level",
		},
		{
			name:    "zero sensor scale",
			mutate:  func(c *Config) { c.Sensor.Scale = floatPtr(0) },
			wantErr: "sensor.scale cannot be zero",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Storage.Root = "/srv/flash"
			tc.mutate(cfg)
			checkErrorContains(t, Validate(cfg), tc.wantErr)
		})
	}

	t.Run("both optional-wildcard suffix orders are valid", func(t *testing.T) {
		for _, pattern := range []string{"/api/?*", "/api/*?"} {
			cfg := Default()
			cfg.Storage.Root = "/srv/flash"
			cfg.Routing.Routes = []Route{{Method: "POST", PathPattern: pattern, MatchType: MatchTypeWildcard, HandlerType: "APICommand"}}
			if err := Validate(cfg); err != nil {
				t.Errorf("%s: %v", pattern, err)
			}
		}
	})

	t.Run("defaults with root are valid", func(t *testing.T) {
		cfg := Default()
		cfg.Storage.Root = "/srv/flash"
		if err := Validate(cfg); err != nil {
			t.Fatalf("Expected valid config, got %v", err)
		}
	})
}

func TestParseAndValidateFileServerConfig(t *testing.T) {
	dir := t.TempDir()
	mimePath := filepath.Join(dir, "mime.json")
	if err := os.WriteFile(mimePath, []byte(`{".SVG": "image/svg+xml", ".css": "text/css"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	raw := json.RawMessage(`{"mime_types": {".css": "text/x-inline", ".woff2": "font/woff2"}, "mime_types_path": "mime.json"}`)
	cfg, err := ParseAndValidateFileServerConfig(raw, filepath.Join(dir, "thermoweb.toml"))
	if err != nil {
		t.Fatalf("ParseAndValidateFileServerConfig: %v", err)
	}

	want := map[string]string{
		".svg":   "image/svg+xml",
		".css":   "text/css", // file overrides inline
		".woff2": "font/woff2",
	}
	for ext, mt := range want {
		if got := cfg.ResolvedMimeTypes[ext]; got != mt {
			t.Errorf("ResolvedMimeTypes[%q] = %q, want %q", ext, got, mt)
		}
	}

	_, err = ParseAndValidateFileServerConfig(json.RawMessage(`{"mime_types": {"css": "text/css"}}`), "")
	checkErrorContains(t, err, "must start with a '.'")

	cfg, err = ParseAndValidateFileServerConfig(nil, "")
	if err != nil {
		t.Fatalf("empty handler_config should be valid: %v", err)
	}
	if len(cfg.ResolvedMimeTypes) != 0 {
		t.Errorf("Expected no custom mappings, got %v", cfg.ResolvedMimeTypes)
	}
}

func TestParseAndValidateAPICommandConfig(t *testing.T) {
	cfg, err := ParseAndValidateAPICommandConfig(nil)
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if *cfg.MaxBodyBytes != 100 || cfg.ReceiveTimeout.Duration != 5*time.Second || *cfg.RedirectLocation != "/" {
		t.Errorf("unexpected defaults: %d %v %q", *cfg.MaxBodyBytes, cfg.ReceiveTimeout, *cfg.RedirectLocation)
	}

	cfg, err = ParseAndValidateAPICommandConfig(json.RawMessage(`{"max_body_bytes": 16, "receive_timeout": "250ms"}`))
	if err != nil {
		t.Fatalf("custom: %v", err)
	}
	if *cfg.MaxBodyBytes != 16 || cfg.ReceiveTimeout.Duration != 250*time.Millisecond {
		t.Errorf("unexpected values: %d %v", *cfg.MaxBodyBytes, cfg.ReceiveTimeout)
	}

	_, err = ParseAndValidateAPICommandConfig(json.RawMessage(`{"max_body_bytes": 0}`))
	checkErrorContains(t, err, "max_body_bytes must be positive")
}

func TestDuration_Unmarshal(t *testing.T) {
	testCases := []struct {
		name        string
		inputJSON   string
		inputTOML   string
		expected    time.Duration
		expectError string
	}{
		{name: "valid", inputJSON: `{"timeout": "10s"}`, inputTOML: `timeout = "10s"`, expected: 10 * time.Second},
		{name: "invalid string", inputJSON: `{"timeout": "ten"}`, inputTOML: `timeout = "ten"`, expectError: "invalid duration"},
		{name: "non-positive", inputJSON: `{"timeout": "-1s"}`, inputTOML: `timeout = "-1s"`, expectError: "must be positive"},
		{name: "empty", inputJSON: `{"timeout": ""}`, inputTOML: `timeout = ""`, expectError: "cannot be empty"},
	}

	type testStruct struct {
		Timeout Duration `json:"timeout" toml:"timeout"`
	}

	for _, tc := range testCases {
		t.Run(tc.name+"_json", func(t *testing.T) {
			var s testStruct
			err := json.Unmarshal([]byte(tc.inputJSON), &s)
			if tc.expectError != "" {
				checkErrorContains(t, err, tc.expectError)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Timeout.Duration != tc.expected {
				t.Errorf("got %v, want %v", s.Timeout.Duration, tc.expected)
			}
		})
		t.Run(tc.name+"_toml", func(t *testing.T) {
			var s testStruct
			err := toml.Unmarshal([]byte(tc.inputTOML), &s)
			if tc.expectError != "" {
				checkErrorContains(t, err, tc.expectError)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if s.Timeout.Duration != tc.expected {
				t.Errorf("got %v, want %v", s.Timeout.Duration, tc.expected)
			}
		})
	}
}

func TestConfigError_Format(t *testing.T) {
	inner := errors.New("boom")
	err := &ConfigError{FilePath: "/etc/thermoweb.toml", Message: "bad thing", Err: inner}
	if got, want := err.Error(), "config /etc/thermoweb.toml: bad thing: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, inner) {
		t.Error("ConfigError should unwrap to its cause")
	}
}

func TestLoadConfigUnvalidated(t *testing.T) {
	path := writeTempFile(t, `{"server": {"address": "127.0.0.1:9000"}}`, ".json")

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig should reject a config without storage.root")
	}

	cfg, err := LoadConfigUnvalidated(path)
	if err != nil {
		t.Fatalf("LoadConfigUnvalidated: %v", err)
	}
	if *cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("address = %q", *cfg.Server.Address)
	}
	if *cfg.Server.ScratchSize != DefaultScratchSize {
		t.Errorf("defaults not applied: scratch_size = %d", *cfg.Server.ScratchSize)
	}

	cfg.Storage.Root = t.TempDir()
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate after override: %v", err)
	}
}
