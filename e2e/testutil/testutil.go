//go:build unix

// Package testutil runs the server binary as a child process and drives it
// over real sockets.
package testutil

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/net/http2"
	"golang.org/x/sys/unix"
)

// TestRequest models an HTTP request for E2E testing.
type TestRequest struct {
	Method  string
	Path    string // may include a query string
	Headers http.Header
	Body    []byte
}

// HeaderMatcher maps header names to exact expected values.
type HeaderMatcher map[string]string

// BodyMatcher defines a way to match the response body.
type BodyMatcher interface {
	Match(body []byte) (bool, string)
}

// ExactBodyMatcher matches the body exactly.
type ExactBodyMatcher struct {
	ExpectedBody []byte
}

func (m *ExactBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Equal(m.ExpectedBody, body) {
		return true, ""
	}
	return false, fmt.Sprintf("bodies do not match exactly. Expected: %q, Got: %q", string(m.ExpectedBody), string(body))
}

// StringContainsBodyMatcher checks if the body contains a specific substring.
type StringContainsBodyMatcher struct {
	Substring string
}

func (m *StringContainsBodyMatcher) Match(body []byte) (bool, string) {
	if bytes.Contains(body, []byte(m.Substring)) {
		return true, ""
	}
	return false, fmt.Sprintf("body does not contain substring: %q. Body: %q", m.Substring, string(body))
}

// ExpectedResponse models the expected outcome of an HTTP request.
type ExpectedResponse struct {
	StatusCode  int
	Headers     HeaderMatcher
	BodyMatcher BodyMatcher
	Proto       string // e.g. "HTTP/2.0"; empty means any
}

// ActualResponse stores the outcome of an HTTP request.
type ActualResponse struct {
	StatusCode int
	Proto      string
	Headers    http.Header
	Body       []byte
}

// Check compares actual against expected and returns one line per mismatch.
func (e ExpectedResponse) Check(actual ActualResponse) []string {
	var problems []string
	if e.StatusCode != 0 && actual.StatusCode != e.StatusCode {
		problems = append(problems, fmt.Sprintf("status = %d, want %d", actual.StatusCode, e.StatusCode))
	}
	if e.Proto != "" && actual.Proto != e.Proto {
		problems = append(problems, fmt.Sprintf("proto = %s, want %s", actual.Proto, e.Proto))
	}
	for name, want := range e.Headers {
		if got := actual.Headers.Get(name); got != want {
			problems = append(problems, fmt.Sprintf("header %s = %q, want %q", name, got, want))
		}
	}
	if e.BodyMatcher != nil {
		if ok, why := e.BodyMatcher.Match(actual.Body); !ok {
			problems = append(problems, why)
		}
	}
	return problems
}

// Client performs requests against a running server. Redirects are never
// followed so 303/307 responses stay visible.
type Client struct {
	http *http.Client
}

// NewClient returns an HTTP/1.1 client, or a prior-knowledge cleartext
// HTTP/2 client when h2c is true.
func NewClient(h2c bool) *Client {
	c := &http.Client{
		Timeout:       5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	if h2c {
		c.Transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		}
	} else {
		c.Transport = &http.Transport{DisableKeepAlives: true}
	}
	return &Client{http: c}
}

func (c *Client) Do(serverAddr string, request TestRequest) (ActualResponse, error) {
	req, err := http.NewRequest(request.Method, "http://"+serverAddr+request.Path, bytes.NewReader(request.Body))
	if err != nil {
		return ActualResponse{}, err
	}
	for name, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ActualResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ActualResponse{}, err
	}
	return ActualResponse{StatusCode: resp.StatusCode, Proto: resp.Proto, Headers: resp.Header, Body: body}, nil
}

// GetFreePort asks the kernel for a free open port that is ready to use.
func GetFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// WriteConfig writes configData into dir as JSON or TOML and returns the path.
func WriteConfig(dir string, configData interface{}, format string) (string, error) {
	var data []byte
	var err error
	switch strings.ToLower(format) {
	case "json":
		data, err = json.MarshalIndent(configData, "", "  ")
	case "toml":
		buf := new(bytes.Buffer)
		if err = toml.NewEncoder(buf).Encode(configData); err == nil {
			data = buf.Bytes()
		}
	default:
		err = fmt.Errorf("unsupported config format: %s", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal config data to %s: %w", format, err)
	}
	path := filepath.Join(dir, "thermoweb."+strings.ToLower(format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// syncBuffer collects the child's output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ServerInstance is a running server process.
type ServerInstance struct {
	Cmd     *exec.Cmd
	Address string

	logs    *syncBuffer
	waitErr chan error
}

// Logs returns everything the process wrote to stdout and stderr so far.
func (s *ServerInstance) Logs() string { return s.logs.String() }

// StartTestServer launches binary with args and waits until address accepts
// connections.
func StartTestServer(binary, address string, args ...string) (*ServerInstance, error) {
	if _, err := os.Stat(binary); err != nil {
		return nil, fmt.Errorf("server binary %q: %w", binary, err)
	}
	logs := &syncBuffer{}
	cmd := exec.Command(binary, args...)
	cmd.Stdout = logs
	cmd.Stderr = logs
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server process %q: %w", binary, err)
	}

	s := &ServerInstance{Cmd: cmd, Address: address, logs: logs, waitErr: make(chan error, 1)}
	go func() { s.waitErr <- cmd.Wait() }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", address, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return s, nil
		}
		select {
		case werr := <-s.waitErr:
			s.waitErr <- werr
			return nil, fmt.Errorf("server exited before becoming ready: %v. Logs captured:\n%s", werr, logs.String())
		case <-time.After(100 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			s.Kill()
			return nil, fmt.Errorf("server not ready at %s: %v. Logs captured:\n%s", address, err, logs.String())
		}
	}
}

// Signal delivers sig to the process.
func (s *ServerInstance) Signal(sig os.Signal) error {
	return s.Cmd.Process.Signal(sig)
}

// Stop sends SIGTERM and waits for the exit code. The process is killed if it
// has not exited within timeout.
func (s *ServerInstance) Stop(timeout time.Duration) (int, error) {
	if err := s.Signal(unix.SIGTERM); err != nil {
		return -1, err
	}
	select {
	case <-s.waitErr:
		return s.Cmd.ProcessState.ExitCode(), nil
	case <-time.After(timeout):
		s.Kill()
		return -1, fmt.Errorf("server did not exit within %v after SIGTERM", timeout)
	}
}

// Kill terminates the process without waiting for a graceful shutdown.
func (s *ServerInstance) Kill() {
	if s.Cmd.ProcessState == nil {
		s.Cmd.Process.Kill()
	}
}
