package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/thermoweb/v2/internal/assets"
	"example.com/thermoweb/v2/internal/config"
	"example.com/thermoweb/v2/internal/handlers/fileserver"
	"example.com/thermoweb/v2/internal/logger"
	"example.com/thermoweb/v2/internal/server"
	"example.com/thermoweb/v2/internal/storage"
	"example.com/thermoweb/v2/internal/thermostat"
)

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

type testEnv struct {
	app     *App
	cfg     *config.Config
	sp      *thermostat.Setpoints
	updates *atomic.Int32
	root    string
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello from flash"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "style.css"), []byte("mounted css"), 0o644))

	cfg := config.Default()
	cfg.Server.Address = strPtr("127.0.0.1:0")
	cfg.Storage.Root = root
	if mutate != nil {
		mutate(cfg)
	}

	mount, err := storage.NewMount(cfg.Storage.MountPoint, root)
	require.NoError(t, err)
	t.Cleanup(func() { mount.Close() })

	sp := thermostat.NewSetpoints(*cfg.Thermostat.Goal, *cfg.Thermostat.LowerMargin, *cfg.Thermostat.UpperMargin)
	updates := &atomic.Int32{}
	display := thermostat.DisplayFunc(func() { updates.Add(1) })

	a, err := New(cfg, logger.NewDiscardLogger(), mount, sp, display)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Shutdown(ctx)
	})
	return &testEnv{app: a, cfg: cfg, sp: sp, updates: updates, root: root}
}

func (e *testEnv) url(path string) string { return "http://" + e.app.Addr().String() + path }

// noRedirect keeps 303/307 responses visible to the test.
var noRedirect = &http.Client{
	Timeout:       5 * time.Second,
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func fetch(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := noRedirect.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestNew_Validation(t *testing.T) {
	cfg := config.Default()
	lg := logger.NewDiscardLogger()
	mount := storage.NewFSMount("/spiffs", os.DirFS(t.TempDir()))
	sp := thermostat.NewSetpoints(0, 0, 0)
	d := thermostat.DisplayFunc(func() {})

	_, err := New(nil, lg, mount, sp, d)
	assert.Error(t, err)
	_, err = New(cfg, nil, mount, sp, d)
	assert.Error(t, err)
	_, err = New(cfg, lg, nil, sp, d)
	assert.Error(t, err)
	_, err = New(cfg, lg, mount, nil, d)
	assert.Error(t, err)
	_, err = New(cfg, lg, mount, sp, nil)
	assert.Error(t, err)
}

func TestStart_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.ErrorIs(t, env.app.Start("/sdcard"), ErrBadBasePath)
	assert.ErrorIs(t, env.app.Start(""), ErrBadBasePath)
	assert.Nil(t, env.app.Addr())

	require.NoError(t, env.app.Start("/spiffs"))
	assert.ErrorIs(t, env.app.Start("/spiffs"), ErrAlreadyRunning)
	// The base path is checked before the running state.
	assert.ErrorIs(t, env.app.Start("/other"), ErrBadBasePath)

	env = newTestEnv(t, func(c *config.Config) { c.Server.ScratchSize = intPtr(0) })
	assert.ErrorIs(t, env.app.Start("/spiffs"), ErrAllocFailure)

	env = newTestEnv(t, func(c *config.Config) {
		c.Routing.Routes = append(c.Routing.Routes, config.Route{
			Method: "GET", PathPattern: "/x", MatchType: config.MatchTypeExact, HandlerType: "Unknown",
		})
	})
	assert.ErrorIs(t, env.app.Start("/spiffs"), ErrServerFailure)

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()
	env = newTestEnv(t, func(c *config.Config) { c.Server.Address = strPtr(occupied.Addr().String()) })
	assert.ErrorIs(t, env.app.Start("/spiffs"), ErrServerFailure)
	assert.Nil(t, env.app.Done())
}

func TestStart_RestartAfterShutdown(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.app.Start("/spiffs"))
	require.NotNil(t, env.app.Done())
	require.NoError(t, env.app.Shutdown(context.Background()))
	assert.Nil(t, env.app.Addr())
	require.NoError(t, env.app.Start("/spiffs"))

	resp, _ := fetch(t, http.MethodGet, env.url("/update"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.app.Start("/spiffs"))

	t.Run("set temp round trip", func(t *testing.T) {
		resp, body := fetch(t, http.MethodPost, env.url("/api/set_temp"), "21.5")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
		assert.Equal(t, "post processed successfully", body)

		resp, body = fetch(t, http.MethodGet, env.url("/update"), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/html; charset=UTF-8", resp.Header.Get("Content-Type"))
		fields := strings.Fields(body)
		require.Len(t, fields, 4)
		assert.Equal(t, "21.5", fields[1])
	})

	t.Run("upper margin refreshes display once", func(t *testing.T) {
		before := env.updates.Load()
		resp, _ := fetch(t, http.MethodPost, env.url("/api/set_upper_margin"), "3.0")
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, 3.0, env.sp.Snapshot().Over)
		assert.Equal(t, before+1, env.updates.Load())
	})

	t.Run("unknown api route", func(t *testing.T) {
		before := env.sp.Snapshot()
		resp, body := fetch(t, http.MethodPost, env.url("/api/reboot"), "1")
		assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
		assert.Equal(t, "couldn't match that req to a server function", body)
		assert.Equal(t, before, env.sp.Snapshot())
	})

	t.Run("file from mount", func(t *testing.T) {
		resp, body := fetch(t, http.MethodGet, env.url("/hello.txt"), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		assert.Equal(t, "hello from flash", body)
	})

	t.Run("nonexistent file", func(t *testing.T) {
		resp, _ := fetch(t, http.MethodGet, env.url("/nonexistent.file"), "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("style is always embedded", func(t *testing.T) {
		resp, body := fetch(t, http.MethodGet, env.url("/style.css"), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/css", resp.Header.Get("Content-Type"))
		style, _ := assets.Lookup("/style.css")
		assert.Equal(t, string(style.Data), body)
	})

	t.Run("index", func(t *testing.T) {
		resp, body := fetch(t, http.MethodGet, env.url("/"), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(assets.Index().Data), body)

		resp, _ = fetch(t, http.MethodGet, env.url("/index.html"), "")
		assert.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
	})

	t.Run("method not allowed", func(t *testing.T) {
		resp, _ := fetch(t, http.MethodPost, env.url("/update"), "")
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Equal(t, "GET", resp.Header.Get("Allow"))
	})

	t.Run("path too long", func(t *testing.T) {
		resp, _ := fetch(t, http.MethodGet, env.url("/"+strings.Repeat("a", 60)), "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestRegisterAll_RejectsDuplicateTypes(t *testing.T) {
	noop := func(json.RawMessage, *logger.Logger) (server.Handler, error) { return nil, nil }
	reg := server.NewHandlerRegistry()
	err := registerAll(reg, []namedFactory{
		{config.HandlerTypeStatusPoll, noop},
		{config.HandlerTypeFileServer, noop},
		{config.HandlerTypeStatusPoll, noop},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.HandlerTypeStatusPoll)

	env := newTestEnv(t, nil)
	sc, err := fileserver.NewContext("/spiffs", config.DefaultScratchSize, config.DefaultMaxPathLength)
	require.NoError(t, err)
	reg, err = env.app.registry(sc)
	require.NoError(t, err)
	for _, ht := range []string{config.HandlerTypeStatusPoll, config.HandlerTypeFileServer, config.HandlerTypeAPICommand} {
		_, ok := reg.GetFactory(ht)
		assert.True(t, ok, ht)
	}
}

func TestStalledDownloadDoesNotBlockOtherRequests(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Server.SendTimeout = &config.Duration{Duration: 300 * time.Millisecond}
	})
	big := bytes.Repeat([]byte("0123456789abcdef"), 2<<20) // 32 MiB
	require.NoError(t, os.WriteFile(filepath.Join(env.root, "big.bin"), big, 0o644))
	require.NoError(t, env.app.Start("/spiffs"))

	conn, err := net.Dial("tcp", env.app.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = fmt.Fprintf(conn, "GET /big.bin HTTP/1.1\r\nHost: thermostat\r\n\r\n")
	require.NoError(t, err)
	// Read the status line so the transfer is known to be under way, then
	// stop reading.
	status := make([]byte, 12)
	_, err = io.ReadFull(conn, status)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200", string(status))

	quick := &http.Client{
		Timeout:       2 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	for _, tc := range []struct {
		path string
		want int
	}{
		{"/", http.StatusOK},
		{"/robots.txt", http.StatusOK},
		{"/style.css", http.StatusOK},
		{"/nonexistent.file", http.StatusNotFound},
		{"/update", http.StatusOK},
	} {
		resp, err := quick.Get(env.url(tc.path))
		require.NoError(t, err, "GET %s while a download is stalled", tc.path)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, tc.path)
	}

	// A mounted file needs the scratch buffer; it becomes free once the
	// stalled transfer hits the send timeout.
	resp, body := fetch(t, http.MethodGet, env.url("/hello.txt"), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello from flash", body)
}
