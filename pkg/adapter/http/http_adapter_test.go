package http

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) HTTPConfig {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "judge.html"), []byte("<h1>judge</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "welcome.html"), []byte("welcome"), 0o644))

	return HTTPConfig{
		Enabled:            true,
		Address:            "127.0.0.1",
		Port:               0,
		DocumentRoot:       root,
		Workers:            2,
		MaxQueue:           16,
		MaxConnections:     16,
		ReadBufferSize:     1024,
		WriteBufferSize:    512,
		MaxEvents:          64,
		SanitizePaths:      true,
		ShutdownTimeout:    2 * time.Second,
		MetricsLogInterval: 10 * time.Millisecond,
	}
}

// startAdapter runs Serve in the background and waits for the listener.
func startAdapter(t *testing.T, a *HTTPAdapter) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- a.Serve(ctx) }()

	require.Eventually(t, func() bool { return a.Port() != 0 }, 2*time.Second, 5*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		select {
		case <-serveErr:
		case <-time.After(5 * time.Second):
		}
	})
	return cancel, serveErr
}

func get(t *testing.T, port int, target string) (*nethttp.Response, string) {
	t.Helper()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = fmt.Fprintf(conn, "GET %s HTTP/1.1\r\nHost: localhost\r\n\r\n", target)
	require.NoError(t, err)

	resp, err := nethttp.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHTTPConfig_ApplyDefaults(t *testing.T) {
	var cfg HTTPConfig
	cfg.applyDefaults()

	assert.Zero(t, cfg.Port, "port 0 stays ephemeral")
	assert.Equal(t, "/var/www/html", cfg.DocumentRoot)
	assert.Equal(t, "judge.html", cfg.DefaultDocument)
	assert.Equal(t, "register.html", cfg.RegisterDocument)
	assert.Equal(t, "log.html", cfg.LoginDocument)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 10000, cfg.MaxQueue)
	assert.Equal(t, 10000, cfg.MaxConnections)
	assert.Equal(t, 2048, cfg.ReadBufferSize)
	assert.Equal(t, 1024, cfg.WriteBufferSize)
	assert.Equal(t, 10000, cfg.MaxEvents)
	assert.Equal(t, 128, cfg.Backlog)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.MetricsLogInterval)
	assert.False(t, cfg.SanitizePaths)
	assert.NoError(t, cfg.validate())
}

func TestHTTPConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*HTTPConfig)
	}{
		{"negative port", func(c *HTTPConfig) { c.Port = -1 }},
		{"port too large", func(c *HTTPConfig) { c.Port = 70000 }},
		{"ipv6 address", func(c *HTTPConfig) { c.Address = "::1" }},
		{"bad address", func(c *HTTPConfig) { c.Address = "localhost" }},
		{"negative workers", func(c *HTTPConfig) { c.Workers = -1 }},
		{"negative queue", func(c *HTTPConfig) { c.MaxQueue = -3 }},
		{"too many connections", func(c *HTTPConfig) { c.MaxConnections = 1 << 20 }},
		{"tiny read buffer", func(c *HTTPConfig) { c.ReadBufferSize = 16 }},
		{"tiny write buffer", func(c *HTTPConfig) { c.WriteBufferSize = 32 }},
		{"negative events", func(c *HTTPConfig) { c.MaxEvents = -1 }},
		{"negative backlog", func(c *HTTPConfig) { c.Backlog = -1 }},
		{"negative shutdown timeout", func(c *HTTPConfig) { c.ShutdownTimeout = -time.Second }},
		{"negative metrics interval", func(c *HTTPConfig) { c.MetricsLogInterval = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := HTTPConfig{}
			cfg.applyDefaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(HTTPConfig{Workers: -1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP config")
}

func TestNew_AcceptLimiter(t *testing.T) {
	a, err := New(HTTPConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, a.limiter)

	a, err = New(HTTPConfig{AcceptRate: 5, AcceptBurst: 2}, nil)
	require.NoError(t, err)
	require.NotNil(t, a.limiter)
	assert.False(t, a.limiter.Unlimited())
}

func TestHTTPAdapter_ServeAndStop(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "HTTP", a.Protocol())

	_, serveErr := startAdapter(t, a)

	resp, body := get(t, a.Port(), "/")
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>judge</h1>", body)

	resp, _ = get(t, a.Port(), "/missing.html")
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	assert.NoError(t, <-serveErr)
	assert.Zero(t, a.GetActiveConnections())

	// Idempotent.
	assert.NoError(t, a.Stop(ctx))
}

func TestHTTPAdapter_ContextCancel(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	cancel, serveErr := startAdapter(t, a)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", a.Port()))
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.GetActiveConnections() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-serveErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	// The idle connection was closed by the server.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestHTTPAdapter_StopBeforeServe(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	require.NoError(t, a.Stop(context.Background()))
	assert.NoError(t, a.Serve(context.Background()))
	assert.Zero(t, a.GetActiveConnections())
}

func TestHTTPAdapter_ServeTwice(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	startAdapter(t, a)
	assert.ErrorIs(t, a.Serve(context.Background()), ErrAlreadyServing)
}

func TestHTTPAdapter_ServeBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Port = busy.Addr().(*net.TCPAddr).Port

	a, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Error(t, a.Serve(context.Background()))
	assert.NoError(t, a.Stop(context.Background()))
}

type formHandler struct {
	received chan string
}

func (h *formHandler) Handle(action byte, body []byte) (string, error) {
	h.received <- string(action) + ":" + string(body)
	return "/welcome.html", nil
}

func TestHTTPAdapter_CGIHandler(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	h := &formHandler{received: make(chan string, 1)}
	a.SetCGIHandler(h)
	startAdapter(t, a)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", a.Port()))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	form := "user=alice&password=secret"
	_, err = fmt.Fprintf(conn, "POST /3 HTTP/1.1\r\nContent-Length: %d\r\n\r\n%s", len(form), form)
	require.NoError(t, err)

	resp, err := nethttp.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.Equal(t, "welcome", string(body))
	assert.Equal(t, "3:"+form, <-h.received)
}

func TestHTTPAdapter_SanitizePathsDisabled(t *testing.T) {
	cfg := testConfig(t)
	parent := filepath.Dir(cfg.DocumentRoot)
	secret := filepath.Join(parent, "outside-"+filepath.Base(cfg.DocumentRoot)+".txt")
	require.NoError(t, os.WriteFile(secret, []byte("outside"), 0o644))
	t.Cleanup(func() { _ = os.Remove(secret) })

	target := "/../" + filepath.Base(secret)

	a, err := New(cfg, nil)
	require.NoError(t, err)
	startAdapter(t, a)
	resp, _ := get(t, a.Port(), target)
	assert.Equal(t, nethttp.StatusNotFound, resp.StatusCode)

	cfg.SanitizePaths = false
	b, err := New(cfg, nil)
	require.NoError(t, err)
	startAdapter(t, b)
	resp, body := get(t, b.Port(), target)
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body, "outside"))
}
