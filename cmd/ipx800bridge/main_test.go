package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/ipx800-bridge/internal/auth"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
)

const testSecret = "cli-test-secret-0123456789abcdef0123"

// relayBoard is a minimal IPX800 answering status.xml and preset.htm.
type relayBoard struct {
	*httptest.Server

	mu     sync.Mutex
	relays [8]bool
}

func newRelayBoard(t *testing.T) *relayBoard {
	t.Helper()
	b := &relayBoard{}
	b.Server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.Close)
	return b
}

func (b *relayBoard) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.URL.Path {
	case "/status.xml":
		var sb strings.Builder
		sb.WriteString("<response>")
		for i, on := range b.relays {
			v := 0
			if on {
				v = 1
			}
			fmt.Fprintf(&sb, "<led%d>%d</led%d>", i, v, i)
		}
		sb.WriteString("</response>")
		_, _ = io.WriteString(w, sb.String())
	case "/preset.htm":
		for key, values := range r.URL.Query() {
			ch, err := strconv.Atoi(strings.TrimPrefix(key, "set"))
			if err != nil || ch < 1 || ch > 8 || len(values) == 0 {
				http.Error(w, "bad preset", http.StatusBadRequest)
				return
			}
			b.relays[ch-1] = values[0] == "1"
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func (b *relayBoard) relay(ch int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.relays[ch-1]
}

func (b *relayBoard) hostPort(t *testing.T) (string, int) {
	t.Helper()
	u, err := url.Parse(b.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ipx800bridge "+version)
	assert.Contains(t, out, commit)
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	assert.Equal(t, "/etc/ipx800.yaml", resolveConfigPath("/etc/ipx800.yaml"))

	t.Setenv(configEnv, "/from/env.yaml")
	assert.Equal(t, "/etc/ipx800.yaml", resolveConfigPath("/etc/ipx800.yaml"))
	assert.Equal(t, "/from/env.yaml", resolveConfigPath(""))

	t.Setenv(configEnv, "")
	// The test binary runs from cmd/ipx800bridge, where configs/ is absent.
	assert.Equal(t, "", resolveConfigPath(""))
}

func TestServeOverrides(t *testing.T) {
	cmd := newServeCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--host", "10.0.0.5", "--listen-port", "9000"}))

	var flags serveFlags
	flags.host, _ = cmd.Flags().GetString("host")
	flags.port, _ = cmd.Flags().GetInt("port")
	flags.listenPort, _ = cmd.Flags().GetInt("listen-port")

	opts := serveOverrides(cmd, flags)
	require.Len(t, opts, 2, "unset --port must not override the config")

	cfg := &config.Config{Device: config.DeviceConfig{Port: 8080}}
	for _, opt := range opts {
		opt(cfg)
	}
	assert.Equal(t, "10.0.0.5", cfg.Device.Host)
	assert.Equal(t, 8080, cfg.Device.Port)
	assert.Equal(t, 9000, cfg.API.Port)
}

func TestServe_InvalidConfig(t *testing.T) {
	t.Setenv("IPX800_DEVICE_HOST", "")
	path := writeConfig(t, "device:\n  port: 80\n")

	_, err := execute(t, "serve", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device.host is required")

	_, err = execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf("device:\n  host: 192.0.2.10\nsecurity:\n  jwt:\n    secret: %q\n", testSecret))

	out, err := execute(t, "token", "--config", path, "--subject", "kitchen-panel", "--role", "viewer", "--ttl", "5m")
	require.NoError(t, err)

	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	require.NoError(t, err)
	assert.Equal(t, "kitchen-panel", claims.Subject)
	assert.Equal(t, auth.RoleViewer, claims.Role)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestIssueToken_Errors(t *testing.T) {
	cfg := &config.Config{}
	_, err := issueToken(cfg, tokenFlags{subject: "x", role: "operator"})
	assert.ErrorIs(t, err, auth.ErrSecretRequired)

	cfg.Security.JWT.Secret = testSecret
	_, err = issueToken(cfg, tokenFlags{subject: "x", role: "superuser"})
	assert.ErrorIs(t, err, auth.ErrInvalidRole)
}

func TestIssueToken_DefaultTTLFromConfig(t *testing.T) {
	cfg := &config.Config{Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret, TokenTTL: 90}}}

	token, err := issueToken(cfg, tokenFlags{subject: "ops", role: string(auth.RoleAdmin)})
	require.NoError(t, err)

	claims, err := auth.ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(90*time.Minute), claims.ExpiresAt.Time, time.Minute)
}

func TestRun_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("starts the full bridge")
	}

	board := newRelayBoard(t)
	host, port := board.hostPort(t)
	apiPort := freePort(t)

	cfg, err := config.Load(writeConfig(t, fmt.Sprintf(`
device:
  host: %q
  port: %d
  poll_interval: 0s
dispatcher:
  delay: 10ms
api:
  host: 127.0.0.1
  port: %d
database:
  enabled: true
  path: %q
logging:
  level: error
`, host, port, apiPort, filepath.Join(t.TempDir(), "bridge.db"))))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, cfg) }()

	base := fmt.Sprintf("http://127.0.0.1:%d", apiPort)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	req, err := http.NewRequest(http.MethodPut, base+"/api/v1/channels/3", strings.NewReader(`{"on":true}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool { return board.relay(3) }, 5*time.Second, 20*time.Millisecond)

	resp, err = http.Get(base + "/api/ipx800_update?state=1&index=3")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/v1/commands")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), `"count":1`)
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}
