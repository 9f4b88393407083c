package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/sshcollectorpro/ciscofetch/addone/platform/platforms/cisco_ios"
	"github.com/sshcollectorpro/ciscofetch/internal/app"
	"github.com/sshcollectorpro/ciscofetch/internal/artifact"
	"github.com/sshcollectorpro/ciscofetch/internal/config"
	"github.com/sshcollectorpro/ciscofetch/simulate"
)

func newTestApp(t *testing.T, withHistory bool) *app.App {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Server.Mode = gin.TestMode
	cfg.App.DevicePath = filepath.Join(dir, "devices")
	cfg.App.KnownHosts = filepath.Join(dir, "known_hosts")
	cfg.App.SSHConfig = ""
	cfg.SSH.ConnectTimeout = 2 * time.Second
	cfg.SSH.CommandTimeout = 2 * time.Second
	cfg.SSH.PollInterval = 20 * time.Millisecond
	cfg.SSH.MaxPollInterval = 100 * time.Millisecond
	cfg.SSH.QuietAfter = 150 * time.Millisecond
	if withHistory {
		cfg.Database.SQLite.Path = filepath.Join(dir, "history.db")
	}
	a, err := app.New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var e envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	return e
}

func TestHealthAndRoot(t *testing.T) {
	r := SetupRouter(newTestApp(t, true))

	w := do(r, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"running","history":true}`, string(decode(t, w).Data))

	w = do(r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ciscofetch")

	w = do(r, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w).Code)
}

func TestRunValidation(t *testing.T) {
	r := SetupRouter(newTestApp(t, false))

	cases := []struct {
		name string
		body interface{}
		code string
	}{
		{"bad json", "not an object", "INVALID_REQUEST"},
		{"no hosts", map[string]interface{}{"commands": []string{"show clock"}}, "INVALID_PARAMS"},
		{"no workflow", map[string]interface{}{"hosts": []string{"r1"}}, "INVALID_PARAMS"},
		{"bad alias", map[string]interface{}{"hosts": []string{"r1"}, "download": []string{"running"}}, "INVALID_PARAMS"},
		{"blank command", map[string]interface{}{"hosts": []string{"r1"}, "commands": []string{" "}}, "INVALID_PARAMS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/run", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tc.code, decode(t, w).Code)
		})
	}
}

func TestArtifactEndpoint(t *testing.T) {
	a := newTestApp(t, false)
	r := SetupRouter(a)
	_, err := a.Store.Write("r1", artifact.RunningConfig, []byte("hostname R1\n"))
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/v1/devices/r1/artifacts/run", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hostname R1\n", w.Body.String())
	assert.Equal(t, "running-config", w.Header().Get("X-Artifact-Name"))

	w = do(r, http.MethodGet, "/api/v1/devices/r1/artifacts/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/devices/r1/artifacts/startup", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ALIAS", decode(t, w).Code)
}

func TestHistoryDisabled(t *testing.T) {
	r := SetupRouter(newTestApp(t, false))
	w := do(r, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "HISTORY_DISABLED", decode(t, w).Code)
}

// TestRunAgainstSimulator 通过接口执行、下载并在历史与指标中查到结果
func TestRunAgainstSimulator(t *testing.T) {
	srv, err := simulate.Start("127.0.0.1:0", &simulate.Config{
		Hostname: "SIM1",
		Username: "admin",
		Password: "cisco",
		Commands: map[string]string{"show clock": "*10:00:00.000 UTC Mon Jan 1 2024\n"},
		Files:    map[string]string{"running-config": "hostname SIM1\n"},
	})
	require.NoError(t, err)
	defer srv.Stop()

	a := newTestApp(t, true)
	r := SetupRouter(a)
	host := srv.Addr()

	w := do(r, http.MethodPost, "/api/v1/run", map[string]interface{}{
		"hosts":    []string{host},
		"user":     "admin",
		"pass":     "cisco",
		"commands": []string{"show clock"},
		"download": []string{"run"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	e := decode(t, w)
	assert.Equal(t, "success", e.Message)
	var summary struct {
		RunID   string `json:"run_id"`
		Devices map[string]struct {
			Status string `json:"status"`
		} `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(e.Data, &summary))
	assert.Equal(t, "success", summary.Devices[host].Status)

	w = do(r, http.MethodGet, "/api/v1/devices/"+host+"/artifacts/run", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hostname SIM1\n", w.Body.String())

	w = do(r, http.MethodGet, "/api/v1/runs/"+summary.RunID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), host)

	w = do(r, http.MethodGet, "/api/v1/runs/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/runs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/devices/"+host+"/runs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), summary.RunID)

	w = do(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `ciscofetch_runs_total{status="success"} 1`), "run counter exported")
}
