package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GladstoneOG/wabot/internal/activity"
	"github.com/GladstoneOG/wabot/internal/broadcast"
	"github.com/GladstoneOG/wabot/internal/campaign"
	"github.com/GladstoneOG/wabot/internal/eventbus"
	"github.com/GladstoneOG/wabot/internal/manager"
	"github.com/GladstoneOG/wabot/internal/schedule"
	"github.com/GladstoneOG/wabot/internal/session"
	"github.com/GladstoneOG/wabot/internal/storage"
	"github.com/GladstoneOG/wabot/internal/transport/dryrun"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

func newTestServer(t *testing.T) (*httptest.Server, *dryrun.Dialer) {
	t.Helper()
	log := logx.Nop()
	bus := eventbus.New()
	store := storage.NewMemory()
	dialer := dryrun.NewDialer(log)

	sess := session.New(dialer, session.Options{LoginTimeout: time.Second, Bus: bus, Log: log})
	holder := campaign.NewHolder(store, "62", log)
	logs := activity.New(store, log)
	disp := broadcast.NewDispatcher(sess, holder, logs, broadcast.Options{Bus: bus, Log: log})
	sched := schedule.New(disp, bus, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sess.Run(ctx)
		close(done)
	}()

	m := manager.New(manager.Deps{Session: sess, Dispatcher: disp, Schedule: sched, Campaign: holder, Logs: logs, Log: log})
	require.NoError(t, m.Load(ctx))

	srv := httptest.NewServer(NewRouter(m, log))
	t.Cleanup(func() {
		srv.Close()
		sched.Close(context.Background())
		cancel()
		<-done
	})
	return srv, dialer
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthAndNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])

	code, body = do(t, srv, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["ok"])

	code, body = do(t, srv, http.MethodDelete, "/api/config", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, false, body["ok"])
}

func TestStatusInitial(t *testing.T) {
	srv, _ := newTestServer(t)
	code, body := do(t, srv, http.MethodGet, "/api/session/status", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, false, body["hasAuth"])
	assert.Equal(t, false, body["timerActive"])
	assert.Nil(t, body["nextRun"])
	assert.Equal(t, float64(0), body["recipientCount"])
	cfg := body["config"].(map[string]any)
	assert.Equal(t, float64(1), cfg["minDelaySec"])
	assert.Equal(t, []any{}, cfg["recipients"])
}

func TestPostConfig(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, bad := range []string{"", "{", "[1,2]", "null", `"text"`} {
		code, body := do(t, srv, http.MethodPost, "/api/config", bad)
		assert.Equal(t, http.StatusBadRequest, code, "body %q", bad)
		assert.Equal(t, false, body["ok"])
	}

	code, body := do(t, srv, http.MethodPost, "/api/config", `{
		"recipientsRaw": "081234567890;abc\n6289876543210",
		"message": 42,
		"minDelaySec": "5",
		"maxDelaySec": 2,
		"intervalMinutes": "soon"
	}`)
	require.Equal(t, http.StatusOK, code)
	cfg := body["config"].(map[string]any)
	assert.Equal(t, "", cfg["message"])
	assert.Equal(t, float64(5), cfg["minDelaySec"])
	assert.Equal(t, float64(5), cfg["maxDelaySec"])
	assert.Equal(t, float64(0), cfg["intervalMinutes"])
	assert.Equal(t, []any{"6281234567890", "6289876543210"}, cfg["recipients"])

	_, body = do(t, srv, http.MethodGet, "/api/config", "")
	cfg = body["config"].(map[string]any)
	assert.Equal(t, "081234567890;abc\n6289876543210", cfg["recipientsRaw"])
}

func TestBroadcastNotConnected(t *testing.T) {
	srv, _ := newTestServer(t)
	code, _ := do(t, srv, http.MethodPost, "/api/config", `{"recipientsRaw":"6281234567890","message":"hi"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, srv, http.MethodPost, "/api/broadcast/start", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, broadcast.ErrNotConnected.Msg, body["error"])
}

func TestLoginBroadcastAndStop(t *testing.T) {
	srv, dialer := newTestServer(t)

	code, body := do(t, srv, http.MethodPost, "/api/session/login", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", body["status"])

	// connected but nothing configured
	code, body = do(t, srv, http.MethodPost, "/api/broadcast/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, broadcast.ErrNoRecipients.Msg, body["error"])

	code, _ = do(t, srv, http.MethodPost, "/api/config",
		`{"recipientsRaw":"6281234567890;6289876543210","message":"hello","minDelaySec":0,"maxDelaySec":0,"intervalMinutes":15}`)
	require.Equal(t, http.StatusOK, code)

	code, body = do(t, srv, http.MethodPost, "/api/broadcast/start", `{"schedule":true,"sendNow":"yes"}`)
	require.Equal(t, http.StatusOK, code)
	st := body["status"].(map[string]any)
	assert.Equal(t, true, st["timerActive"])
	assert.Equal(t, true, st["connected"])
	next, isString := st["nextRun"].(string)
	require.True(t, isString)
	_, err := time.Parse(time.RFC3339, next)
	assert.NoError(t, err)
	assert.Len(t, dialer.Sent(), 2)

	_, body = do(t, srv, http.MethodGet, "/api/logs", "")
	logs := body["logs"].([]any)
	require.Len(t, logs, 1)
	entry := logs[0].(map[string]any)
	assert.Equal(t, float64(2), entry["success"])
	assert.Equal(t, "hello", entry["messagePreview"])

	code, body = do(t, srv, http.MethodPost, "/api/broadcast/stop", "")
	require.Equal(t, http.StatusOK, code)
	st = body["status"].(map[string]any)
	assert.Equal(t, false, st["timerActive"])
	assert.Nil(t, st["nextRun"])

	code, body = do(t, srv, http.MethodPost, "/api/session/logout", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	_, body = do(t, srv, http.MethodGet, "/api/session/status", "")
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, false, body["hasAuth"])
}

func TestBroadcastContinuesAfterClientLeaves(t *testing.T) {
	srv, dialer := newTestServer(t)

	code, _ := do(t, srv, http.MethodPost, "/api/session/login", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, srv, http.MethodPost, "/api/config",
		`{"recipientsRaw":"6281111111111;6282222222222;6283333333333;6284444444444","message":"hello","minDelaySec":0.2,"maxDelaySec":0.2}`)
	require.Equal(t, http.StatusOK, code)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/broadcast/start", strings.NewReader(`{}`))
	require.NoError(t, err)
	_, err = srv.Client().Do(req)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		resp, err := srv.Client().Get(srv.URL + "/api/logs")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body struct {
			Logs []any `json:"logs"`
		}
		return json.NewDecoder(resp.Body).Decode(&body) == nil && len(body.Logs) == 1
	}, 3*time.Second, 20*time.Millisecond)

	assert.Len(t, dialer.Sent(), 4)
	_, body := do(t, srv, http.MethodGet, "/api/logs", "")
	entry := body["logs"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(4), entry["success"])
	assert.Equal(t, float64(0), entry["failed"])
}

type stubManager struct {
	manager.Manager
	login    session.LoginResult
	loginErr error
}

func (s *stubManager) RequestLogin(context.Context) (session.LoginResult, error) {
	return s.login, s.loginErr
}

func TestLoginQR(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&stubManager{login: session.LoginResult{Status: session.LoginQR, QR: "2@ref,key"}}, logx.Nop()))
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/api/session/login", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "qr", body["status"])
	assert.True(t, strings.HasPrefix(body["qr"].(string), "data:image/png;base64,"))
}

func TestLoginError(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&stubManager{loginErr: errors.New("store locked")}, logx.Nop()))
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/api/session/login", "")
	require.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["ok"])
	e := body["error"].(map[string]any)
	assert.Equal(t, "store locked", e["message"])
	assert.True(t, strings.HasPrefix(e["detail"].(string), "request "))
}

func TestLoginLoggedOut(t *testing.T) {
	srv := httptest.NewServer(NewRouter(&stubManager{login: session.LoginResult{Status: session.LoginLoggedOut}}, logx.Nop()))
	defer srv.Close()

	code, body := do(t, srv, http.MethodPost, "/api/session/login", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "logged_out", body["status"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(broadcast.ErrAlreadyInProgress))
	assert.Equal(t, http.StatusConflict, statusFor(errors.Join(errors.New("send now"), broadcast.ErrNotConnected)))
	assert.Equal(t, http.StatusBadRequest, statusFor(broadcast.ErrEmptyMessage))
	assert.Equal(t, http.StatusBadRequest, statusFor(errBadPayload))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}

func TestProfilerMount(t *testing.T) {
	off := httptest.NewServer(NewRouter(&stubManager{}, logx.Nop()))
	defer off.Close()
	resp, err := off.Client().Get(off.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	on := httptest.NewServer(NewRouter(&stubManager{}, logx.Nop(), WithProfiler(true)))
	defer on.Close()
	resp, err = on.Client().Get(on.URL + "/debug/pprof/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
