package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/GladstoneOG/wabot/internal/campaign"
	"github.com/GladstoneOG/wabot/internal/manager"
	"github.com/GladstoneOG/wabot/internal/qrimage"
	"github.com/GladstoneOG/wabot/internal/session"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

const maxBody = 1 << 20

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	ok(w, nil)
}

type statusResponse struct {
	OK bool `json:"ok"`
	manager.Status
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: h.m.Status()})
}

// loginError replaces the stack trace a client might expect with the request
// id, which finds the full error in the server log.
type loginError struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	res, err := h.m.RequestLogin(r.Context())
	if err == nil && res.Status == session.LoginQR {
		var url string
		url, err = qrimage.DataURL(res.QR, qrimage.DefaultSize)
		if err == nil {
			ok(w, map[string]any{"status": "qr", "qr": url})
			return
		}
		err = fmt.Errorf("render qr: %w", err)
	}
	if err != nil {
		reqID := chimw.GetReqID(r.Context())
		h.log.Error("login failed", logx.String("req_id", reqID), logx.Err(err))
		detail := ""
		if reqID != "" {
			detail = "request " + reqID
		}
		fail(w, http.StatusInternalServerError, loginError{Message: message(err), Detail: detail})
		return
	}
	if res.Status == session.LoginLoggedOut {
		ok(w, map[string]any{"status": "logged_out"})
		return
	}
	ok(w, map[string]any{"status": "connected"})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.m.Logout(r.Context()); err != nil {
		h.log.Error("logout failed", logx.Err(err))
		fail(w, statusFor(err), message(err))
		return
	}
	ok(w, nil)
}

func (h *handlers) getConfig(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{"config": h.m.Config()})
}

func (h *handlers) postConfig(w http.ResponseWriter, r *http.Request) {
	var raw any
	if err := decodeBody(w, r, &raw); err != nil {
		if errors.Is(err, io.EOF) {
			err = errBadPayload
		}
		fail(w, http.StatusBadRequest, message(err))
		return
	}
	cfg, err := parseConfig(raw)
	if err != nil {
		fail(w, http.StatusBadRequest, message(err))
		return
	}
	snap, err := h.m.UpdateConfig(r.Context(), cfg)
	if err != nil {
		h.log.Error("config update failed", logx.Err(err))
		fail(w, statusFor(err), message(err))
		return
	}
	ok(w, map[string]any{"config": snap})
}

// parseConfig reads the five editable fields. Strings of the wrong type
// become "", numbers are parsed leniently and missing ones become 0.
func parseConfig(raw any) (campaign.Config, error) {
	body, isObj := raw.(map[string]any)
	if !isObj {
		return campaign.Config{}, errBadPayload
	}
	return campaign.Config{
		RecipientsRaw:   stringField(body["recipientsRaw"]),
		Message:         stringField(body["message"]),
		MinDelaySec:     numberField(body["minDelaySec"]),
		MaxDelaySec:     numberField(body["maxDelaySec"]),
		IntervalMinutes: numberField(body["intervalMinutes"]),
	}, nil
}

func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// numberField converts like a loose JSON client would: numbers as is,
// numeric strings parsed, booleans as 0/1. Anything else is NaN, which the
// config clamp turns into 0.
func numberField(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

type startRequest struct {
	SendNow  *bool
	Schedule *bool
}

func (h *handlers) startBroadcast(w http.ResponseWriter, r *http.Request) {
	req, err := parseStart(w, r)
	if err != nil {
		fail(w, http.StatusBadRequest, message(err))
		return
	}
	sendNow := req.SendNow == nil || *req.SendNow
	schedule := req.Schedule != nil && *req.Schedule

	st, err := h.m.StartBroadcast(r.Context(), sendNow, schedule)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.log.Error("broadcast start failed", logx.Err(err))
		}
		fail(w, code, message(err))
		return
	}
	ok(w, map[string]any{"status": st})
}

// parseStart accepts an empty body. Fields that are not booleans are
// ignored.
func parseStart(w http.ResponseWriter, r *http.Request) (startRequest, error) {
	var raw any
	err := decodeBody(w, r, &raw)
	if errors.Is(err, io.EOF) {
		return startRequest{}, nil
	}
	if err != nil {
		return startRequest{}, err
	}
	var req startRequest
	body, _ := raw.(map[string]any)
	if b, isBool := body["sendNow"].(bool); isBool {
		req.SendNow = &b
	}
	if b, isBool := body["schedule"].(bool); isBool {
		req.Schedule = &b
	}
	return req, nil
}

func (h *handlers) stopBroadcast(w http.ResponseWriter, _ *http.Request) {
	h.m.StopSchedule()
	ok(w, map[string]any{"status": h.m.Status()})
}

func (h *handlers) logs(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{"logs": h.m.Logs()})
}

// decodeBody reads one JSON value. An empty body yields io.EOF unwrapped.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: %v", errBadPayload, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", errBadPayload)
	}
	return nil
}
