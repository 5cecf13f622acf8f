// Package manager is the operations facade used by the HTTP API: session
// login/logout, broadcast config, sending and scheduling, and the activity
// log.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GladstoneOG/wabot/internal/activity"
	"github.com/GladstoneOG/wabot/internal/broadcast"
	"github.com/GladstoneOG/wabot/internal/campaign"
	"github.com/GladstoneOG/wabot/internal/schedule"
	"github.com/GladstoneOG/wabot/internal/session"
	"github.com/GladstoneOG/wabot/pkg/logx"
)

// Status is the dashboard view of the whole system.
type Status struct {
	Connected      bool              `json:"connected"`
	HasAuth        bool              `json:"hasAuth"`
	TimerActive    bool              `json:"timerActive"`
	NextRun        *time.Time        `json:"nextRun"`
	Config         campaign.Snapshot `json:"config"`
	RecipientCount int               `json:"recipientCount"`
	InProgress     bool              `json:"inProgress"`
}

type Manager struct {
	session    *session.Session
	dispatcher *broadcast.Dispatcher
	schedule   *schedule.Controller
	campaign   *campaign.Holder
	logs       *activity.Store
	log        logx.Logger

	// life bounds manual passes; they outlive the request that started them.
	life context.Context
	stop context.CancelFunc
}

type Deps struct {
	Session    *session.Session
	Dispatcher *broadcast.Dispatcher
	Schedule   *schedule.Controller
	Campaign   *campaign.Holder
	Logs       *activity.Store
	Log        logx.Logger
}

func New(d Deps) *Manager {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Dispatcher.SetSchedule(d.Schedule)
	life, stop := context.WithCancel(context.Background())
	return &Manager{
		session:    d.Session,
		dispatcher: d.Dispatcher,
		schedule:   d.Schedule,
		campaign:   d.Campaign,
		logs:       d.Logs,
		log:        d.Log.With(logx.String("comp", "manager")),
		life:       life,
		stop:       stop,
	}
}

// Load restores the persisted campaign config and activity log.
func (m *Manager) Load(ctx context.Context) error {
	if err := m.campaign.Load(ctx); err != nil {
		return err
	}
	if err := m.logs.Load(ctx); err != nil {
		return err
	}
	snap := m.campaign.Current()
	m.log.Info("state restored",
		logx.Int("recipients", len(snap.Recipients)),
		logx.Int("log_entries", len(m.logs.List())),
	)
	return nil
}

func (m *Manager) Status() Status {
	st := m.session.Status()
	snap := m.campaign.Current()
	return Status{
		Connected:      st.Connected,
		HasAuth:        st.HasCredentials,
		TimerActive:    m.schedule.Active(),
		NextRun:        utc(m.schedule.NextRun()),
		Config:         snap,
		RecipientCount: len(snap.Recipients),
		InProgress:     m.dispatcher.InProgress(),
	}
}

// RequestLogin asks the session for a QR code or a connection. When the
// transport reports the old credentials as revoked, it tries once more so the
// caller gets a fresh QR code instead of a dead end.
func (m *Manager) RequestLogin(ctx context.Context) (session.LoginResult, error) {
	res, err := m.session.RequestLogin(ctx)
	if err != nil || res.Status != session.LoginLoggedOut {
		return res, err
	}
	m.log.Info("credentials revoked during login; pairing again")
	return m.session.RequestLogin(ctx)
}

// Logout stops the schedule before dropping the session.
func (m *Manager) Logout(ctx context.Context) error {
	m.schedule.Stop()
	return m.session.Logout(ctx)
}

func (m *Manager) Config() campaign.Snapshot { return m.campaign.Current() }

func (m *Manager) UpdateConfig(ctx context.Context, cfg campaign.Config) (campaign.Snapshot, error) {
	prev := m.campaign.Current().Interval()
	snap, err := m.campaign.Update(ctx, cfg)
	if err != nil {
		return snap, err
	}
	// only a new interval restarts the countdown
	if m.schedule.Active() && snap.Interval() != 0 && snap.Interval() != prev {
		m.schedule.Start(snap.Interval())
	}
	return snap, nil
}

// SendNow runs a manual pass. Once started the pass is not tied to ctx: a
// caller that goes away stops waiting, the sends go on. Close stops it.
func (m *Manager) SendNow(ctx context.Context) (broadcast.Result, error) {
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	unhook := context.AfterFunc(m.life, cancel)
	defer unhook()
	return m.dispatcher.Send(passCtx, broadcast.Manual)
}

// Close cancels a running manual pass. The pass still logs what it sent.
func (m *Manager) Close() { m.stop() }

// StartSchedule arms the timer with the configured interval. A zero
// interval leaves it stopped.
func (m *Manager) StartSchedule() {
	m.schedule.Start(m.campaign.Current().Interval())
}

func (m *Manager) StopSchedule() { m.schedule.Stop() }

// StartBroadcast optionally sends right away, then starts or stops the
// schedule. A failed send leaves the schedule untouched.
func (m *Manager) StartBroadcast(ctx context.Context, sendNow, withSchedule bool) (Status, error) {
	if sendNow {
		if _, err := m.SendNow(ctx); err != nil {
			return m.Status(), fmt.Errorf("send now: %w", err)
		}
	}
	if withSchedule {
		m.StartSchedule()
	} else {
		m.StopSchedule()
	}
	return m.Status(), nil
}

func (m *Manager) Logs() []activity.Entry { return m.logs.List() }

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// IsClientError reports errors caused by the request or the current state
// rather than by the server.
func IsClientError(err error) bool {
	var berr *broadcast.Error
	return errors.As(err, &berr)
}
