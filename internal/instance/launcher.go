package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/terracebot/terrace/internal/cdp"
	"github.com/terracebot/terrace/internal/db"
	"github.com/terracebot/terrace/internal/logging"
	"github.com/terracebot/terrace/internal/provision"
)

// ErrAlreadyRunning is returned when a profile already has a live instance.
var ErrAlreadyRunning = errors.New("instance already running for profile")

// ErrAlreadyClosed is returned when a close claims the registry entry while
// the launch is still attaching its handles.
var ErrAlreadyClosed = errors.New("instance closed during launch")

// ProfileStore is the persistence surface the launcher needs: reading a
// logical profile and writing back a freshly provisioned remote id.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*db.Profile, error)
	SetRemoteProfileID(ctx context.Context, id, remoteID string) error
}

// Launcher acquires a remote profile, starts its browser, and wires up the
// protocol connection, producing a registered live instance.
type Launcher struct {
	prov    *provision.Provisioner
	svc     provision.Service
	store   ProfileStore
	reg     *Registry
	cascade *Cascade
	budgets Budgets
	log     *slog.Logger

	// Injection points for tests; defaults wrap the cdp package.
	connect func(ctx context.Context, wsURL, profileID string) (Connection, error)
	attach  func(wsURL string) SessionHandle
}

// NewLauncher creates a launcher over the given collaborators.
func NewLauncher(svc provision.Service, store ProfileStore, reg *Registry, cascade *Cascade) *Launcher {
	return &Launcher{
		prov:    provision.NewProvisioner(svc),
		svc:     svc,
		store:   store,
		reg:     reg,
		cascade: cascade,
		budgets: DefaultBudgets(),
		log:     logging.Component("launcher"),
		connect: func(ctx context.Context, wsURL, profileID string) (Connection, error) {
			return cdp.Connect(ctx, wsURL, profileID)
		},
		attach: func(wsURL string) SessionHandle {
			return cdp.NewSession(wsURL)
		},
	}
}

// Launch brings up a browser instance for a logical profile and registers
// its handles. Any failure after the remote browser started tears the
// partial instance down through the same cascade used for a normal close.
func (l *Launcher) Launch(ctx context.Context, profileID string) (*Instance, error) {
	if l.reg.Get(profileID) != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, profileID)
	}

	profile, err := l.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	remoteID, created, err := l.prov.Resolve(ctx, profileID, profile.RemoteProfileID, profile.Proxy)
	if err != nil {
		return nil, err
	}
	if created {
		// The id must be durably recorded before anything else happens to
		// the instance; cleanup only ever deletes recorded ids.
		if err := l.store.SetRemoteProfileID(ctx, profileID, remoteID); err != nil {
			return nil, fmt.Errorf("record remote profile id: %w", err)
		}
	}

	result, err := l.svc.StartProfile(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if !result.Success() {
		return nil, fmt.Errorf("profile %s: start reported status %q", profileID, result.Status)
	}

	inst := &Instance{
		ProfileID:       profileID,
		RemoteProfileID: remoteID,
		Endpoint:        result.Endpoint,
		StartedAt:       time.Now(),
	}

	// Register before connecting: the instance legitimately exists without
	// a connection during the launch window, and registering it first lets
	// every failure path below roll back through the normal cascade.
	if !l.reg.SetIfAbsent(profileID, &Entry{Instance: inst}) {
		stopErr := race(ctx, l.budgets.Stop, func(ctx context.Context) error {
			return l.svc.StopProfile(ctx, remoteID)
		})
		if stopErr != nil {
			l.log.Warn("stop of losing launch failed", "profile", profileID, "error", stopErr)
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, profileID)
	}

	wsURL, err := cdp.ResolveWebSocketURL(ctx, result.Endpoint, l.budgets.Ready)
	if err != nil {
		return nil, l.rollback(ctx, profileID, fmt.Errorf("resolve debugger endpoint: %w", err))
	}
	inst.WSURL = wsURL
	inst.DebugPort = debugPortFromURL(wsURL)

	conn, err := l.connect(ctx, wsURL, profileID)
	if err != nil {
		return nil, l.rollback(ctx, profileID, fmt.Errorf("connect: %w", err))
	}

	session := l.attach(wsURL)
	attached := l.reg.Update(profileID, func(e *Entry) {
		e.Conn = conn
		e.Session = session
	})
	if !attached {
		// A close claimed the entry during the launch window. Its cascade
		// ran against the partial entry and never saw these handles or the
		// started browser, so release them here.
		conn.Shutdown(ctx)
		if err := session.Close(); err != nil {
			l.log.Warn("session close after losing launch failed", "profile", profileID, "error", err)
		}
		stopErr := race(ctx, l.budgets.Stop, func(ctx context.Context) error {
			return l.svc.StopProfile(ctx, remoteID)
		})
		if stopErr != nil {
			l.log.Warn("stop after losing launch failed", "profile", profileID, "error", stopErr)
		}
		return nil, fmt.Errorf("%w: %s", ErrAlreadyClosed, profileID)
	}

	l.log.Info("instance launched", "profile", profileID, "remote_id", remoteID, "endpoint", result.Endpoint)
	return inst, nil
}

// Close tears down the instance for a profile. Closing a profile with no
// live instance returns a skipped outcome, not an error.
func (l *Launcher) Close(ctx context.Context, profileID string) Outcome {
	return l.cascade.Close(ctx, profileID)
}

// Session returns the automation session for a running profile, or nil.
func (l *Launcher) Session(profileID string) SessionHandle {
	e := l.reg.Get(profileID)
	if e == nil {
		return nil
	}
	return e.Session
}

func (l *Launcher) rollback(ctx context.Context, profileID string, cause error) error {
	out := l.cascade.Close(ctx, profileID)
	if !out.Success {
		l.log.Warn("rollback cleanup incomplete", "profile", profileID, "error", out.Err)
	}
	return cause
}

// Status describes a profile's instance state for listings.
type Status struct {
	ProfileID       string
	Running         bool
	RemoteProfileID string
	Endpoint        string
	Uptime          time.Duration
}

// Status returns the instance status for one profile.
func (l *Launcher) Status(profileID string) Status {
	e := l.reg.Get(profileID)
	if e == nil {
		return Status{ProfileID: profileID}
	}
	return Status{
		ProfileID:       profileID,
		Running:         true,
		RemoteProfileID: e.Instance.RemoteProfileID,
		Endpoint:        e.Instance.Endpoint,
		Uptime:          time.Since(e.Instance.StartedAt),
	}
}
