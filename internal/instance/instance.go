// Package instance manages the lifecycle of provisioned browser instances:
// launching them against the remote anti-detect service, tracking the live
// handles per logical profile, and tearing everything down again through a
// multi-tier shutdown cascade.
package instance

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// Instance is one running remote browser started for a logical profile.
type Instance struct {
	ProfileID       string
	RemoteProfileID string
	Endpoint        string // endpoint reported by the provisioning service
	WSURL           string // resolved debugger websocket URL
	DebugPort       int    // remote-debugging port, used for scoped termination
	StartedAt       time.Time
}

// Connection is the protocol connection surface the cascade drives.
// *cdp.Conn satisfies it.
type Connection interface {
	CloseBrowser(ctx context.Context) error
	ClosePages(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// SessionHandle is the automation session surface. *cdp.Session satisfies it.
type SessionHandle interface {
	Close() error
}

// Entry is a registry record: the live handles for one profile.
// Conn or Session may be nil during the launch window.
type Entry struct {
	Instance *Instance
	Conn     Connection
	Session  SessionHandle
}

// debugPortFromURL extracts the port of a debugger websocket URL.
func debugPortFromURL(wsURL string) int {
	u, err := url.Parse(wsURL)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return port
}
