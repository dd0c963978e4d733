package instance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/terracebot/terrace/internal/db"
	"github.com/terracebot/terrace/internal/provision"
)

// eventLog records cross-collaborator call ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, got := range l.events {
		if got == e {
			return i
		}
	}
	return -1
}

// fakeSvc is a scripted provisioning service without the local-cleanup
// capability.
type fakeSvc struct {
	log *eventLog

	mu          sync.Mutex
	createID    string
	validateErr error
	startResult *provision.StartResult
	startErr    error
	stopErr     error
	stopDelay   time.Duration
	deleteErr   error
	deleteDelay time.Duration

	stopped []string
	deleted []string
}

func newFakeSvc(log *eventLog) *fakeSvc {
	return &fakeSvc{
		log:         log,
		createID:    "ffffffffffffffffffffffff",
		startResult: &provision.StartResult{Status: "success", Endpoint: "ws://127.0.0.1:37123/devtools/browser/x"},
	}
}

func (f *fakeSvc) CreateProfile(_ context.Context, opts provision.FingerprintOptions) (string, error) {
	f.log.add("create")
	return f.createID, nil
}

func (f *fakeSvc) ValidateProfile(_ context.Context, remoteID string) error {
	f.log.add("validate:" + remoteID)
	return f.validateErr
}

func (f *fakeSvc) StartProfile(_ context.Context, remoteID string) (*provision.StartResult, error) {
	f.log.add("start:" + remoteID)
	return f.startResult, f.startErr
}

func (f *fakeSvc) StopProfile(_ context.Context, remoteID string) error {
	f.log.add("stop:" + remoteID)
	if f.stopDelay > 0 {
		time.Sleep(f.stopDelay)
	}
	f.mu.Lock()
	f.stopped = append(f.stopped, remoteID)
	f.mu.Unlock()
	return f.stopErr
}

func (f *fakeSvc) DeleteProfile(_ context.Context, remoteID string) error {
	f.log.add("delete:" + remoteID)
	if f.deleteDelay > 0 {
		time.Sleep(f.deleteDelay)
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, remoteID)
	f.mu.Unlock()
	return f.deleteErr
}

func (f *fakeSvc) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// markerSvc adds the local-cleanup capability on top of fakeSvc.
type markerSvc struct {
	*fakeSvc

	markErr error
	marked  []string
}

func (m *markerSvc) MarkLocalCleanup(_ context.Context, remoteID string) error {
	m.log.add("mark:" + remoteID)
	m.fakeSvc.mu.Lock()
	m.marked = append(m.marked, remoteID)
	m.fakeSvc.mu.Unlock()
	return m.markErr
}

// fakeIDs is an in-memory recorded-id source.
type fakeIDs struct {
	mu  sync.Mutex
	ids map[string]string
	err error
}

func (f *fakeIDs) RemoteProfileID(_ context.Context, profileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.ids[profileID], nil
}

// fakeConn is a scripted protocol connection.
type fakeConn struct {
	log *eventLog

	browserCloseErr   error
	browserCloseDelay time.Duration
	pagesCloseErr     error

	mu        sync.Mutex
	shutdowns int
}

func (c *fakeConn) CloseBrowser(context.Context) error {
	c.log.add("conn.close-browser")
	if c.browserCloseDelay > 0 {
		time.Sleep(c.browserCloseDelay)
	}
	return c.browserCloseErr
}

func (c *fakeConn) ClosePages(context.Context) error {
	c.log.add("conn.close-pages")
	return c.pagesCloseErr
}

func (c *fakeConn) Shutdown(context.Context) {
	c.log.add("conn.shutdown")
	c.mu.Lock()
	c.shutdowns++
	c.mu.Unlock()
}

func (c *fakeConn) shutdownCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdowns
}

type fakeSession struct {
	log      *eventLog
	closeErr error
}

func (s *fakeSession) Close() error {
	s.log.add("session.close")
	return s.closeErr
}

// fakeProbe records termination requests.
type fakeProbe struct {
	mu      sync.Mutex
	running bool
	killed  []int
	killErr error
}

func (p *fakeProbe) IsRunning(string) bool { return p.running }

func (p *fakeProbe) TerminateByPort(port int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = append(p.killed, port)
	return p.killErr
}

func (p *fakeProbe) killedPorts() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.killed...)
}

// fakeStore is an in-memory profile store for launcher tests.
type fakeStore struct {
	log *eventLog

	mu       sync.Mutex
	profiles map[string]*db.Profile
	setErr   error
}

func newFakeStore(log *eventLog) *fakeStore {
	return &fakeStore{log: log, profiles: map[string]*db.Profile{}}
}

func (s *fakeStore) GetProfile(_ context.Context, id string) (*db.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, db.ErrProfileNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) SetRemoteProfileID(_ context.Context, id, remoteID string) error {
	s.log.add("record:" + remoteID)
	if s.setErr != nil {
		return s.setErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[id]; ok {
		p.RemoteProfileID = remoteID
	}
	return nil
}

func (s *fakeStore) RemoteProfileID(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return "", errors.New("profile not found")
	}
	return p.RemoteProfileID, nil
}

// captureHandler is a slog.Handler recording log messages for assertions.
type captureHandler struct {
	mu   sync.Mutex
	msgs []string
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, r.Message)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.msgs...)
}

func testBudgets() Budgets {
	return Budgets{
		TabClose:     200 * time.Millisecond,
		LocalMode:    100 * time.Millisecond,
		Stop:         300 * time.Millisecond,
		Delete:       200 * time.Millisecond,
		FallbackStep: 300 * time.Millisecond,
		Settle:       0,
		Recheck:      0,
		Ready:        time.Second,
	}
}
