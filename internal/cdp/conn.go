// Package cdp manages remote-debugging protocol connections to provisioned
// browser instances: dialing the websocket endpoint, enabling the protocol
// domains the automation layer needs, and tearing the connection down again.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terracebot/terrace/internal/logging"
)

// RequiredDomains are the protocol domains a connection must have enabled
// before it is handed out: page navigation, script execution, and network
// observation. A connection missing any of them is not a valid connection.
var RequiredDomains = []string{"Page", "Runtime", "Network"}

// ErrConnClosed is returned for calls on a closed connection.
var ErrConnClosed = errors.New("cdp: connection closed")

const (
	callTimeout        = 10 * time.Second
	disableTimeout     = 3 * time.Second
	socketCloseTimeout = 10 * time.Second
)

type command struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Method string          `json:"method,omitempty"`
	Error  *protoError     `json:"error,omitempty"`
}

type protoError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *protoError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// Conn is a live protocol connection to one browser instance.
type Conn struct {
	mu      sync.Mutex // guards ws writes, nextID, closed
	ws      *websocket.Conn
	nextID  int
	closed  bool
	done    chan struct{}
	profile string

	pendingMu sync.Mutex
	pending   map[int]chan *response

	enabledMu sync.Mutex
	enabled   map[string]bool

	log *slog.Logger
}

// Connect dials the websocket endpoint and enables the required domains.
// Domains are enabled concurrently; any single enable failure aborts the
// connect, closing the socket again.
func Connect(ctx context.Context, wsURL, profileID string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	c := &Conn{
		ws:      ws,
		nextID:  1,
		done:    make(chan struct{}),
		profile: profileID,
		pending: make(map[int]chan *response),
		enabled: make(map[string]bool),
		log:     logging.Component("cdp").With("profile", profileID),
	}
	go c.readLoop()

	if err := c.enableDomains(ctx); err != nil {
		c.closeSocket()
		return nil, err
	}

	c.log.Info("connection established", "domains", RequiredDomains)
	return c, nil
}

// Call sends a protocol command and waits for its response.
func (c *Conn) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnClosed
	}
	id := c.nextID
	c.nextID++

	ch := make(chan *response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	err := c.ws.WriteJSON(command{ID: id, Method: method, Params: params})
	c.mu.Unlock()
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-c.done:
		return nil, ErrConnClosed
	case <-ctx.Done():
		c.dropPending(id)
		return nil, fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// EnabledDomains returns the protocol domains currently enabled.
func (c *Conn) EnabledDomains() []string {
	c.enabledMu.Lock()
	defer c.enabledMu.Unlock()

	domains := make([]string, 0, len(c.enabled))
	for d := range c.enabled {
		domains = append(domains, d)
	}
	return domains
}

// CloseBrowser asks the browser process to exit via the protocol.
func (c *Conn) CloseBrowser(ctx context.Context) error {
	_, err := c.Call(ctx, "Browser.close", nil)
	return err
}

// ClosePages closes every page target the browser reports. Individual
// close failures do not stop the remaining targets.
func (c *Conn) ClosePages(ctx context.Context) error {
	result, err := c.Call(ctx, "Target.getTargets", nil)
	if err != nil {
		return err
	}

	var targets struct {
		TargetInfos []struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
		} `json:"targetInfos"`
	}
	if err := json.Unmarshal(result, &targets); err != nil {
		return fmt.Errorf("parse targets: %w", err)
	}

	var firstErr error
	for _, t := range targets.TargetInfos {
		if t.Type != "page" {
			continue
		}
		params := map[string]string{"targetId": t.TargetID}
		if _, err := c.Call(ctx, "Target.closeTarget", params); err != nil {
			c.log.Warn("close target failed", "target", t.TargetID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Shutdown disables the enabled domains and closes the socket. Disables are
// attempted independently and failures are logged, not propagated: this is
// cleanup, and a stuck teardown must never block or fail the caller. The
// socket close itself is bounded by socketCloseTimeout.
func (c *Conn) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	for _, domain := range c.EnabledDomains() {
		dctx, cancel := context.WithTimeout(ctx, disableTimeout)
		if _, err := c.Call(dctx, domain+".disable", nil); err != nil {
			c.log.Warn("domain disable failed", "domain", domain, "error", err)
		} else {
			c.enabledMu.Lock()
			delete(c.enabled, domain)
			c.enabledMu.Unlock()
		}
		cancel()
	}

	closed := make(chan struct{})
	go func() {
		c.closeSocket()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(socketCloseTimeout):
		c.log.Warn("socket close timed out, abandoning", "timeout", socketCloseTimeout)
	}
}

func (c *Conn) enableDomains(ctx context.Context) error {
	var wg sync.WaitGroup
	errs := make(chan error, len(RequiredDomains))

	for _, domain := range RequiredDomains {
		wg.Add(1)
		go func(domain string) {
			defer wg.Done()
			if _, err := c.Call(ctx, domain+".enable", nil); err != nil {
				errs <- fmt.Errorf("enable %s: %w", domain, err)
				return
			}
			c.enabledMu.Lock()
			c.enabled[domain] = true
			c.enabledMu.Unlock()
		}(domain)
	}
	wg.Wait()
	close(errs)

	// Any missing domain invalidates the whole connection.
	for err := range errs {
		return err
	}
	return nil
}

func (c *Conn) readLoop() {
	defer func() {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
			close(c.done)
			_ = c.ws.Close()
		}
		c.mu.Unlock()
	}()

	for {
		var resp response
		if err := c.ws.ReadJSON(&resp); err != nil {
			return
		}
		if resp.ID == 0 {
			// Protocol event; the lifecycle layer has no subscribers.
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}
}

func (c *Conn) closeSocket() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)

	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = c.ws.Close()
}

func (c *Conn) dropPending(id int) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// ResolveWebSocketURL resolves the debugger websocket URL for a started
// instance. A ws:// endpoint is returned as-is; an http:// endpoint is
// polled until its /json/version answers, then the reported
// webSocketDebuggerUrl is used.
func ResolveWebSocketURL(ctx context.Context, endpoint string, timeout time.Duration) (string, error) {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint, nil
	}

	versionURL := strings.TrimSuffix(endpoint, "/") + "/json/version"
	deadline := time.Now().Add(timeout)

	var lastErr error
	for time.Now().Before(deadline) {
		wsURL, err := fetchDebuggerURL(ctx, versionURL)
		if err == nil {
			return wsURL, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("endpoint %s not ready within %s: %w", endpoint, timeout, lastErr)
}

func fetchDebuggerURL(ctx context.Context, versionURL string) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, versionURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&version); err != nil {
		return "", err
	}
	if version.WebSocketDebuggerURL == "" {
		return "", errors.New("no webSocketDebuggerUrl in response")
	}
	return version.WebSocketDebuggerURL, nil
}
