package cdp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Session is a high-level automation handle over a live instance, used by
// the site login scripts. It attaches to the same debugger endpoint as the
// protocol connection but drives it through chromedp.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewSession attaches to a running instance's debugger endpoint.
func NewSession(wsURL string) *Session {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), wsURL, chromedp.NoModifyURL)
	ctx, cancel := chromedp.NewContext(allocCtx)

	return &Session{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Navigate loads a URL and waits for the document body.
func (s *Session) Navigate(url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Evaluate runs a script in the page and unmarshals its result.
func (s *Session) Evaluate(script string, result any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if err := chromedp.Run(ctx, chromedp.Evaluate(script, result)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// CookiesForDomain returns the browser cookies scoped to a site domain.
// Login scripts use this to extract the session cookies after signing in.
func (s *Session) CookiesForDomain(domain string, timeout time.Duration) ([]*network.Cookie, error) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	var all []*network.Cookie
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		all = cookies
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}

	var matched []*network.Cookie
	for _, c := range all {
		if strings.HasSuffix(strings.TrimPrefix(c.Domain, "."), domain) ||
			strings.HasSuffix(domain, strings.TrimPrefix(c.Domain, ".")) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// Close detaches from the browser. Cancelling the chromedp contexts drops
// the session's CDP connection; the browser itself is left to the shutdown
// cascade.
func (s *Session) Close() error {
	s.cancel()
	s.allocCancel()
	return nil
}
