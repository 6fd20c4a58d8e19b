package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Hosts whose requests are aborted when heavy-resource blocking is on.
// Matches the trackers the booking site loads on every page.
var blockedURLFragments = []string{
	"clarity",
	"fullstory",
	"googlesyndication",
	"imasdk.googleapis.com",
}

var blockedResourceTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage: true,
	network.ResourceTypeFont:  true,
	network.ResourceTypeMedia: true,
}

// ChromeOptions configure the process-wide Chrome instance.
type ChromeOptions struct {
	Headless bool
	// ProxyURL routes all browser traffic through the given proxy when set.
	ProxyURL string

	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	EvalTimeout       time.Duration
}

// ChromeDriver is the chromedp-backed Driver. The underlying browser is a
// process-wide singleton by construction: main wires exactly one of these
// into the engine.
type ChromeDriver struct {
	opts ChromeOptions

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewChromeDriver(opts ChromeOptions) *ChromeDriver {
	if opts.NavigationTimeout == 0 {
		opts.NavigationTimeout = 80 * time.Second
	}
	if opts.SelectorTimeout == 0 {
		opts.SelectorTimeout = 6 * time.Second
	}
	if opts.EvalTimeout == 0 {
		opts.EvalTimeout = 15 * time.Second
	}
	return &ChromeDriver{opts: opts}
}

// Launch starts the browser process. Idempotent: a second call on a live
// driver is a no-op.
func (d *ChromeDriver) Launch(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserCtx != nil {
		return nil
	}
	return d.launchLocked(ctx)
}

func (d *ChromeDriver) launchLocked(ctx context.Context) error {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", d.opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if d.opts.ProxyURL != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(d.opts.ProxyURL))
	}

	d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)
	d.browserCtx, d.browserCancel = chromedp.NewContext(d.allocCtx)

	// Force the browser process up now so launch failures surface here
	// instead of on the first worker's page.
	startCtx, cancel := context.WithTimeout(d.browserCtx, d.opts.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		d.teardownLocked()
		return fmt.Errorf("browser launch: %w", err)
	}
	return nil
}

// SetProxy changes the proxy used for subsequent launches. Takes effect on
// the next Restart.
func (d *ChromeDriver) SetProxy(proxyURL string) {
	d.mu.Lock()
	d.opts.ProxyURL = proxyURL
	d.mu.Unlock()
}

// Restart tears the browser down and launches a fresh process, discarding
// every open context. Used by Reset to guarantee no leaked state.
func (d *ChromeDriver) Restart(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
	return d.launchLocked(ctx)
}

func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
	return nil
}

func (d *ChromeDriver) teardownLocked() {
	if d.browserCancel != nil {
		d.browserCancel()
		d.browserCancel = nil
		d.browserCtx = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
		d.allocCtx = nil
	}
}

// NewPage opens a new tab context on the shared browser.
func (d *ChromeDriver) NewPage(ctx context.Context, opts ...PageOption) (Page, error) {
	var po pageOptions
	for _, opt := range opts {
		opt(&po)
	}

	d.mu.Lock()
	browserCtx := d.browserCtx
	d.mu.Unlock()
	if browserCtx == nil {
		return nil, fmt.Errorf("browser not launched")
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)

	if po.blockHeavyResources {
		chromedp.ListenTarget(tabCtx, func(ev any) {
			paused, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			go resolvePausedRequest(tabCtx, paused)
		})
		if err := chromedp.Run(tabCtx, fetch.Enable()); err != nil {
			tabCancel()
			return nil, fmt.Errorf("enable request interception: %w", err)
		}
	} else {
		// Materialize the tab eagerly so Close is always meaningful.
		if err := chromedp.Run(tabCtx); err != nil {
			tabCancel()
			return nil, fmt.Errorf("open tab: %w", err)
		}
	}

	return &chromePage{
		ctx:    tabCtx,
		cancel: tabCancel,
		opts:   d.opts,
	}, nil
}

func resolvePausedRequest(tabCtx context.Context, paused *fetch.EventRequestPaused) {
	c := chromedp.FromContext(tabCtx)
	execCtx := cdp.WithExecutor(tabCtx, c.Target)

	if blockedResourceTypes[paused.ResourceType] {
		_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
		return
	}
	for _, fragment := range blockedURLFragments {
		if strings.Contains(paused.Request.URL, fragment) {
			_ = fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			return
		}
	}
	_ = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   ChromeOptions

	closeOnce sync.Once
}

// bounded derives a timeout context from the page's own chromedp context,
// bailing early if the caller already gave up.
func (p *chromePage) bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	tctx, cancel := context.WithTimeout(p.ctx, d)
	return tctx, cancel, nil
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	tctx, cancel, err := p.bounded(ctx, p.opts.NavigationTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedp.Run(tctx, chromedp.Navigate(url))
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	tctx, cancel, err := p.bounded(ctx, p.opts.SelectorTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedp.Run(tctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	tctx, cancel, err := p.bounded(ctx, p.opts.SelectorTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedp.Run(tctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	tctx, cancel, err := p.bounded(ctx, p.opts.SelectorTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedp.Run(tctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromePage) Evaluate(ctx context.Context, js string, out any) error {
	tctx, cancel, err := p.bounded(ctx, p.opts.EvalTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedp.Run(tctx, chromedp.Evaluate(js, out))
}

func (p *chromePage) EvaluateInFrame(ctx context.Context, urlSubstr, js string, out any) error {
	tctx, cancel, err := p.bounded(ctx, p.opts.EvalTimeout)
	if err != nil {
		return err
	}
	defer cancel()

	targets, err := chromedp.Targets(p.ctx)
	if err != nil {
		return fmt.Errorf("list frame targets: %w", err)
	}
	var frame *target.Info
	for _, t := range targets {
		if t.Type == "iframe" && strings.Contains(t.URL, urlSubstr) {
			frame = t
			break
		}
	}
	if frame == nil {
		return fmt.Errorf("no frame matching %q", urlSubstr)
	}

	frameCtx, frameCancel := chromedp.NewContext(tctx, chromedp.WithTargetID(frame.TargetID))
	defer frameCancel()
	return chromedp.Run(frameCtx, chromedp.Evaluate(js, out))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	tctx, cancel, err := p.bounded(ctx, p.opts.EvalTimeout)
	if err != nil {
		return "", err
	}
	defer cancel()
	var url string
	if err := chromedp.Run(tctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	tctx, cancel, err := p.bounded(ctx, p.opts.EvalTimeout)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var cookies []Cookie
	err = chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		cookies = make([]Cookie, 0, len(raw))
		for _, c := range raw {
			cookies = append(cookies, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return cookies, nil
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	tctx, cancel, err := p.bounded(ctx, p.opts.EvalTimeout)
	if err != nil {
		return err
	}
	defer cancel()

	return chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			setter := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Path != "" {
				setter = setter.WithPath(c.Path)
			}
			if err := setter.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

func (p *chromePage) ClearCookies(ctx context.Context) error {
	tctx, cancel, err := p.bounded(ctx, p.opts.EvalTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.ClearBrowserCookies().Do(ctx)
	}))
}

func (p *chromePage) Close() error {
	p.closeOnce.Do(p.cancel)
	return nil
}
