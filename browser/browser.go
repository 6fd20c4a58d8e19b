// Package browser wraps Chrome DevTools Protocol automation behind the small
// capability surface the engine needs: isolated contexts, navigation and
// selector waits with timeouts, script evaluation, cookies and request
// blocking. Everything site-specific lives in the services layer.
package browser

import "context"

// Cookie is the serialized form stored on account records between runs.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Page is one isolated browsing context. Implementations bound every remote
// interaction with their own timeout; the caller context is only consulted
// for early cancellation.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	// Evaluate runs js in the page and unmarshals the result into out
	// (out may be nil to discard the result).
	Evaluate(ctx context.Context, js string, out any) error
	// EvaluateInFrame runs js inside the first iframe whose URL contains
	// urlSubstr. The seating-chart widget renders out-of-process, so this
	// attaches to the frame's own target.
	EvaluateInFrame(ctx context.Context, urlSubstr, js string, out any) error
	URL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	ClearCookies(ctx context.Context) error
	Close() error
}

// Driver owns the process-wide browser instance. One engine run at a time;
// Restart gives Reset a clean slate with no leaked contexts.
type Driver interface {
	NewPage(ctx context.Context, opts ...PageOption) (Page, error)
	// SetProxy routes browser traffic through the given proxy URL starting
	// with the next Restart. An empty URL clears it.
	SetProxy(proxyURL string)
	Restart(ctx context.Context) error
	Close() error
}

type pageOptions struct {
	blockHeavyResources bool
}

type PageOption func(*pageOptions)

// BlockHeavyResources aborts image/font/media requests and known tracker
// hosts on the page, trading fidelity for load speed. Used by the background
// refresher's scratch contexts.
func BlockHeavyResources() PageOption {
	return func(o *pageOptions) { o.blockHeavyResources = true }
}
