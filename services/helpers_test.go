package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/shibob53/webook-scraper/browser"
	"github.com/shibob53/webook-scraper/models"
)

// setResult copies v into out the way the real driver unmarshals CDP results.
func setResult(out, v any) error {
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// fakePage is a scriptable browser.Page. Zero value is a page where every
// interaction succeeds and every evaluation leaves out untouched.
type fakePage struct {
	mu        sync.Mutex
	navigated []string
	clicked   []string
	typed     map[string]string
	cookies   []browser.Cookie
	closed    bool

	urlSeq []string
	urlIdx int

	waitVisibleErr error
	clickErrs      map[string]error

	eval      func(js string, out any) error
	evalFrame func(urlSubstr, js string, out any) error
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) WaitVisible(ctx context.Context, selector string) error {
	return p.waitVisibleErr
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.clickErrs[selector]; ok {
		return err
	}
	p.clicked = append(p.clicked, selector)
	return nil
}

func (p *fakePage) Type(ctx context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.typed == nil {
		p.typed = map[string]string{}
	}
	p.typed[selector] = text
	return nil
}

func (p *fakePage) Evaluate(ctx context.Context, js string, out any) error {
	if p.eval == nil {
		return nil
	}
	return p.eval(js, out)
}

func (p *fakePage) EvaluateInFrame(ctx context.Context, urlSubstr, js string, out any) error {
	if p.evalFrame == nil {
		return fmt.Errorf("no frame matching %q", urlSubstr)
	}
	return p.evalFrame(urlSubstr, js, out)
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.urlSeq) == 0 {
		return "", nil
	}
	url := p.urlSeq[p.urlIdx]
	if p.urlIdx < len(p.urlSeq)-1 {
		p.urlIdx++
	}
	return url, nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookies, nil
}

func (p *fakePage) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *fakePage) ClearCookies(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = nil
	return nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeDriver hands out fresh fakePages built by newPage.
type fakeDriver struct {
	mu       sync.Mutex
	newPage  func() *fakePage
	pages    []*fakePage
	proxyURL string
	restarts int
}

func (d *fakeDriver) NewPage(ctx context.Context, opts ...browser.PageOption) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var page *fakePage
	if d.newPage != nil {
		page = d.newPage()
	} else {
		page = &fakePage{}
	}
	d.pages = append(d.pages, page)
	return page, nil
}

func (d *fakeDriver) SetProxy(proxyURL string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.proxyURL = proxyURL
}

func (d *fakeDriver) Restart(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.restarts++
	return nil
}

func (d *fakeDriver) Close() error { return nil }

// fakeStore is an in-memory EngineStore, SweepStore, CookieStore and
// GrabStore in one.
type fakeStore struct {
	mu       sync.Mutex
	accounts []*models.Account
	settings *models.Settings
	grabs    map[string]*models.TicketGrab
	nextID   int

	resetCalls    int
	settingsSaves []models.Settings
	deletedGrabs  []string
}

func newFakeStore(settings *models.Settings, accounts ...*models.Account) *fakeStore {
	return &fakeStore{
		accounts: accounts,
		settings: settings,
		grabs:    map[string]*models.TicketGrab{},
	}
}

func (s *fakeStore) ActiveAccounts(ctx context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		if !a.Disabled {
			active = append(active, a)
		}
	}
	return active, nil
}

func (s *fakeStore) SaveAccountCookies(ctx context.Context, account *models.Account) error {
	return nil
}

func (s *fakeStore) SaveAccountProgress(ctx context.Context, account *models.Account) error {
	return nil
}

func (s *fakeStore) ResetAccountProgress(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCalls++
	for _, a := range s.accounts {
		a.TicketsGrabbed = 0
	}
	return nil
}

func (s *fakeStore) LoadSettings(ctx context.Context) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *s.settings
	return &copied, nil
}

func (s *fakeStore) SaveSettings(ctx context.Context, settings *models.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *settings
	s.settings = &copied
	s.settingsSaves = append(s.settingsSaves, copied)
	return nil
}

func (s *fakeStore) CreateGrab(ctx context.Context, grab *models.TicketGrab) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	grab.ID = fmt.Sprintf("grab%d", s.nextID)
	copied := *grab
	s.grabs[grab.ID] = &copied
	return nil
}

func (s *fakeStore) DeleteGrab(ctx context.Context, grabID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grabs[grabID]; !ok {
		return fmt.Errorf("grab %s: not found", grabID)
	}
	delete(s.grabs, grabID)
	s.deletedGrabs = append(s.deletedGrabs, grabID)
	return nil
}

func (s *fakeStore) SetGrabPaymentURL(ctx context.Context, grabID, paymentURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	grab, ok := s.grabs[grabID]
	if !ok {
		return fmt.Errorf("grab %s: not found", grabID)
	}
	grab.PaymentURL = paymentURL
	return nil
}

func (s *fakeStore) GrabsForAccount(ctx context.Context, eventURL, accountID string) ([]*models.TicketGrab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []*models.TicketGrab
	for _, g := range s.grabs {
		if g.EventURL == eventURL && g.AccountID == accountID {
			matched = append(matched, g)
		}
	}
	return matched, nil
}

func (s *fakeStore) AllGrabs(ctx context.Context) ([]*models.TicketGrab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*models.TicketGrab, 0, len(s.grabs))
	for _, g := range s.grabs {
		all = append(all, g)
	}
	return all, nil
}

func (s *fakeStore) ActiveProxy(ctx context.Context) (*models.Proxy, error) {
	return nil, nil
}

func (s *fakeStore) grabCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.grabs)
}
