package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shibob53/webook-scraper/browser"
	"github.com/shibob53/webook-scraper/models"
	"github.com/shibob53/webook-scraper/monitoring"
	"github.com/shibob53/webook-scraper/realtime"
	"github.com/shibob53/webook-scraper/utils"
)

// EngineStore is the persistence surface the engine drives.
type EngineStore interface {
	ActiveAccounts(ctx context.Context) ([]*models.Account, error)
	SaveAccountProgress(ctx context.Context, account *models.Account) error
	ResetAccountProgress(ctx context.Context) error
	LoadSettings(ctx context.Context) (*models.Settings, error)
	SaveSettings(ctx context.Context, settings *models.Settings) error
	GrabsForAccount(ctx context.Context, eventURL, accountID string) ([]*models.TicketGrab, error)
	ActiveProxy(ctx context.Context) (*models.Proxy, error)
}

type authenticator interface {
	EnsureSession(ctx context.Context, page browser.Page, account *models.Account) error
}

type Reserver interface {
	Attempt(ctx context.Context, page browser.Page, account *models.Account, remaining int) (int, error)
}

// Status is a point-in-time snapshot for the dashboard.
type Status struct {
	State          string `json:"state"`
	EventURL       string `json:"event_url"`
	FreeInventory  int    `json:"free_inventory"`
	TicketsSecured int    `json:"tickets_secured"`
	ActiveWorkers  int    `json:"active_workers"`
}

// Engine owns the acquisition run: it seeds per-account quotas from persisted
// grabs, fans accounts out over a bounded worker pool, and mediates every
// run-state change. Only one run is live at a time.
type Engine struct {
	store     EngineStore
	driver    browser.Driver
	inventory *InventoryCache
	auth      authenticator
	sweeper   *Sweeper
	emitter   *realtime.Emitter

	newReserver     func(settings *models.Settings) Reserver
	workerPause     time.Duration
	refreshInterval time.Duration

	mu          sync.Mutex
	state       models.RunState
	cancel      context.CancelFunc
	done        chan struct{}
	settings    *models.Settings
	lastRecheck time.Time

	progressMu sync.Mutex
	counters   map[string]int
	pages      map[string]browser.Page
}

func NewEngine(
	store EngineStore,
	driver browser.Driver,
	inventory *InventoryCache,
	auth authenticator,
	sweeper *Sweeper,
	emitter *realtime.Emitter,
	newReserver func(settings *models.Settings) Reserver,
	workerPause time.Duration,
	refreshInterval time.Duration,
) *Engine {
	return &Engine{
		store:           store,
		driver:          driver,
		inventory:       inventory,
		auth:            auth,
		sweeper:         sweeper,
		emitter:         emitter,
		newReserver:     newReserver,
		workerPause:     workerPause,
		refreshInterval: refreshInterval,
		state:           models.StateStopped,
		counters:        map[string]int{},
		pages:           map[string]browser.Page{},
	}
}

// Start begins a fresh run from the first account. Per-account quotas are
// still seeded from persisted grabs, so a restart never over-books.
func (e *Engine) Start(ctx context.Context) error {
	return e.begin(ctx, false)
}

// Resume continues a stopped run from the account after the last one that
// made progress.
func (e *Engine) Resume(ctx context.Context) error {
	return e.begin(ctx, true)
}

func (e *Engine) begin(ctx context.Context, resume bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := models.Transition(e.state, models.StateRunning); err != nil {
		return err
	}

	settings, err := e.store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	if settings.EventURL == "" {
		return errors.New("engine: no event url configured")
	}

	accounts, err := e.store.ActiveAccounts(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return errors.New("engine: no active accounts")
	}

	if err := e.seedCounters(ctx, settings, accounts); err != nil {
		return err
	}

	if settings.UseProxies {
		proxy, err := e.store.ActiveProxy(ctx)
		if err != nil {
			return err
		}
		if proxy != nil {
			e.driver.SetProxy(proxy.URL())
			if err := e.driver.Restart(ctx); err != nil {
				return fmt.Errorf("restart browser with proxy: %w", err)
			}
		}
	}

	e.inventory.SetPriceBounds(settings.MinPrice, settings.MaxPrice)

	if resume {
		accounts = rotateFrom(accounts, settings.LastUsedAccountID)
	}

	settings.Stopped = false
	if err := e.store.SaveSettings(ctx, settings); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.state = models.StateRunning
	e.cancel = cancel
	e.done = make(chan struct{})
	e.settings = settings

	go e.run(runCtx, settings, accounts)

	e.emitter.Emit(realtime.KindInfo, fmt.Sprintf(
		"engine running: %d account(s), concurrency %d, target %d ticket(s) each",
		len(accounts), settings.Concurrency, settings.MaxTickets))
	return nil
}

// Stop halts the run cooperatively: the stopped flag is persisted first so a
// crash mid-stop still comes back stopped, then workers are cancelled and
// their pages torn down.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if err := models.Transition(e.state, models.StateStopped); err != nil {
		e.mu.Unlock()
		return err
	}

	e.state = models.StateStopped
	if e.settings != nil {
		e.settings.Stopped = true
		if err := e.store.SaveSettings(ctx, e.settings); err != nil {
			e.emitter.Emit(realtime.KindError, fmt.Sprintf("persist stop flag: %v", err))
		}
	}
	e.cancel()
	done := e.done
	e.mu.Unlock()

	e.closeAllPages()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.emitter.Emit(realtime.KindInfo, "engine stopped")
	return nil
}

// Reset discards all progress and starts over: counters zeroed, the resume
// marker cleared, and the browser restarted to drop every live session.
func (e *Engine) Reset(ctx context.Context) error {
	if e.IsRunning() {
		if err := e.Stop(ctx); err != nil {
			return err
		}
	}

	if err := e.store.ResetAccountProgress(ctx); err != nil {
		return err
	}

	settings, err := e.store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	settings.LastUsedAccountID = ""
	settings.Stopped = true
	if err := e.store.SaveSettings(ctx, settings); err != nil {
		return err
	}

	e.progressMu.Lock()
	e.counters = map[string]int{}
	e.progressMu.Unlock()

	if err := e.driver.Restart(ctx); err != nil {
		return fmt.Errorf("restart browser: %w", err)
	}

	e.emitter.Emit(realtime.KindInfo, "engine reset")
	return e.Start(ctx)
}

func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == models.StateRunning
}

func (e *Engine) FreeInventoryCount() int {
	return e.inventory.FreeCount()
}

// CurrentStatus snapshots the run for the dashboard.
func (e *Engine) CurrentStatus() Status {
	e.mu.Lock()
	state := e.state
	eventURL := ""
	if e.settings != nil {
		eventURL = e.settings.EventURL
	}
	e.mu.Unlock()

	e.progressMu.Lock()
	secured := 0
	for _, n := range e.counters {
		secured += n
	}
	workers := len(e.pages)
	e.progressMu.Unlock()

	return Status{
		State:          state.String(),
		EventURL:       eventURL,
		FreeInventory:  e.inventory.FreeCount(),
		TicketsSecured: secured,
		ActiveWorkers:  workers,
	}
}

// CheckHoldTokens fires from a minute cron, but the settings' recheck
// interval decides how often it actually sweeps. Each executed sweep evicts
// lapsed holds and, when a run is live, re-seeds the per-account quota
// counters from the grabs that survived, so swept holds free their quota for
// the next cycle. Deleted grabs are never recreated here.
func (e *Engine) CheckHoldTokens(ctx context.Context) error {
	settings, err := e.store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	interval := time.Duration(settings.RecheckInterval) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	e.mu.Lock()
	due := e.lastRecheck.IsZero() || time.Since(e.lastRecheck) >= interval
	if due {
		e.lastRecheck = time.Now()
	}
	e.mu.Unlock()
	if !due {
		return nil
	}

	if _, err := e.sweeper.Sweep(ctx); err != nil {
		return err
	}
	if !e.IsRunning() {
		return nil
	}

	accounts, err := e.store.ActiveAccounts(ctx)
	if err != nil {
		return err
	}
	return e.seedCounters(ctx, settings, accounts)
}

// seedCounters rebuilds the per-account quota counters from persisted grabs.
func (e *Engine) seedCounters(ctx context.Context, settings *models.Settings, accounts []*models.Account) error {
	counters := make(map[string]int, len(accounts))
	for _, account := range accounts {
		grabs, err := e.store.GrabsForAccount(ctx, settings.EventURL, account.ID)
		if err != nil {
			return err
		}
		total := 0
		for _, grab := range grabs {
			total += grab.TicketCount()
		}
		counters[account.ID] = total
	}

	e.progressMu.Lock()
	e.counters = counters
	e.progressMu.Unlock()
	return nil
}

func (e *Engine) run(ctx context.Context, settings *models.Settings, accounts []*models.Account) {
	defer close(e.done)

	rsv := e.newReserver(settings)

	if e.probeSeatMode(ctx, settings) {
		refresher := NewRefresher(e.driver, e.inventory, e.emitter, settings.EventURL, e.refreshInterval)
		go refresher.Run(ctx)
	}

	var g errgroup.Group
	g.SetLimit(settings.Concurrency)
	for _, account := range accounts {
		g.Go(func() error {
			e.worker(ctx, settings, rsv, account)
			return nil
		})
	}
	_ = g.Wait()

	// Natural completion: every account hit its quota or bailed. A stop
	// request lands here too, but then the state is already Stopped.
	e.mu.Lock()
	if e.state == models.StateRunning {
		e.state = models.StateStopped
		settings.Stopped = true
		if err := e.store.SaveSettings(context.Background(), settings); err != nil {
			e.emitter.Emit(realtime.KindError, fmt.Sprintf("persist completion: %v", err))
		}
		e.emitter.Emit(realtime.KindInfo, "engine finished: all workers done")
	}
	e.mu.Unlock()
}

// probeSeatMode opens a scratch page to decide whether this event sells
// through a seating chart, and primes the shared pool when it does.
func (e *Engine) probeSeatMode(ctx context.Context, settings *models.Settings) bool {
	page, err := e.driver.NewPage(ctx, browser.BlockHeavyResources())
	if err != nil {
		e.emitter.Emit(realtime.KindWarning, fmt.Sprintf("seat mode probe: %v", err))
		return false
	}
	defer page.Close()

	if err := page.Navigate(ctx, bookingURL(settings.EventURL)); err != nil {
		e.emitter.Emit(realtime.KindWarning, fmt.Sprintf("seat mode probe: %v", err))
		return false
	}

	seatMode, err := UsesSeatWidget(ctx, page)
	if err != nil || !seatMode {
		return false
	}

	if err := e.inventory.Refresh(ctx, page); err != nil {
		e.emitter.Emit(realtime.KindWarning, fmt.Sprintf("initial inventory refresh: %v", err))
	}
	return true
}

func (e *Engine) worker(ctx context.Context, settings *models.Settings, rsv Reserver, account *models.Account) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		remaining := settings.MaxTickets - e.counter(account.ID)
		if remaining <= 0 {
			e.emitter.Emit(realtime.KindInfo, fmt.Sprintf("account %s reached its quota", account.Email))
			return
		}

		err := e.cycle(ctx, settings, rsv, account, remaining)
		switch {
		case err == nil:
			monitoring.TrackWorkerCycle("ok")
		case errors.Is(err, context.Canceled):
			return
		case errors.Is(err, ErrAuthFailure):
			// Covers throttled logins too; the next cycle retries with a
			// fresh page once the pause elapses.
			monitoring.TrackWorkerCycle("auth_failure")
			e.emitter.Emit(realtime.KindWarning,
				fmt.Sprintf("account %s login failed, retrying: %v", account.Email, err))
		case errors.Is(err, ErrCheckoutStall), errors.Is(err, ErrClaimRejected):
			monitoring.TrackWorkerCycle("retry")
			e.emitter.Emit(realtime.KindWarning,
				fmt.Sprintf("account %s cycle failed, retrying: %v", account.Email, err))
		default:
			monitoring.TrackWorkerCycle("error")
			e.emitter.Emit(realtime.KindWarning,
				fmt.Sprintf("account %s cycle failed: %v", account.Email, err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.workerPause):
		}
	}
}

// cycle is one full acquisition pass: fresh page, authenticated session, one
// reservation attempt, progress persisted.
func (e *Engine) cycle(ctx context.Context, settings *models.Settings, rsv Reserver, account *models.Account, remaining int) error {
	page, err := e.driver.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}

	key, _ := utils.GenerateCode(4)
	e.registerPage(key, page)
	defer func() {
		e.unregisterPage(key)
		page.Close()
	}()

	if err := e.auth.EnsureSession(ctx, page, account); err != nil {
		return err
	}

	got, err := rsv.Attempt(ctx, page, account, remaining)
	if got > 0 {
		e.recordProgress(ctx, settings, account, got)
	}
	return err
}

func (e *Engine) recordProgress(ctx context.Context, settings *models.Settings, account *models.Account, got int) {
	e.progressMu.Lock()
	e.counters[account.ID] += got
	account.TicketsGrabbed = e.counters[account.ID]
	e.progressMu.Unlock()

	if err := e.store.SaveAccountProgress(ctx, account); err != nil {
		e.emitter.Emit(realtime.KindError, fmt.Sprintf("persist progress for %s: %v", account.Email, err))
	}

	e.mu.Lock()
	settings.LastUsedAccountID = account.ID
	if err := e.store.SaveSettings(ctx, settings); err != nil {
		e.emitter.Emit(realtime.KindError, fmt.Sprintf("persist resume marker: %v", err))
	}
	e.mu.Unlock()
}

func (e *Engine) counter(accountID string) int {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	return e.counters[accountID]
}

func (e *Engine) registerPage(key string, page browser.Page) {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	e.pages[key] = page
}

func (e *Engine) unregisterPage(key string) {
	e.progressMu.Lock()
	defer e.progressMu.Unlock()
	delete(e.pages, key)
}

func (e *Engine) closeAllPages() {
	e.progressMu.Lock()
	pages := make([]browser.Page, 0, len(e.pages))
	for _, page := range e.pages {
		pages = append(pages, page)
	}
	e.pages = map[string]browser.Page{}
	e.progressMu.Unlock()

	for _, page := range pages {
		page.Close()
	}
}

// rotateFrom reorders accounts so iteration begins just after the marker
// account. An unknown or empty marker keeps the original order.
func rotateFrom(accounts []*models.Account, lastUsedID string) []*models.Account {
	if lastUsedID == "" {
		return accounts
	}
	for i, account := range accounts {
		if account.ID == lastUsedID {
			rotated := make([]*models.Account, 0, len(accounts))
			rotated = append(rotated, accounts[i+1:]...)
			rotated = append(rotated, accounts[:i+1]...)
			return rotated
		}
	}
	return accounts
}

func bookingURL(eventURL string) string {
	for len(eventURL) > 0 && eventURL[len(eventURL)-1] == '/' {
		eventURL = eventURL[:len(eventURL)-1]
	}
	return eventURL + "/book"
}
