package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shibob53/webook-scraper/browser"
	"github.com/shibob53/webook-scraper/monitoring"
	"github.com/shibob53/webook-scraper/realtime"
)

// Refresher re-extracts the seat map on a fixed cadence so the shared pool
// tracks seats freed by other buyers' expired holds. It uses its own scratch
// page with heavy resources blocked, leaving worker pages alone.
type Refresher struct {
	driver    browser.Driver
	inventory *InventoryCache
	emitter   *realtime.Emitter
	eventURL  string
	interval  time.Duration
}

func NewRefresher(
	driver browser.Driver,
	inventory *InventoryCache,
	emitter *realtime.Emitter,
	eventURL string,
	interval time.Duration,
) *Refresher {
	return &Refresher{
		driver:    driver,
		inventory: inventory,
		emitter:   emitter,
		eventURL:  eventURL,
		interval:  interval,
	}
}

// Run refreshes until the context is cancelled. Individual cycle failures
// are reported and skipped; the next tick tries again.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := r.refreshOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			monitoring.TrackInventoryRefresh("error")
			r.emitter.Emit(realtime.KindWarning, fmt.Sprintf("inventory refresh failed: %v", err))
			continue
		}
		monitoring.TrackInventoryRefresh("ok")
	}
}

func (r *Refresher) refreshOnce(ctx context.Context) error {
	page, err := r.driver.NewPage(ctx, browser.BlockHeavyResources())
	if err != nil {
		return fmt.Errorf("open refresh page: %w", err)
	}
	defer page.Close()

	bookURL := strings.TrimRight(r.eventURL, "/") + "/book"
	if err := page.Navigate(ctx, bookURL); err != nil {
		return fmt.Errorf("%w: open booking page: %v", ErrNavigationTimeout, err)
	}

	return r.inventory.Refresh(ctx, page)
}
