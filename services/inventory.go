package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/shibob53/webook-scraper/browser"
	"github.com/shibob53/webook-scraper/models"
	"github.com/shibob53/webook-scraper/monitoring"
)

// seatFrameURLFragment identifies the seating widget iframe on the booking page.
const seatFrameURLFragment = "seatsio"

const categoriesJS = `(() => {
	const out = [];
	chart.categories.categories.forEach((category) => {
		out.push({
			label: category.label,
			price: category.categoryPricing.categoryPricing.price,
			key: category.key,
			color: category.color,
		});
	});
	return out;
})()`

const seatsJS = `(() => {
	const out = [];
	for (const [key, value] of chart.objectStateCache.entries()) {
		out.push({
			status: value.isSelectable.value ? 'free' : 'reserved',
			seatId: key.seatId,
			entrance: !!key.entrance,
			accessible: !!key.accessible,
			restrictedView: !!key.restrictedView,
			type: key.type,
			categoryKey: key.category ? key.category.key : -1,
		});
	}
	return out;
})()`

const hasSeatWidgetJS = `!!document.querySelector('iframe[title="seating chart"]')`

// InventoryCache is the shared pool of claimable seats. One instance is
// shared by every worker; all access goes through the mutex so a seat handed
// to one worker is gone for the rest.
type InventoryCache struct {
	mu         sync.Mutex
	seats      []models.Seat
	categories map[int]models.Category
	claimed    map[string]models.Seat
	minPrice   decimal.Decimal
	maxPrice   decimal.Decimal
}

func NewInventoryCache() *InventoryCache {
	return &InventoryCache{
		categories: map[int]models.Category{},
		claimed:    map[string]models.Seat{},
	}
}

// SetPriceBounds installs the price window applied on the next Refresh.
// A zero max disables the upper bound.
func (c *InventoryCache) SetPriceBounds(min, max decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minPrice = min
	c.maxPrice = max
}

// UsesSeatWidget reports whether the open booking page carries a seating
// chart. Events without one sell through plain ticket-type listings instead.
func UsesSeatWidget(ctx context.Context, page browser.Page) (bool, error) {
	var present bool
	if err := page.Evaluate(ctx, hasSeatWidgetJS, &present); err != nil {
		return false, err
	}
	return present, nil
}

// Refresh re-extracts the full seat map from the widget and replaces the
// cached pool wholesale. Seats handed out by Claim stay out of the pool even
// when the widget still reports them free, which it does until their hold
// lands; they re-enter only after Restore or Release.
func (c *InventoryCache) Refresh(ctx context.Context, page browser.Page) error {
	var rawCategories []models.Category
	if err := page.EvaluateInFrame(ctx, seatFrameURLFragment, categoriesJS, &rawCategories); err != nil {
		return fmt.Errorf("%w: categories: %v", ErrInventoryExtraction, err)
	}

	var rawSeats []models.Seat
	if err := page.EvaluateInFrame(ctx, seatFrameURLFragment, seatsJS, &rawSeats); err != nil {
		return fmt.Errorf("%w: seats: %v", ErrInventoryExtraction, err)
	}

	if len(rawCategories) == 0 || len(rawSeats) == 0 {
		return fmt.Errorf("%w: widget returned %d categories, %d seats",
			ErrInventoryExtraction, len(rawCategories), len(rawSeats))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	categories := make(map[int]models.Category, len(rawCategories))
	for _, category := range rawCategories {
		if category.InBounds(c.minPrice, c.maxPrice) {
			categories[category.Key] = category
		}
	}

	seats := make([]models.Seat, 0, len(rawSeats))
	for _, seat := range rawSeats {
		if seat.Status != models.SeatStatusFree || seat.Type != models.SeatTypeSeat {
			continue
		}
		if _, ok := categories[seat.CategoryKey]; !ok {
			continue
		}
		if _, ok := c.claimed[seat.SeatID]; ok {
			continue
		}
		seats = append(seats, seat)
	}

	c.categories = categories
	c.seats = seats
	monitoring.SetFreeInventory(len(seats))
	return nil
}

// Claim removes up to n seats from the pool and returns them with their
// category pricing attached. An empty result means the pool is exhausted
// until the next refresh.
func (c *InventoryCache) Claim(n int) []models.SeatDetail {
	if n <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n > len(c.seats) {
		n = len(c.seats)
	}
	if n == 0 {
		return nil
	}

	claimed := make([]models.SeatDetail, 0, n)
	for _, seat := range c.seats[:n] {
		category := c.categories[seat.CategoryKey]
		c.claimed[seat.SeatID] = seat
		claimed = append(claimed, models.SeatDetail{
			SeatID: seat.SeatID,
			Label:  category.Label,
			Price:  category.Price,
			Color:  category.Color,
		})
	}
	c.seats = c.seats[n:]

	monitoring.TrackClaimedSeats(len(claimed))
	monitoring.SetFreeInventory(len(c.seats))
	return claimed
}

// Restore returns previously claimed seats to the front of the pool, used
// when the remote side rejects a selection.
func (c *InventoryCache) Restore(details []models.SeatDetail) {
	if len(details) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	restored := make([]models.Seat, 0, len(details)+len(c.seats))
	for _, detail := range details {
		seat, ok := c.claimed[detail.SeatID]
		if !ok {
			continue
		}
		delete(c.claimed, detail.SeatID)
		restored = append(restored, seat)
	}
	c.seats = append(restored, c.seats...)
	monitoring.SetFreeInventory(len(c.seats))
}

// Release forgets claimed seats without putting them back in the pool, used
// when their grab is dropped and the hold is left to lapse remotely. A later
// refresh readmits the seats once the widget reports them free again.
func (c *InventoryCache) Release(details []models.SeatDetail) {
	if len(details) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, detail := range details {
		delete(c.claimed, detail.SeatID)
	}
}

// FreeCount reports the number of claimable seats left in the pool.
func (c *InventoryCache) FreeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seats)
}

// CategoryCount reports how many priced categories survived the last refresh.
func (c *InventoryCache) CategoryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.categories)
}
